/*
 * SnapRAID parity core
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package blockstore holds the in-memory state of the array: per-disk
// block vectors, file lists, deleted-ghost lists, parity-slot assignment
// and the info array. It has no knowledge of parity or data file I/O; the
// pipeline package drives those against the state this package tracks.
package blockstore

// HashSize is the width in bytes of a block's content hash.
const HashSize = 16

// Hash is the per-block content tag, an opaque keyed hash computed by the
// collaborator named in spec §1 ("memhash(seed, data) -> 16-byte tag").
type Hash [HashSize]byte

// BlockState is the state of one file block, per spec §3. DELETED blocks
// are not represented here: they are ghosts held on Disk.Deleted once a
// file is removed, decoupled from any owning File.
type BlockState int

// Block states.
const (
	// StateBlk: hash current, parity current. The steady state.
	StateBlk BlockState = iota
	// StateNew: block occupies a previously-empty parity slot; hash not
	// yet bound, parity slot is logically zero.
	StateNew
	// StateChg: block occupies a slot whose previous data still backs a
	// valid parity; Hash is the old content's hash.
	StateChg
)

func (s BlockState) String() string {
	switch s {
	case StateBlk:
		return "blk"
	case StateNew:
		return "new"
	case StateChg:
		return "chg"
	default:
		return "unknown"
	}
}

// Block is one file-block record: its parity slot, state and (for
// BLK/CHG) the hash bound to it.
type Block struct {
	ParityPos uint32
	State     BlockState
	Hash      Hash
}

// Deleted is a ghost entry: the record kept for a parity slot after its
// owning file was removed, so the slot's pre-image hash stays available
// until the next sync folds the slot back to empty.
type Deleted struct {
	ParityPos uint32
	Hash      Hash
}
