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

// Package content serializes and deserializes the BlockStore to the
// durable, line-oriented text content file described in spec §4.3 / §6,
// with the atomic-replace, fsync and signature-gate durability contract.
package content

import (
	"fmt"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
)

// MapEntry records one disk's persisted position assignment, so a reload
// never renumbers a live disk.
type MapEntry struct {
	DiskName string
	Position int
	UUID     string
}

// Meta is the content file's header metadata: everything that isn't part
// of the BlockStore proper.
type Meta struct {
	BlockSize uint32

	HashKind HashKind
	HashSeed []byte

	// PrevHashKind/PrevHashSeed are set only while a rehash migration is
	// in progress; Pipeline clears them once every block has been
	// rebound under HashKind.
	PrevHashKind HashKind
	PrevHashSeed []byte

	Maps []MapEntry
}

// Rehashing reports whether a hash-kind migration is in progress.
func (m Meta) Rehashing() bool { return m.PrevHashKind != "" }

func (m Meta) validate() error {
	if m.BlockSize == 0 {
		return fmt.Errorf("content: block size must be nonzero")
	}
	if !m.HashKind.valid() {
		return fmt.Errorf("content: invalid hash kind %q", m.HashKind)
	}
	if m.Rehashing() && !m.PrevHashKind.valid() {
		return fmt.Errorf("content: invalid prev hash kind %q", m.PrevHashKind)
	}
	return nil
}

// directive names, the first token of every content file line.
const (
	dirBlkSize      = "blksize"
	dirChecksum     = "checksum"
	dirPrevChecksum = "prevchecksum"
	dirMap          = "map"
	dirFile         = "file"
	dirBlk          = "blk"
	dirNew          = "new"
	dirChg          = "chg"
	dirOff          = "off"
	dirHole         = "hole"
	dirInfo         = "info"
	dirSign         = "sign"
)

func blockDirective(s blockstore.BlockState) (string, bool) {
	switch s {
	case blockstore.StateBlk:
		return dirBlk, true
	case blockstore.StateNew:
		return dirNew, true
	case blockstore.StateChg:
		return dirChg, true
	default:
		return "", false
	}
}

func stateForDirective(d string) (blockstore.BlockState, bool) {
	switch d {
	case dirBlk:
		return blockstore.StateBlk, true
	case dirNew:
		return blockstore.StateNew, true
	case dirChg:
		return blockstore.StateChg, true
	default:
		return 0, false
	}
}
