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

package blockstore

// slotKind tags what occupies one entry of a Disk's block vector, the
// "compact tagged index" called for in the design notes: identity lives in
// the File/Deleted lists, not in the slot vector itself.
type slotKind int

const (
	slotEmpty slotKind = iota
	slotDeleted
	slotFile
)

type slot struct {
	kind         slotKind
	deletedIdx   int // index into Disk.deleted, valid when kind==slotDeleted
	file         *File
	fileBlockIdx int // valid when kind==slotFile
}

// Disk is a named data disk: its block vector, its files (indexed three
// ways per the design notes) and its deleted-ghost list.
type Disk struct {
	Name     string
	Dir      string
	Position int

	blockArr []slot

	order   []FileID
	byID    map[FileID]*File
	byInode map[uint64]*File
	byPath  map[string]*File

	deleted []*Deleted

	freeHint  int
	nextFileID FileID
}

func newDisk(name, dir string, position int) *Disk {
	return &Disk{
		Name:     name,
		Dir:      dir,
		Position: position,
		byID:     make(map[FileID]*File),
		byInode:  make(map[uint64]*File),
		byPath:   make(map[string]*File),
	}
}

// Files returns the disk's files in insertion order.
func (d *Disk) Files() []*File {
	out := make([]*File, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.byID[id])
	}
	return out
}

// FileByInode looks up a file by its stored inode.
func (d *Disk) FileByInode(inode uint64) (*File, bool) {
	f, ok := d.byInode[inode]
	return f, ok
}

// FileByPath looks up a file by its relative path.
func (d *Disk) FileByPath(path string) (*File, bool) {
	f, ok := d.byPath[path]
	return f, ok
}

// Deleted returns the disk's ghost list.
func (d *Disk) Deleted() []*Deleted {
	out := make([]*Deleted, len(d.deleted))
	copy(out, d.deleted)
	return out
}

// Size returns the length of the disk's block vector (one past the
// highest slot ever allocated).
func (d *Disk) Size() int { return len(d.blockArr) }

// SlotAt reports what a disk has at a given parity position: the Block if
// a file occupies it, the Deleted ghost if one does, or neither if empty.
func (d *Disk) SlotAt(pos int) (blk *Block, fileBlockIdx int, del *Deleted, owner *File) {
	if pos < 0 || pos >= len(d.blockArr) {
		return nil, 0, nil, nil
	}
	s := d.blockArr[pos]
	switch s.kind {
	case slotFile:
		return &s.file.Blocks[s.fileBlockIdx], s.fileBlockIdx, nil, s.file
	case slotDeleted:
		return nil, 0, d.deleted[s.deletedIdx], nil
	default:
		return nil, 0, nil, nil
	}
}

// growTo extends the block vector with empty slots up to size n.
func (d *Disk) growTo(n int) {
	for len(d.blockArr) < n {
		d.blockArr = append(d.blockArr, slot{kind: slotEmpty})
	}
}

// allocateSlots scans forward from freeHint collecting n slots that are
// empty or deleted, growing the block vector as needed, and advances
// freeHint to one past the last slot it collected. It returns, for each
// collected position, the Deleted ghost occupying it (nil if it was
// empty) so the caller can bind CHG state and drop the ghost.
func (d *Disk) allocateSlots(n int) (positions []int, ghosts []*Deleted) {
	positions = make([]int, 0, n)
	ghosts = make([]*Deleted, 0, n)
	pos := d.freeHint
	for len(positions) < n {
		d.growTo(pos + 1)
		s := d.blockArr[pos]
		switch s.kind {
		case slotEmpty:
			positions = append(positions, pos)
			ghosts = append(ghosts, nil)
		case slotDeleted:
			positions = append(positions, pos)
			ghosts = append(ghosts, d.deleted[s.deletedIdx])
		default:
			// occupied, skip
		}
		pos++
	}
	d.freeHint = pos
	return positions, ghosts
}

// removeGhostAt drops the Deleted ghost at slot pos from the disk's ghost
// list, used when a CHG block reclaims a previously-deleted slot.
func (d *Disk) removeGhostAt(pos int) {
	s := d.blockArr[pos]
	if s.kind != slotDeleted {
		return
	}
	idx := s.deletedIdx
	last := len(d.deleted) - 1
	d.deleted[idx] = d.deleted[last]
	d.deleted = d.deleted[:last]
	if idx != last {
		// fix up the slot pointing at the ghost we moved into idx
		moved := d.deleted[idx]
		if mslot := d.blockArr[moved.ParityPos]; mslot.kind == slotDeleted {
			mslot.deletedIdx = idx
			d.blockArr[moved.ParityPos] = mslot
		}
	}
}

// addGhost appends a new Deleted ghost and marks the slot.
func (d *Disk) addGhost(pos int, hash Hash) {
	g := &Deleted{ParityPos: uint32(pos), Hash: hash}
	d.deleted = append(d.deleted, g)
	d.blockArr[pos] = slot{kind: slotDeleted, deletedIdx: len(d.deleted) - 1}
}

// setEmpty clears a slot outright (used for NEW blocks on removal, whose
// parity was never written).
func (d *Disk) setEmpty(pos int) {
	d.blockArr[pos] = slot{kind: slotEmpty}
}

// setFileSlot binds a slot to a file's block.
func (d *Disk) setFileSlot(pos int, f *File, fileBlockIdx int) {
	d.blockArr[pos] = slot{kind: slotFile, file: f, fileBlockIdx: fileBlockIdx}
}
