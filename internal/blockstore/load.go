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

import "fmt"

// ExplicitBlock is one block record as read back from a content file: its
// parity position, state and hash are all already decided, unlike
// FileInsert's fresh allocation which derives them from scratch.
type ExplicitBlock struct {
	ParityPos uint32
	State     BlockState
	Hash      Hash
}

// FileInsertExplicit rebuilds a File from a content file's recorded block
// positions and states, bypassing the scan-forward allocator: the content
// file already fixed every block's slot the last time it was saved, and
// reloading must reproduce that layout exactly rather than re-derive it.
func (s *Store) FileInsertExplicit(disk *Disk, path string, size int64, mtimeSec int64, mtimeNsec int32, inode, physical uint64, blocks []ExplicitBlock) (*File, error) {
	f := &File{
		id:        disk.nextFileID,
		disk:      disk,
		Path:      path,
		Size:      size,
		MtimeSec:  mtimeSec,
		MtimeNsec: mtimeNsec,
		Inode:     inode,
		Physical:  physical,
		Blocks:    make([]Block, len(blocks)),
	}
	disk.nextFileID++

	for i, b := range blocks {
		pos := int(b.ParityPos)
		disk.growTo(pos + 1)
		if existing := disk.blockArr[pos]; existing.kind == slotFile {
			return nil, fmt.Errorf("blockstore: position %d on disk %q already occupied by file %q", pos, disk.Name, existing.file.Path)
		}
		if disk.blockArr[pos].kind == slotDeleted {
			disk.removeGhostAt(pos)
		}
		f.Blocks[i] = Block{ParityPos: b.ParityPos, State: b.State, Hash: b.Hash}
		disk.setFileSlot(pos, f, i)
	}

	disk.order = append(disk.order, f.id)
	disk.byID[f.id] = f
	disk.byInode[inode] = f
	disk.byPath[path] = f

	return f, nil
}

// RestoreGhost reinstates a deleted-block ghost at an explicit parity
// position, used while reloading a content file's hole directives.
func (s *Store) RestoreGhost(disk *Disk, pos int, hash Hash) {
	disk.growTo(pos + 1)
	disk.addGhost(pos, hash)
}

// ClearGhost drops the deleted-block ghost at pos and marks the slot
// empty, used by sync once a slot's parity has been rewritten with the
// ghost's contribution as zero.
func (s *Store) ClearGhost(disk *Disk, pos int) {
	disk.removeGhostAt(pos)
	disk.setEmpty(pos)
}
