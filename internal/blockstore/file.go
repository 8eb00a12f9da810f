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

// FileID identifies a File within its owning Disk, stable for the life of
// the file (survives rename, does not survive remove).
type FileID uint64

// File is one data-disk file: its path, logical size and its per-block
// state vector.
type File struct {
	id       FileID
	disk     *Disk
	Path     string
	Size     int64
	MtimeSec int64
	MtimeNsec int32
	Inode    uint64
	Physical uint64
	Blocks   []Block
}

// ID returns the file's stable identifier within its disk.
func (f *File) ID() FileID { return f.id }

// Disk returns the disk owning this file.
func (f *File) Disk() *Disk { return f.disk }

// BlockMax returns ceil(Size/BlockSize), the number of blocks the file
// occupies; equivalently len(f.Blocks).
func (f *File) BlockMax() int { return len(f.Blocks) }
