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

// Package scanner is a reference directory-walking implementation of the
// scanner collaborator pipeline.ApplyScan expects: it is explicitly a
// convenience default, not part of the core, and lives in its own package
// so it can be swapped for a different traversal/filter policy without
// touching the pipeline.
package scanner

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
	"github.com/amadvance/snapraid-sub000/internal/pipeline"
)

// Scan walks every disk's root directory and diffs what it finds against
// the store's current view, producing an ordered batch of ScanEvents:
// newly discovered disks, added/removed files, and files whose size or
// mtime no longer match the stored record (content suspect changed —
// sync will re-read and re-hash, not Scan). A renamed file shows up as a
// removal plus an addition; Scan never emits FileMoved.
func Scan(store *blockstore.Store, diskDirs map[string]string) ([]pipeline.ScanEvent, error) {
	var events []pipeline.ScanEvent

	names := make([]string, 0, len(diskDirs))
	for name := range diskDirs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		root := diskDirs[name]
		disk, ok := store.DiskByName(name)
		if !ok {
			events = append(events, pipeline.ScanEvent{Kind: pipeline.DiskDiscovered, DiskName: name})
			disk, _ = store.AddDisk(name, root)
		}

		found := make(map[string]bool)
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			found[rel] = true

			info, err := d.Info()
			if err != nil {
				return err
			}
			st, ok := info.Sys().(*syscall.Stat_t)
			if !ok {
				return fmt.Errorf("scanner: cannot read inode for %q", path)
			}

			if existing, ok := disk.FileByPath(rel); ok {
				if existing.Size != info.Size() || existing.MtimeSec != info.ModTime().Unix() {
					events = append(events, pipeline.ScanEvent{
						Kind:      pipeline.FileContentSuspectChanged,
						DiskName:  name,
						Path:      rel,
						Size:      info.Size(),
						MtimeSec:  info.ModTime().Unix(),
						MtimeNsec: int32(info.ModTime().Nanosecond()),
						Inode:     st.Ino,
					})
				}
				return nil
			}

			events = append(events, pipeline.ScanEvent{
				Kind:      pipeline.FileAdded,
				DiskName:  name,
				Path:      rel,
				Size:      info.Size(),
				MtimeSec:  info.ModTime().Unix(),
				MtimeNsec: int32(info.ModTime().Nanosecond()),
				Inode:     st.Ino,
			})
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("scanner: walking disk %q: %w", name, err)
		}

		for _, f := range disk.Files() {
			if !found[f.Path] {
				events = append(events, pipeline.ScanEvent{Kind: pipeline.FileRemoved, DiskName: name, Path: f.Path})
			}
		}
	}

	return events, nil
}
