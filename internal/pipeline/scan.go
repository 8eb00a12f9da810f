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

package pipeline

import (
	"fmt"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
)

// ScanEventKind discriminates ScanEvent's sum type, the declared-external
// scanner contract of the design notes: the scanner owns filesystem
// traversal and diffing against the prior state; the pipeline only folds
// its verdicts into the BlockStore.
type ScanEventKind int

// Scan event kinds.
const (
	DiskDiscovered ScanEventKind = iota
	FileAdded
	FileRemoved
	FileMoved
	FileContentSuspectChanged
)

// ScanEvent is one diff the scanner reports between the filesystem and the
// BlockStore's last-known view.
type ScanEvent struct {
	Kind     ScanEventKind
	DiskName string

	// Path is the file's current path for FileAdded/FileRemoved/
	// FileContentSuspectChanged, and the new path for FileMoved.
	Path string
	// OldPath is set only for FileMoved.
	OldPath string

	Size      int64
	MtimeSec  int64
	MtimeNsec int32
	Inode     uint64
	Physical  uint64
}

// ApplyScan folds a batch of scan events into the store, bringing it to
// the state sync expects as its precondition: every file the scanner still
// sees present, with fresh NEW/CHG blocks wherever content changed.
func ApplyScan(store *blockstore.Store, events []ScanEvent) error {
	for _, ev := range events {
		if err := applyOne(store, ev); err != nil {
			return err
		}
	}
	return nil
}

func applyOne(store *blockstore.Store, ev ScanEvent) error {
	switch ev.Kind {
	case DiskDiscovered:
		if _, ok := store.DiskByName(ev.DiskName); !ok {
			if _, err := store.AddDisk(ev.DiskName, ""); err != nil {
				return err
			}
		}
		return nil

	case FileAdded:
		d, ok := store.DiskByName(ev.DiskName)
		if !ok {
			return fmt.Errorf("pipeline: scan: unknown disk %q", ev.DiskName)
		}
		_, err := store.FileInsert(d, ev.Path, ev.Size, ev.MtimeSec, ev.MtimeNsec, ev.Inode, ev.Physical)
		return err

	case FileRemoved:
		d, f, err := lookupFile(store, ev.DiskName, ev.Path)
		if err != nil {
			return err
		}
		return store.FileRemove(d, f)

	case FileMoved:
		d, f, err := lookupFile(store, ev.DiskName, ev.OldPath)
		if err != nil {
			return err
		}
		return store.FileRename(d, f, ev.Path)

	case FileContentSuspectChanged:
		d, ok := store.DiskByName(ev.DiskName)
		if !ok {
			return fmt.Errorf("pipeline: scan: unknown disk %q", ev.DiskName)
		}
		if f, ok := d.FileByPath(ev.Path); ok {
			if err := store.FileRemove(d, f); err != nil {
				return err
			}
		}
		_, err := store.FileInsert(d, ev.Path, ev.Size, ev.MtimeSec, ev.MtimeNsec, ev.Inode, ev.Physical)
		return err

	default:
		return fmt.Errorf("pipeline: scan: unknown event kind %d", ev.Kind)
	}
}

func lookupFile(store *blockstore.Store, diskName, path string) (*blockstore.Disk, *blockstore.File, error) {
	d, ok := store.DiskByName(diskName)
	if !ok {
		return nil, nil, fmt.Errorf("pipeline: scan: unknown disk %q", diskName)
	}
	f, ok := d.FileByPath(path)
	if !ok {
		return nil, nil, fmt.Errorf("pipeline: scan: unknown file %q on disk %q", path, diskName)
	}
	return d, f, nil
}
