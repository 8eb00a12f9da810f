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
	"path/filepath"
	"sync"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
	"github.com/amadvance/snapraid-sub000/internal/content"
	"github.com/amadvance/snapraid-sub000/internal/handle"
	"github.com/amadvance/snapraid-sub000/internal/parityfile"
)

// Array wires together everything one sync/check/fix/scrub run needs: the
// BlockStore, the open parity files (one per level) and the data-disk
// directories, plus the cooperative cancellation and autosave state the
// slot loop checks every iteration.
type Array struct {
	Store *blockstore.Store
	Meta  content.Meta

	ContentPaths []string
	DiskDirs     map[string]string // disk name -> root directory on that data disk
	XLSPatch     bool

	Parities []*parityfile.File

	Clock         Clock
	Interrupt     *Interrupt
	AutosaveBytes int64

	// Progress, if non-nil, is advanced once per processed slot by every
	// driving method (Sync/Check/Fix/Scrub/Rehash).
	Progress *Progress

	bytesSinceSave int64

	// handlesMu guards readHandles, touched concurrently by the
	// per-disk read fan-out Sync/Check/Fix/Scrub/Rehash run each slot.
	handlesMu   sync.Mutex
	readHandles map[string]*openDataHandle
}

type openDataHandle struct {
	file *blockstore.File
	h    *handle.Handle
}

// OpenArray creates the parity files (sized to the store's currently
// allocated extent) and returns a ready-to-drive Array.
func OpenArray(store *blockstore.Store, meta content.Meta, contentPaths, parityPaths []string, diskDirs map[string]string, xlsPatch bool, autosaveBytes int64, clock Clock) (*Array, error) {
	if len(parityPaths) == 0 {
		return nil, fmt.Errorf("pipeline: no parity paths configured")
	}
	if clock == nil {
		clock = SystemClock
	}

	blockSize := int64(store.BlockSize)
	initial := int64(store.ParityAllocatedSize()) * blockSize

	a := &Array{
		Store:         store,
		Meta:          meta,
		ContentPaths:  contentPaths,
		DiskDirs:      diskDirs,
		XLSPatch:      xlsPatch,
		Clock:         clock,
		Interrupt:     NewInterrupt(),
		AutosaveBytes: autosaveBytes,
		readHandles:   make(map[string]*openDataHandle),
	}
	for _, p := range parityPaths {
		pf, err := parityfile.Create(p, blockSize, initial)
		if err != nil {
			a.closeParities()
			return nil, err
		}
		a.Parities = append(a.Parities, pf)
	}
	return a, nil
}

// Level returns the number of parity levels this array was opened with.
func (a *Array) Level() int { return len(a.Parities) }

func (a *Array) closeParities() {
	for _, pf := range a.Parities {
		_ = pf.Close()
	}
}

// Close releases every open parity file and cached data handle.
func (a *Array) Close() error {
	var firstErr error
	for _, pf := range a.Parities {
		if err := pf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.handlesMu.Lock()
	defer a.handlesMu.Unlock()
	for _, oh := range a.readHandles {
		if err := oh.h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.readHandles = make(map[string]*openDataHandle)
	return firstErr
}

// Save persists the current store state to every configured content file
// path and fsyncs every parity file, the durability contract sync/fix must
// honor both on a clean finish and on every autosave checkpoint.
func (a *Array) Save() error {
	for _, pf := range a.Parities {
		if err := pf.Sync(); err != nil {
			return err
		}
	}
	if err := content.Save(a.Store, a.Meta, a.ContentPaths); err != nil {
		return err
	}
	a.bytesSinceSave = 0
	return nil
}

// noteBytesProcessed accrues bytes toward the autosave threshold and
// performs the checkpoint when it's crossed.
func (a *Array) noteBytesProcessed(n int64) error {
	if a.AutosaveBytes <= 0 {
		return nil
	}
	a.bytesSinceSave += n
	if a.bytesSinceSave >= a.AutosaveBytes {
		return a.Save()
	}
	return nil
}

func (a *Array) dataPath(disk *blockstore.Disk, f *blockstore.File) string {
	return filepath.Join(a.DiskDirs[disk.Name], f.Path)
}

// readHandleFor returns a Handle open for reading f on disk, reusing the
// cached handle for that disk if it already refers to the same file
// (consecutive slots very often belong to the same file). Safe to call
// concurrently from the per-disk read fan-out: distinct disks touch
// distinct map keys, but the map itself still needs a lock.
func (a *Array) readHandleFor(disk *blockstore.Disk, f *blockstore.File) (*handle.Handle, error) {
	a.handlesMu.Lock()
	if oh, ok := a.readHandles[disk.Name]; ok {
		if oh.file == f {
			a.handlesMu.Unlock()
			return oh.h, nil
		}
		_ = oh.h.Close()
		delete(a.readHandles, disk.Name)
	}
	a.handlesMu.Unlock()

	h, err := handle.Open(a.dataPath(disk, f), f.Size, a.XLSPatch)
	if err != nil {
		return nil, err
	}

	a.handlesMu.Lock()
	a.readHandles[disk.Name] = &openDataHandle{file: f, h: h}
	a.handlesMu.Unlock()
	return h, nil
}

// closeReadHandle drops any cached read handle for a disk, used once fix
// needs a read-write Handle for the same file instead.
func (a *Array) closeReadHandle(disk *blockstore.Disk) {
	a.handlesMu.Lock()
	defer a.handlesMu.Unlock()
	if oh, ok := a.readHandles[disk.Name]; ok {
		_ = oh.h.Close()
		delete(a.readHandles, disk.Name)
	}
}

// slotEntry is one disk's view of one parity slot.
type slotEntry struct {
	disk       *blockstore.Disk
	file       *blockstore.File
	blockIdx   int
	block      *blockstore.Block
	deleted    *blockstore.Deleted
}

func slotEntries(store *blockstore.Store, pos int) []slotEntry {
	disks := store.Disks()
	out := make([]slotEntry, len(disks))
	for j, d := range disks {
		blk, idx, del, f := d.SlotAt(pos)
		out[j] = slotEntry{disk: d, file: f, blockIdx: idx, block: blk, deleted: del}
	}
	return out
}
