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
	"os"
	"sync/atomic"
	"syscall"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
	"github.com/amadvance/snapraid-sub000/internal/content"
	"github.com/amadvance/snapraid-sub000/internal/rs"
	"golang.org/x/sync/errgroup"
)

// SyncResult summarizes one Sync run.
type SyncResult struct {
	SlotsProcessed int
	BytesRead      int64
	Interrupted    bool
}

// Sync makes parity consistent with the current BlockStore and binds
// hashes to content for NEW/CHG blocks, per the algorithm of spec §4.6.1.
// It refuses to proceed past any slot where a data disk's file doesn't
// match the identity recorded at scan time, or where a BLK block's
// content no longer matches its bound hash: both indicate the array was
// not quiescent during the run, and sync (unlike check/fix) is
// intentionally brittle about that.
func (a *Array) Sync() (SyncResult, error) {
	store := a.Store
	blockSize := int64(store.BlockSize)
	blockmax := store.ParityAllocatedSize()

	for _, pf := range a.Parities {
		if err := pf.Resize(int64(blockmax) * blockSize); err != nil {
			return SyncResult{}, err
		}
	}

	var res SyncResult
	data := make([][]byte, 0)
	parityBufs := make([][]byte, a.Level())
	for i := range parityBufs {
		parityBufs[i] = make([]byte, blockSize)
	}

	for i := 0; i < blockmax; i++ {
		entries := slotEntries(store, i)

		needed := false
		for _, e := range entries {
			if e.deleted != nil || (e.block != nil && e.block.State != blockstore.StateBlk) {
				needed = true
				break
			}
		}
		if !needed {
			continue
		}

		data = data[:0]
		for range entries {
			data = append(data, make([]byte, blockSize))
		}
		var read int64
		var g errgroup.Group
		for j, e := range entries {
			j, e := j, e
			if e.block == nil {
				continue
			}
			g.Go(func() error {
				if err := a.syncReadBlock(e, data[j]); err != nil {
					return fmt.Errorf("disk %q: %w", e.disk.Name, err)
				}
				atomic.AddInt64(&read, blockSize)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return res, fmt.Errorf("pipeline: sync: slot %d: %w", i, err)
		}
		res.BytesRead += read

		for j := range parityBufs {
			for k := range parityBufs[j] {
				parityBufs[j][k] = 0
			}
		}
		if err := rs.Gen(a.Level(), data, parityBufs, int(blockSize)); err != nil {
			return res, fmt.Errorf("pipeline: sync: slot %d: %w", i, err)
		}
		for lvl, pf := range a.Parities {
			if err := pf.Write(int64(i), parityBufs[lvl]); err != nil {
				return res, fmt.Errorf("pipeline: sync: slot %d: writing parity level %d: %w", i, lvl, err)
			}
		}

		now := uint32(a.Clock.Now().Unix())
		for j, e := range entries {
			switch {
			case e.block != nil && e.block.State != blockstore.StateBlk:
				hash, err := content.Memhash(a.Meta.HashKind, a.Meta.HashSeed, data[j])
				if err != nil {
					return res, err
				}
				e.block.State = blockstore.StateBlk
				e.block.Hash = hash
			case e.deleted != nil:
				store.ClearGhost(e.disk, i)
			}
		}
		store.InfoSet(i, blockstore.MakeInfo(now, false, false, true))

		res.SlotsProcessed++
		a.reportProgress(blockSize * int64(len(entries)))
		if err := a.noteBytesProcessed(blockSize * int64(len(entries))); err != nil {
			return res, err
		}

		if a.Interrupt.Triggered() {
			res.Interrupted = true
			break
		}
	}

	if err := a.Save(); err != nil {
		return res, err
	}
	return res, nil
}

// syncReadBlock opens (or reuses) the data handle for e's file, verifies
// the file's on-disk identity still matches what was recorded at scan
// time, reads the block, and for an already-hashed (BLK) block checks the
// content hash, returning an error that should abort the whole sync run
// on any mismatch.
func (a *Array) syncReadBlock(e slotEntry, buf []byte) error {
	path := a.dataPath(e.disk, e.file)
	if err := verifyIdentity(path, e.file); err != nil {
		return err
	}

	h, err := a.readHandleFor(e.disk, e.file)
	if err != nil {
		return err
	}
	filePos := int64(e.blockIdx) * int64(a.Store.BlockSize)
	if _, err := h.Read(filePos, buf); err != nil {
		return err
	}

	if e.block.State == blockstore.StateBlk {
		hash, err := content.Memhash(a.Meta.HashKind, a.Meta.HashSeed, buf)
		if err != nil {
			return err
		}
		if hash != e.block.Hash {
			return fmt.Errorf("data error for file %q at block %d: %w", e.file.Path, e.blockIdx, errHashMismatch)
		}
	}
	return nil
}

var errHashMismatch = fmt.Errorf("content hash mismatch")

// verifyIdentity checks that the file currently on disk still matches the
// size, mtime and inode recorded in the BlockStore, the quiescence check
// sync performs before trusting a read.
func verifyIdentity(path string, f *blockstore.File) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("missing file %q: %w", path, err)
	}
	if info.Size() != f.Size {
		return fmt.Errorf("unexpected size change at file %q", path)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if ok {
		if st.Ino != f.Inode {
			return fmt.Errorf("unexpected inode change at file %q", path)
		}
	}
	if info.ModTime().Unix() != f.MtimeSec {
		return fmt.Errorf("unexpected time change at file %q", path)
	}
	return nil
}
