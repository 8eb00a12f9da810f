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
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
	"github.com/amadvance/snapraid-sub000/internal/content"
	"github.com/amadvance/snapraid-sub000/internal/handle"
	"github.com/amadvance/snapraid-sub000/internal/rs"
	"golang.org/x/sync/errgroup"
)

// SlotReport is the per-slot verdict check/fix/scrub produce.
type SlotReport struct {
	Slot          int
	FailedDisks   []int  // indices into Store.Disks() whose data block failed
	SizeLarger    []int  // indices whose on-disk file is larger than recorded
	ParityCorrupt []int  // parity row indices whose stored bytes didn't match recomputed
	Unrecoverable bool   // F exceeded the readable parity rows
	Fixed         bool   // fix mode: recovered data or corrected parity was written back
	Pending       bool   // slot has a NEW/CHG/DELETED occupant; parity not yet synced here
}

// anyIssue reports whether this slot needed any corrective action at all.
func (r SlotReport) anyIssue() bool {
	return len(r.FailedDisks) > 0 || len(r.ParityCorrupt) > 0 || len(r.SizeLarger) > 0
}

// slotHasPendingParity reports whether any occupant of a slot is a
// NEW/CHG block or a DELETED ghost: parity at this position has not been
// brought current by a sync yet, so comparing or rewriting it now would
// treat an expected pre-sync mismatch as data or parity corruption.
func slotHasPendingParity(entries []slotEntry) bool {
	for _, e := range entries {
		if e.deleted != nil {
			return true
		}
		if e.block != nil {
			switch e.block.State {
			case blockstore.StateNew, blockstore.StateChg:
				return true
			}
		}
	}
	return false
}

// CheckResult summarizes a check/fix run.
type CheckResult struct {
	Reports     []SlotReport
	Interrupted bool
}

// Check verifies every slot in [start,end) without writing to data files,
// parity files or the content file; it only marks failing slots bad in the
// in-memory info array.
func (a *Array) Check(start, end int) (CheckResult, error) {
	return a.checkOrFix(start, end, false)
}

// Fix verifies every slot in [start,end) and repairs what it can,
// writing recovered bytes back to data files and rewriting corrupt
// parity rows.
func (a *Array) Fix(start, end int) (CheckResult, error) {
	return a.checkOrFix(start, end, true)
}

func (a *Array) checkOrFix(start, end int, fix bool) (CheckResult, error) {
	var result CheckResult
	blockSize := int64(a.Store.BlockSize)
	zero := make([]byte, blockSize)

	for i := start; i < end; i++ {
		report, err := a.checkSlot(i, fix, blockSize, zero)
		if err != nil {
			return result, fmt.Errorf("pipeline: check: slot %d: %w", i, err)
		}
		report.Slot = i

		now := uint32(a.Clock.Now().Unix())
		switch {
		case report.Unrecoverable:
			a.Store.InfoSet(i, blockstore.MakeInfo(blockstore.InfoTime(a.Store.InfoGet(i)), true, false, false))
		case report.anyIssue():
			if fix {
				a.Store.InfoSet(i, blockstore.MakeInfo(now, false, false, false))
			} else {
				a.Store.InfoSet(i, blockstore.MakeInfo(blockstore.InfoTime(a.Store.InfoGet(i)), true, false, false))
			}
		}

		if report.anyIssue() || report.Unrecoverable {
			result.Reports = append(result.Reports, report)
		}

		a.reportProgress(blockSize)
		if err := a.noteBytesProcessed(blockSize); err != nil {
			return result, err
		}
		if a.Interrupt.Triggered() {
			result.Interrupted = true
			break
		}
	}

	if fix {
		if err := a.Save(); err != nil {
			return result, err
		}
	}
	return result, nil
}

// checkSlot reads every data disk and parity row at slot i, classifies
// failures, recovers what it can from the available parity, and (in fix
// mode) writes the recovery back.
func (a *Array) checkSlot(i int, fix bool, blockSize int64, zero []byte) (SlotReport, error) {
	var report SlotReport
	entries := slotEntries(a.Store, i)

	if slotHasPendingParity(entries) {
		// A NEW/CHG/DELETED occupant means this slot's parity is the
		// responsibility of the next completed sync, not this pass: the
		// on-disk bytes here are expected to disagree with what's
		// currently stored in parity, so comparing or "fixing" against it
		// would misreport a pending sync as corruption.
		report.Pending = true
		return report, nil
	}

	data := make([][]byte, len(entries))
	var reportMu sync.Mutex
	var g errgroup.Group
	for j, e := range entries {
		j, e := j, e
		data[j] = make([]byte, blockSize)
		if e.block == nil {
			continue // EMPTY or DELETED: zero contribution
		}
		g.Go(func() error {
			if err := a.checkReadBlock(e, data[j], blockSize, &report, &reportMu, j); err != nil {
				reportMu.Lock()
				report.FailedDisks = append(report.FailedDisks, j)
				reportMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Ints(report.FailedDisks)

	parityBufs := make([][]byte, a.Level())
	avail := make([]int, 0, a.Level())
	for lvl, pf := range a.Parities {
		parityBufs[lvl] = make([]byte, blockSize)
		if err := pf.Read(int64(i), parityBufs[lvl]); err == nil {
			avail = append(avail, lvl)
		}
	}

	if len(report.FailedDisks) == 0 {
		expected := make([][]byte, a.Level())
		for lvl := range expected {
			expected[lvl] = make([]byte, blockSize)
		}
		if err := rs.Gen(a.Level(), data, expected, int(blockSize)); err != nil {
			return report, err
		}
		for _, lvl := range avail {
			if !bytes.Equal(expected[lvl], parityBufs[lvl]) {
				report.ParityCorrupt = append(report.ParityCorrupt, lvl)
				if fix {
					if err := a.Parities[lvl].Write(int64(i), expected[lvl]); err != nil {
						return report, err
					}
					report.Fixed = true
				}
			}
		}
		return report, nil
	}

	if len(report.FailedDisks) > len(avail) {
		report.Unrecoverable = true
		return report, nil
	}

	missing := report.FailedDisks
	usedParity := avail[:len(missing)]
	if err := rs.Recov(a.Level(), missing, usedParity, data, parityBufs, zero, int(blockSize)); err != nil {
		report.Unrecoverable = true
		return report, nil
	}

	if fix {
		for _, j := range missing {
			e := entries[j]
			if e.file == nil {
				continue
			}
			if err := a.writeRecoveredBlock(e, data[j]); err != nil {
				return report, err
			}
		}
		report.Fixed = true
	}
	return report, nil
}

// checkReadBlock reads and, for blocks with an already-bound hash,
// verifies one disk's content at a slot. May run concurrently with other
// disks' checkReadBlock calls for the same slot; reportMu guards the
// shared SlotReport's slices.
func (a *Array) checkReadBlock(e slotEntry, buf []byte, blockSize int64, report *SlotReport, reportMu *sync.Mutex, idx int) error {
	h, err := a.readHandleFor(e.disk, e.file)
	if err != nil {
		return err
	}
	filePos := int64(e.blockIdx) * blockSize
	_, err = h.Read(filePos, buf)
	if err != nil {
		return err
	}
	if h.SawLarger() {
		reportMu.Lock()
		report.SizeLarger = append(report.SizeLarger, idx)
		reportMu.Unlock()
	}

	if e.block.State != blockstore.StateBlk {
		return nil // NEW/CHG never had a bound hash to check against
	}
	hash, err := content.Memhash(a.Meta.HashKind, a.Meta.HashSeed, buf)
	if err != nil {
		return err
	}
	if hash != e.block.Hash {
		return fmt.Errorf("hash mismatch for file %q block %d", e.file.Path, e.blockIdx)
	}
	return nil
}

// writeRecoveredBlock writes recovered bytes back to a file, switching
// from the cached read handle to a read-write one for the duration of
// the write.
func (a *Array) writeRecoveredBlock(e slotEntry, recovered []byte) error {
	a.closeReadHandle(e.disk)
	path := a.dataPath(e.disk, e.file)
	h, err := handle.Create(path, a.XLSPatch)
	if err != nil {
		return err
	}

	filePos := int64(e.blockIdx) * int64(a.Store.BlockSize)
	if err := h.Write(filePos, recovered); err != nil {
		_ = h.Close()
		return err
	}
	return h.CloseRestoringMtime(e.file.MtimeSec, e.file.MtimeNsec)
}
