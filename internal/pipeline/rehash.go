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
	"github.com/amadvance/snapraid-sub000/internal/content"
)

// BeginRehash switches the array onto a new hash kind/seed, parking the
// prior one in Meta.PrevHashKind/PrevHashSeed, and flags every currently
// bound (BLK) slot as pending migration. Parity is untouched: the bits on
// disk don't change, only which keyed hash they're checked against.
func (a *Array) BeginRehash(newKind content.HashKind, newSeed []byte) error {
	if a.Meta.Rehashing() {
		return fmt.Errorf("pipeline: rehash already in progress")
	}

	a.Meta.PrevHashKind = a.Meta.HashKind
	a.Meta.PrevHashSeed = a.Meta.HashSeed
	a.Meta.HashKind = newKind
	a.Meta.HashSeed = newSeed

	blockmax := a.Store.ParityAllocatedSize()
	for i := 0; i < blockmax; i++ {
		if !slotHasBlk(a.Store, i) {
			continue
		}
		info := a.Store.InfoGet(i)
		a.Store.InfoSet(i, blockstore.MakeInfo(blockstore.InfoTime(info), blockstore.InfoBad(info), true, false))
	}
	return nil
}

// Rehash re-reads every BLK block still flagged pending and rebinds its
// hash under the current HashKind/HashSeed, verifying the old hash under
// PrevHashKind/PrevHashSeed first so a block that changed underneath the
// migration is caught rather than silently rebound. Once no slot remains
// flagged, the migration is cleared: PrevHashKind/PrevHashSeed reset to
// empty and the next Save stops emitting a prevchecksum line.
func (a *Array) Rehash() (CheckResult, error) {
	if !a.Meta.Rehashing() {
		return CheckResult{}, fmt.Errorf("pipeline: no rehash in progress")
	}

	var result CheckResult
	blockSize := int64(a.Store.BlockSize)
	remaining := false

	blockmax := a.Store.ParityAllocatedSize()
	for i := 0; i < blockmax; i++ {
		info := a.Store.InfoGet(i)
		if !blockstore.InfoRehash(info) {
			continue
		}

		report, err := a.rehashSlot(i, blockSize)
		if err != nil {
			return result, fmt.Errorf("pipeline: rehash: slot %d: %w", i, err)
		}
		report.Slot = i
		if report.anyIssue() {
			result.Reports = append(result.Reports, report)
			remaining = true
		} else {
			a.Store.InfoSet(i, blockstore.MakeInfo(blockstore.InfoTime(info), blockstore.InfoBad(info), false, false))
		}

		a.reportProgress(blockSize)
		if err := a.noteBytesProcessed(blockSize); err != nil {
			return result, err
		}
		if a.Interrupt.Triggered() {
			result.Interrupted = true
			remaining = true
			break
		}
	}

	if !remaining && !result.Interrupted {
		a.Meta.PrevHashKind = ""
		a.Meta.PrevHashSeed = nil
	}

	if err := a.Save(); err != nil {
		return result, err
	}
	return result, nil
}

// rehashSlot rebinds every BLK disk at slot i to a hash computed under the
// current HashKind, after checking the bytes still match the hash recorded
// under the previous kind.
func (a *Array) rehashSlot(i int, blockSize int64) (SlotReport, error) {
	var report SlotReport
	entries := slotEntries(a.Store, i)

	for j, e := range entries {
		if e.block == nil || e.block.State != blockstore.StateBlk {
			continue
		}

		buf := make([]byte, blockSize)
		path := a.dataPath(e.disk, e.file)
		if err := verifyIdentity(path, e.file); err != nil {
			report.FailedDisks = append(report.FailedDisks, j)
			continue
		}
		h, err := a.readHandleFor(e.disk, e.file)
		if err != nil {
			return report, err
		}
		filePos := int64(e.blockIdx) * blockSize
		if _, err := h.Read(filePos, buf); err != nil {
			report.FailedDisks = append(report.FailedDisks, j)
			continue
		}

		oldHash, err := content.Memhash(a.Meta.PrevHashKind, a.Meta.PrevHashSeed, buf)
		if err != nil {
			return report, err
		}
		if oldHash != e.block.Hash {
			report.FailedDisks = append(report.FailedDisks, j)
			continue
		}

		newHash, err := content.Memhash(a.Meta.HashKind, a.Meta.HashSeed, buf)
		if err != nil {
			return report, err
		}
		e.block.Hash = newHash
	}
	return report, nil
}

// slotHasBlk reports whether any disk has a BLK block at pos.
func slotHasBlk(store *blockstore.Store, pos int) bool {
	for _, e := range slotEntries(store, pos) {
		if e.block != nil && e.block.State == blockstore.StateBlk {
			return true
		}
	}
	return false
}
