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
	"sort"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
)

// Default scrub coverage, applied when ScrubPlan leaves Fraction/OlderThan
// at their zero value.
const (
	DefaultScrubFraction  = 0.12
	DefaultScrubOlderDays = 10
)

// ScrubPlan controls how much of the array one scrub run selects for
// re-verification.
type ScrubPlan struct {
	// Fraction of the array's allocated slots the scrub set should cover;
	// the bad slots, selected unconditionally, count toward it.
	Fraction float64
	// OlderThan selects every slot whose info time is at least this many
	// days old, even past what Fraction alone would pick.
	OlderThanDays int
}

func (p ScrubPlan) normalize() ScrubPlan {
	if p.Fraction <= 0 {
		p.Fraction = DefaultScrubFraction
	}
	if p.OlderThanDays <= 0 {
		p.OlderThanDays = DefaultScrubOlderDays
	}
	return p
}

// SelectSlots picks the scrub set out of blockmax slots: every slot marked
// bad unconditionally, plus the oldest-by-info-time slots until Fraction of
// the array is covered, continuing past that for every slot at least
// OlderThanDays old.
func (a *Array) SelectSlots(plan ScrubPlan) []int {
	plan = plan.normalize()
	blockmax := a.Store.ParityAllocatedSize()
	if blockmax == 0 {
		return nil
	}

	now := uint32(a.Clock.Now().Unix())
	olderThanSecs := uint32(plan.OlderThanDays) * 86400

	type aged struct {
		slot int
		time uint32
	}
	selected := make(map[int]bool)
	var candidates []aged

	for i := 0; i < blockmax; i++ {
		info := a.Store.InfoGet(i)
		if info == 0 {
			continue // never synced, nothing to scrub yet
		}
		if blockstore.InfoBad(info) {
			selected[i] = true
			continue
		}
		candidates = append(candidates, aged{slot: i, time: blockstore.InfoTime(info)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].time < candidates[j].time })

	target := int(float64(blockmax) * plan.Fraction)
	for _, c := range candidates {
		if len(selected) >= target && now-c.time < olderThanSecs {
			break
		}
		selected[c.slot] = true
	}

	out := make([]int, 0, len(selected))
	for slot := range selected {
		out = append(out, slot)
	}
	sort.Ints(out)
	return out
}

// Scrub re-verifies the slots ScrubPlan selects, via the same recovery
// machinery as Fix, and refreshes each slot's info time on a clean result
// so scrub coverage rotates across the array over successive runs.
func (a *Array) Scrub(plan ScrubPlan) (CheckResult, error) {
	slots := a.SelectSlots(plan)

	var result CheckResult
	blockSize := int64(a.Store.BlockSize)
	zero := make([]byte, blockSize)

	for _, i := range slots {
		report, err := a.checkSlot(i, true, blockSize, zero)
		if err != nil {
			return result, err
		}
		report.Slot = i

		now := uint32(a.Clock.Now().Unix())
		switch {
		case report.Pending:
			// Not actually verified this pass: leave its info time alone
			// so a completed sync's scrub pass still picks it up instead
			// of it rotating out as if freshly checked.
		case report.Unrecoverable:
			a.Store.InfoSet(i, blockstore.MakeInfo(blockstore.InfoTime(a.Store.InfoGet(i)), true, false, false))
		default:
			a.Store.InfoSet(i, blockstore.MakeInfo(now, false, false, false))
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

	if err := a.Save(); err != nil {
		return result, err
	}
	return result, nil
}
