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
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"
)

// Progress drives a byte-count bar for a sync/check/fix/scrub run. A nil
// *Progress (the zero value for Array.Progress) disables reporting
// entirely, so driving an Array headlessly never has to special-case it.
type Progress struct {
	bar   *pb.ProgressBar
	start time.Time
}

// NewProgress returns a Progress bar sized to total bytes, not yet started.
func NewProgress(total int64) *Progress {
	bar := pb.New64(total)
	bar.Set(pb.Bytes, true)
	bar.SetTemplateString(`{{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
	return &Progress{bar: bar}
}

// Start begins rendering the bar.
func (p *Progress) Start() {
	if p == nil {
		return
	}
	p.start = time.Now()
	p.bar.Start()
}

// Add advances the bar by n bytes.
func (p *Progress) Add(n int64) {
	if p == nil {
		return
	}
	p.bar.Add64(n)
}

// Finish stops the bar and returns a one-line human-readable summary of
// bytes processed and average throughput.
func (p *Progress) Finish() string {
	if p == nil {
		return ""
	}
	p.bar.Finish()
	done := p.bar.Current()
	elapsed := time.Since(p.start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	rate := float64(done) / elapsed.Seconds()
	return fmt.Sprintf("%s in %s (%s/s)", humanize.Bytes(uint64(done)), elapsed.Round(time.Second), humanize.Bytes(uint64(rate)))
}

// reportProgress advances the array's progress bar, if one is attached,
// by n bytes of newly processed data.
func (a *Array) reportProgress(n int64) {
	a.Progress.Add(n)
}
