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

import "sync/atomic"

// Interrupt is a process-wide cooperative cancellation flag. A SIGINT
// handler flips it; the slot loop checks it once per processed slot and
// stops at the next slot boundary, then proceeds to the normal post-loop
// save and fsync rather than tearing down mid-slot.
type Interrupt struct {
	flag atomic.Bool
}

// NewInterrupt returns a fresh, untriggered Interrupt.
func NewInterrupt() *Interrupt { return &Interrupt{} }

// Trigger flips the flag. Safe to call from a signal handler.
func (in *Interrupt) Trigger() { in.flag.Store(true) }

// Triggered reports whether Trigger has been called.
func (in *Interrupt) Triggered() bool { return in.flag.Load() }
