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

package rs

import (
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Capability identifies which parity-row kernel variant is selected. All
// variants must produce bitwise-identical output; they differ only in how
// many bytes of a row they process per loop iteration.
type Capability int

// Capability tiers, from least to most capable. There is no true SIMD
// assembly kernel here (this module never invokes a Go-toolchain build),
// so CapSIMD128/CapSIMD256 select a word-batched XOR path for plain XOR
// accumulation (parity-row XOR during recovery) instead of per-byte loops;
// the multiply-accumulate steps every generator-matrix row requires are
// always table-driven, since a multiply-by-table loop has no meaningful
// "wider word" variant without real SIMD.
const (
	CapScalar Capability = iota
	CapSIMD128
	CapSIMD256
)

func (c Capability) String() string {
	switch c {
	case CapScalar:
		return "scalar"
	case CapSIMD128:
		return "sse2"
	case CapSIMD256:
		return "ssse3"
	default:
		return "unknown"
	}
}

var (
	capMu      sync.RWMutex
	capForced  bool
	capForceTo Capability
)

// probeCapability inspects the host CPU once via cpuid and returns the best
// tier it can claim for the pure-Go kernels in this package.
func probeCapability() Capability {
	switch {
	case cpuid.CPU.Supports(cpuid.SSSE3):
		return CapSIMD256
	case cpuid.CPU.Supports(cpuid.SSE2):
		return CapSIMD128
	default:
		return CapScalar
	}
}

var detectedCapability = probeCapability()

// SelectedCapability returns the capability tier that generation and
// recovery currently dispatch to.
func SelectedCapability() Capability {
	capMu.RLock()
	defer capMu.RUnlock()
	if capForced {
		return capForceTo
	}
	return detectedCapability
}

// ForceCapability overrides the dispatch tier, so tests can exercise every
// variant regardless of the host CPU. Passing -1 clears the override.
func ForceCapability(c Capability) {
	capMu.Lock()
	defer capMu.Unlock()
	if c < 0 {
		capForced = false
		return
	}
	capForced = true
	capForceTo = c
}

// xorRow computes dst[i] ^= src[i] for a full row, dispatching to the
// word-batched path on CapSIMD128/256 and the byte path on CapScalar. Both
// paths must and do produce identical output.
func xorRow(dst, src []byte) {
	if SelectedCapability() == CapScalar {
		xorRowScalar(dst, src)
		return
	}
	xorRowWord(dst, src)
}

func xorRowScalar(dst, src []byte) {
	for i, s := range src {
		dst[i] ^= s
	}
}

func xorRowWord(dst, src []byte) {
	n := len(src)
	i := 0
	for ; i+8 <= n; i += 8 {
		d := dst[i : i+8 : i+8]
		s := src[i : i+8 : i+8]
		_ = d[7]
		_ = s[7]
		d[0] ^= s[0]
		d[1] ^= s[1]
		d[2] ^= s[2]
		d[3] ^= s[3]
		d[4] ^= s[4]
		d[5] ^= s[5]
		d[6] ^= s[6]
		d[7] ^= s[7]
	}
	for ; i < n; i++ {
		dst[i] ^= src[i]
	}
}
