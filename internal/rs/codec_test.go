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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomBuffers(n, size int, seed int64) [][]byte {
	r := rand.New(rand.NewSource(seed))
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = make([]byte, size)
		r.Read(bufs[i])
	}
	return bufs
}

func cloneBuffers(bufs [][]byte) [][]byte {
	out := make([][]byte, len(bufs))
	for i, b := range bufs {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

func TestGenDeterministic(t *testing.T) {
	data := randomBuffers(6, 64, 1)
	parity1 := make([][]byte, 3)
	parity2 := make([][]byte, 3)
	for i := range parity1 {
		parity1[i] = make([]byte, 64)
		parity2[i] = make([]byte, 64)
	}
	require.NoError(t, Gen(3, data, parity1, 64))
	require.NoError(t, Gen(3, data, parity2, 64))
	require.Equal(t, parity1, parity2)
}

func TestGenSingleParityMatchesRowCoeffs(t *testing.T) {
	data := randomBuffers(5, 32, 2)
	parity := make([][]byte, 1)
	parity[0] = make([]byte, 32)
	require.NoError(t, Gen(1, data, parity, 32))

	want := make([]byte, 32)
	for col, d := range data {
		for i, v := range d {
			want[i] ^= mul(RowCoeff(0, col), v)
		}
	}
	require.Equal(t, want, parity[0])
}

// combinations returns every r-sized subset of {0,...,n-1}, each as a sorted
// slice of indices.
func combinations(n, r int) [][]int {
	if r == 0 || r > n {
		return nil
	}
	idx := make([]int, r)
	for i := range idx {
		idx[i] = i
	}
	var out [][]int
	for {
		out = append(out, append([]int(nil), idx...))
		i := r - 1
		for i >= 0 && idx[i] == n-r+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < r; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	return out
}

// TestRecoverAllCombinations exercises every parity-row subset against every
// data-column subset of matching size independently, including the mismatched
// ones (e.g. missing columns {8,9} recovered from parity rows {1,4}) rather
// than only the matched/diagonal case — a generator matrix with even one
// singular R x R submatrix fails some combination here.
func TestRecoverAllCombinations(t *testing.T) {
	const dataDisks = 10
	const size = 64

	for level := 1; level <= MaxParity; level++ {
		data := randomBuffers(dataDisks, size, int64(100+level))
		original := cloneBuffers(data)
		parity := make([][]byte, level)
		for i := range parity {
			parity[i] = make([]byte, size)
		}
		require.NoError(t, Gen(level, data, parity, size))

		for r := 1; r <= level; r++ {
			parityCombos := combinations(level, r)
			dataCombos := combinations(dataDisks, r)
			zero := make([]byte, size)

			for _, avail := range parityCombos {
				for _, missing := range dataCombos {
					broken := cloneBuffers(original)
					for _, m := range missing {
						broken[m] = make([]byte, size) // garbage/zeroed stand-in
					}

					err := Recov(level, missing, avail, broken, parity, zero, size)
					require.NoError(t, err, "level=%d missing=%v avail=%v", level, missing, avail)
					for _, m := range missing {
						require.Equal(t, original[m], broken[m], "level=%d missing=%v avail=%v disk=%d", level, missing, avail, m)
					}
				}
			}
		}
	}
}

func TestRecoverEveryVariant(t *testing.T) {
	defer ForceCapability(-1)

	const dataDisks = 8
	const size = 32
	data := randomBuffers(dataDisks, size, 7)
	original := cloneBuffers(data)
	parity := make([][]byte, MaxParity)
	for i := range parity {
		parity[i] = make([]byte, size)
	}
	require.NoError(t, Gen(MaxParity, data, parity, size))

	zero := make([]byte, size)
	for _, cap := range []Capability{CapScalar, CapSIMD128, CapSIMD256} {
		ForceCapability(cap)
		broken := cloneBuffers(original)
		broken[3] = make([]byte, size)
		require.NoError(t, Recov(MaxParity, []int{3}, []int{0}, broken, parity, zero, size))
		require.Equal(t, original[3], broken[3], "capability=%s", cap)
	}
}

func TestGenSizeMismatchError(t *testing.T) {
	data := randomBuffers(3, 16, 3)
	parity := [][]byte{make([]byte, 15)}
	require.Error(t, Gen(1, data, parity, 16))
}

func TestRecoverTwoParityOffDiagonal(t *testing.T) {
	const dataDisks = 12
	const size = 48
	data := randomBuffers(dataDisks, size, 42)
	original := cloneBuffers(data)
	parity := make([][]byte, 2)
	parity[0] = make([]byte, size)
	parity[1] = make([]byte, size)
	require.NoError(t, Gen(2, data, parity, size))

	zero := make([]byte, size)
	broken := cloneBuffers(original)
	broken[1] = make([]byte, size)
	broken[5] = make([]byte, size)
	require.NoError(t, Recov(2, []int{1, 5}, []int{0, 1}, broken, parity, zero, size))
	require.Equal(t, original[1], broken[1])
	require.Equal(t, original[5], broken[5])
}
