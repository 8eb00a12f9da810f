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

import "fmt"

// Gen computes `level` parity rows (1..6) over `data` into `parity`.
// len(parity) must equal level; every data and parity buffer must have the
// same length `size`. Gen is pure over its buffer arguments: it only reads
// data and writes parity.
func Gen(level int, data, parity [][]byte, size int) error {
	if level < 1 || level > MaxParity {
		return fmt.Errorf("rs: level %d out of range [1,%d]", level, MaxParity)
	}
	if len(data) > MaxDataDisks {
		return fmt.Errorf("rs: %d data disks exceeds maximum %d", len(data), MaxDataDisks)
	}
	if len(parity) != level {
		return fmt.Errorf("rs: %d parity buffers for level %d", len(parity), level)
	}
	if err := checkBufLen(data, size); err != nil {
		return err
	}
	if err := checkBufLen(parity, size); err != nil {
		return err
	}

	for i := range parity {
		for j := range parity[i] {
			parity[i][j] = 0
		}
	}

	// Every row, including row 0, is a genuine Cauchy row: accumulate each
	// data column weighted by its generator coefficient. mulXorBuf already
	// special-cases a coefficient of 1 as a plain XOR, so this costs
	// nothing extra wherever a row's coefficient happens to be 1.
	for row := 0; row < level; row++ {
		for col, d := range data {
			mulXorBuf(parity[row], d, RowCoeff(row, col))
		}
	}

	return nil
}

func checkBufLen(bufs [][]byte, size int) error {
	for i, b := range bufs {
		if len(b) != size {
			return fmt.Errorf("rs: buffer %d has length %d, want %d", i, len(b), size)
		}
	}
	return nil
}

// Recov reconstructs the data blocks at indices `missing` using the parity
// rows at indices `avail` (len(missing) == len(avail) == R <= level).
// `data` holds every data column; the entries named in `missing` are
// scratch buffers that Recov fills with the reconstructed bytes. `parity`
// holds the on-disk parity rows actually available (indexed by row number,
// only the entries named in `avail` need be non-nil). `zero` is a
// same-length all-zero buffer used to stand in for the missing columns
// while the would-be parity is recomputed.
func Recov(level int, missing, avail []int, data, parity [][]byte, zero []byte, size int) error {
	r := len(missing)
	if len(avail) != r {
		return fmt.Errorf("rs: missing/avail length mismatch (%d vs %d)", r, len(avail))
	}
	if r == 0 {
		return nil
	}
	if r > level {
		return fmt.Errorf("rs: %d missing blocks exceeds parity level %d", r, level)
	}

	return recoverGeneral(level, missing, avail, data, parity, zero, size)
}

// recoverGeneral implements the §4.1 recovery algorithm in full: replace the
// missing columns with zero, recompute the would-be parity at the
// available rows, XOR against the actual on-disk parity to get syndrome
// deltas, invert the R x R coefficient matrix, and multiply through. Every
// row (including 0 and 1) is a genuine Cauchy row of the same matrix Gen
// accumulates with, so there is no row-specific fast path here: the R x R
// submatrix built from any R rows and any R columns is guaranteed
// non-singular by the same Cauchy determinant property, diagonal or not.
func recoverGeneral(level int, missing, avail []int, data, parity [][]byte, zero []byte, size int) error {
	r := len(missing)

	saved := make([][]byte, r)
	for k, m := range missing {
		saved[k] = data[m]
		data[m] = zero
	}
	defer func() {
		for k, m := range missing {
			data[m] = saved[k]
		}
	}()

	delta := make([][]byte, r)
	for j := range delta {
		delta[j] = make([]byte, size)
	}

	for j, row := range avail {
		for col, d := range data {
			mulXorBuf(delta[j], d, RowCoeff(row, col))
		}
		xorRow(delta[j], parity[row])
	}

	g := make([][]byte, r)
	for j, row := range avail {
		g[j] = make([]byte, r)
		for k, col := range missing {
			g[j][k] = RowCoeff(row, col)
		}
	}
	v, ok := invert(g)
	if !ok {
		return fmt.Errorf("rs: generator submatrix for missing=%v avail=%v is singular", missing, avail)
	}

	for k, m := range missing {
		dst := saved[k]
		for i := range dst {
			dst[i] = 0
		}
		for j := 0; j < r; j++ {
			mulXorBuf(dst, delta[j], v[k][j])
		}
		_ = m
	}
	return nil
}
