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

// MaxParity is the maximum number of parity levels (rows of A) supported.
const MaxParity = 6

// MaxDataDisks is the maximum number of data columns the generator matrix
// is built for. Together with MaxParity this exactly fills GF(2^8): 250
// column parameters (0..249) plus 6 row parameters (250..255) account for
// all 256 field elements, leaving no spare value a row and a column could
// collide on.
const MaxDataDisks = 250

// rowParam holds the per-row field element x_r used to build row r as the
// Cauchy row A[r][d] = 1/(x_r ^ d). Values are drawn from the top of the
// field, disjoint from every data column index (0..MaxDataDisks-1), so
// every x_r and every column d are pairwise distinct field elements.
var rowParam = [MaxParity]byte{250, 251, 252, 253, 254, 255}

// matrixA is the normalized extended Cauchy generator matrix. Every one of
// its 6 rows is a genuine Cauchy row A[r][d] = 1/(x_r ^ d), normalized by a
// per-row scale factor so column 0 is all ones (the convention the
// normalized extended Cauchy matrix construction uses for compatibility
// with a single-data-disk array). Because x_0..x_5 and every column index
// are pairwise distinct elements of one field, the Cauchy determinant
// identity guarantees every square submatrix of A (any R rows combined
// with any R columns, not just the diagonal R=parity-index/R=data-index
// case) is non-singular for R up to MaxParity — the property Recov's
// Gauss-Jordan solver depends on to reconstruct any recoverable
// combination of failed data disks.
var matrixA [MaxParity][MaxDataDisks]byte

func init() {
	for r, x := range rowParam {
		// Column 0 of the raw row is 1/(x^0) = 1/x; scaling the whole row
		// by x makes that entry 1, the normalization this construction
		// conventionally applies.
		scale := x
		for d := 0; d < MaxDataDisks; d++ {
			matrixA[r][d] = mul(scale, gfInv[x^byte(d)])
		}
	}
}

// RowCoeff returns A[row][col], the generator matrix coefficient used to
// weight data column col into parity row row.
func RowCoeff(row, col int) byte {
	return matrixA[row][col]
}
