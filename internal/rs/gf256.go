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

// Package rs implements the erasure code kernel: GF(2^8) arithmetic, parity
// generation for 1..6 parity levels and data recovery from any combination
// of failed data blocks the available parity can cover.
package rs

// gfPoly is the primitive polynomial x^8+x^4+x^3+x^2+1 (285 decimal, 0x11D)
// snapraid and the Linux kernel's RAID-6 code both use for GF(2^8).
const gfPoly = 0x11D

var (
	gfExp [512]byte // exp[i] = 2^i in GF(2^8), doubled table avoids modulo on lookups
	gfLog [256]byte // log[gfExp[i]] = i for i in 0..254; gfLog[0] is unused

	gfMul [256][256]byte // full multiplication table
	gfInv [256]byte      // multiplicative inverse; gfInv[0] is unused
)

func init() {
	buildExpLog()
	buildMulInv()
}

func buildExpLog() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExp[i] = byte(x)
		gfLog[x] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= gfPoly
		}
	}
	for i := 255; i < 512; i++ {
		gfExp[i] = gfExp[i-255]
	}
}

func buildMulInv() {
	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			gfMul[a][b] = gfMulSlow(byte(a), byte(b))
		}
	}
	for a := 1; a < 256; a++ {
		la := int(gfLog[a])
		// a * a^-1 == 1 => log(a) + log(a^-1) == 0 mod 255
		linv := (255 - la) % 255
		gfInv[a] = gfExp[linv]
	}
}

// gfMulSlow multiplies two field elements using the log/exp tables, used
// only to seed the full 256x256 multiplication table at init.
func gfMulSlow(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

// mul returns a*b in GF(2^8).
func mul(a, b byte) byte {
	return gfMul[a][b]
}

// mulXorBuf computes dst[i] ^= coeff*src[i] for the whole buffer, the workhorse
// of every parity row's accumulation step.
func mulXorBuf(dst, src []byte, coeff byte) {
	if coeff == 0 {
		return
	}
	if coeff == 1 {
		for i, s := range src {
			dst[i] ^= s
		}
		return
	}
	row := &gfMul[coeff]
	for i, s := range src {
		dst[i] ^= row[s]
	}
}

// invert computes the inverse of an R x R matrix over GF(2^8) using
// Gauss-Jordan elimination with row swaps on zero pivots. It mutates a
// working copy of m and returns the inverse; it never mutates m itself.
func invert(m [][]byte) ([][]byte, bool) {
	n := len(m)
	a := make([][]byte, n)
	inv := make([][]byte, n)
	for i := 0; i < n; i++ {
		a[i] = append([]byte(nil), m[i]...)
		inv[i] = make([]byte, n)
		inv[i][i] = 1
	}

	for col := 0; col < n; col++ {
		pivot := -1
		for row := col; row < n; row++ {
			if a[row][col] != 0 {
				pivot = row
				break
			}
		}
		if pivot == -1 {
			return nil, false
		}
		if pivot != col {
			a[col], a[pivot] = a[pivot], a[col]
			inv[col], inv[pivot] = inv[pivot], inv[col]
		}

		scale := gfInv[a[col][col]]
		scaleRow(a[col], scale)
		scaleRow(inv[col], scale)

		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := a[row][col]
			if factor == 0 {
				continue
			}
			xorScaledRow(a[row], a[col], factor)
			xorScaledRow(inv[row], inv[col], factor)
		}
	}
	return inv, true
}

func scaleRow(row []byte, scale byte) {
	for i, v := range row {
		row[i] = mul(v, scale)
	}
}

func xorScaledRow(dst, src []byte, factor byte) {
	for i, v := range src {
		dst[i] ^= mul(v, factor)
	}
}
