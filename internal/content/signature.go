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

package content

import (
	"encoding/hex"
	"fmt"

	"github.com/minio/highwayhash"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
)

// HashKind names a registered keyed-hash algorithm for block content
// tagging. Spec §1 treats the hash primitive as an external collaborator
// ("memhash(seed, data) -> 16-byte tag"); this package only needs a
// concrete default to exercise the rehash migration end to end, so both
// registered kinds route through highwayhash under different seed
// derivations (see DESIGN.md for the rationale).
type HashKind string

// Registered hash kinds.
const (
	HashMurmur3 HashKind = "murmur3"
	HashSpooky2 HashKind = "spooky2"
)

func (k HashKind) valid() bool {
	return k == HashMurmur3 || k == HashSpooky2
}

// Valid reports whether k is a registered hash kind, for callers outside
// this package (config loading) that need to validate user input before
// it ever reaches a Meta.
func (k HashKind) Valid() bool { return k.valid() }

// deriveKey expands a content-file seed into the 32-byte key highwayhash
// requires, salting it with the hash kind so murmur3 and spooky2 never
// collide on the same seed bytes.
func deriveKey(kind HashKind, seed []byte) [32]byte {
	var key [32]byte
	salt := []byte(kind)
	for i := range key {
		s := byte(0)
		if len(seed) > 0 {
			s = seed[i%len(seed)]
		}
		t := byte(0)
		if len(salt) > 0 {
			t = salt[i%len(salt)]
		}
		key[i] = s ^ t ^ byte(i)
	}
	return key
}

// Memhash computes the abstract keyed content hash for one block, per
// spec §1's memhash(seed, data) -> 16-byte tag contract.
func Memhash(kind HashKind, seed []byte, data []byte) (blockstore.Hash, error) {
	if !kind.valid() {
		return blockstore.Hash{}, fmt.Errorf("content: unknown hash kind %q", kind)
	}
	key := deriveKey(kind, seed)
	sum := highwayhash.Sum128(data, key[:])
	var out blockstore.Hash
	copy(out[:], sum[:])
	return out, nil
}

// signatureKey is the fixed key used for the content file's own tamper
// signature. It is not a secret: the signature only needs to be a
// checksum strong enough to catch truncation and accidental corruption,
// not a security boundary.
var signatureKey = [32]byte{'s', 'n', 'a', 'p', 'r', 'a', 'i', 'd', '-', 'c', 'o', 'r', 'e', '-', 's', 'i', 'g'}

// computeSignature returns the 128-bit signature over the bytes of a
// serialized content file, excluding the trailing `sign` line itself.
func computeSignature(body []byte) [16]byte {
	return highwayhash.Sum128(body, signatureKey[:])
}

func signatureHex(sig [16]byte) string {
	return hex.EncodeToString(sig[:])
}

func parseSignatureHex(s string) ([16]byte, error) {
	var sig [16]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 16 {
		return sig, fmt.Errorf("content: malformed signature %q", s)
	}
	copy(sig[:], b)
	return sig, nil
}
