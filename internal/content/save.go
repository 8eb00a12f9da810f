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
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	atomicfile "github.com/natefinch/atomic"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
)

// Save serializes the store and its metadata to every path in paths,
// replacing each atomically. Multiple copies are written independently so
// that one disk failing mid-write never corrupts the others; spec §6 calls
// for the content file to be kept in several places for exactly this
// reason.
func Save(store *blockstore.Store, meta Meta, paths []string) error {
	if len(paths) == 0 {
		return fmt.Errorf("content: no content file paths configured")
	}

	body, err := encode(store, meta)
	if err != nil {
		return err
	}
	sig := computeSignature(body)

	var out bytes.Buffer
	out.Write(body)
	fmt.Fprintf(&out, "%s %s\n", dirSign, signatureHex(sig))

	for _, p := range paths {
		if err := atomicfile.WriteFile(p, bytes.NewReader(out.Bytes())); err != nil {
			return fmt.Errorf("content: writing %s: %w", p, err)
		}
		if err := fsyncDir(filepath.Dir(p)); err != nil {
			return fmt.Errorf("content: syncing directory of %s: %w", p, err)
		}
	}
	return nil
}

// fsyncDir fsyncs a directory so a rename into it is durable, not merely
// atomic from a concurrent reader's point of view.
func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Load reads and verifies one content file, returning the reconstructed
// store and metadata. The signature is checked over the full body before
// any directive is trusted; a mismatch means the file was truncated or
// corrupted and Load refuses to return a partially-parsed store.
func Load(path string) (*blockstore.Store, Meta, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("content: reading %s: %w", path, err)
	}

	body, sig, err := splitSignature(raw)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("content: %s: %w", path, err)
	}
	want := computeSignature(body)
	if sig != want {
		return nil, Meta{}, fmt.Errorf("content: %s: signature mismatch, file is truncated or corrupt", path)
	}

	store, meta, err := decode(body)
	if err != nil {
		return nil, Meta{}, fmt.Errorf("content: %s: %w", path, err)
	}
	return store, meta, nil
}

// splitSignature separates the trailing `sign` line from the rest of the
// file, returning the body the signature was computed over.
func splitSignature(raw []byte) (body []byte, sig [16]byte, err error) {
	// raw ends with "...\nsign <hex>\n"; find the start of that last
	// non-empty line.
	trimmed := bytes.TrimRight(raw, "\n")
	lineStart := bytes.LastIndexByte(trimmed, '\n') + 1
	lastLine := string(trimmed[lineStart:])

	var hexSig string
	n, scanErr := fmt.Sscanf(lastLine, dirSign+" %s", &hexSig)
	if scanErr != nil || n != 1 {
		return nil, sig, fmt.Errorf("missing trailing %s line", dirSign)
	}
	sig, err = parseSignatureHex(hexSig)
	if err != nil {
		return nil, sig, err
	}
	return trimmed[:lineStart], sig, nil
}
