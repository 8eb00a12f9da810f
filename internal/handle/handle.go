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

// Package handle provides per-data-file I/O: open/create/truncate,
// positional read/write, mtime restore on close, and the opt-in .xls
// header-neutralization patch described in spec §4.5 / §9.
package handle

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/amadvance/snapraid-sub000/internal/rserr"
)

// Handle is one open data file, scoped to the duration of one slot's read
// or one fix's write-back.
type Handle struct {
	path       string
	f          *os.File
	storedSize int64
	sawLarger  bool
	xlsEnabled bool
	firstRead  bool
}

// Open opens path read-only for the check/sync read path. storedSize is
// the size recorded in the content file, used to bound reads.
func Open(path string, storedSize int64, xlsEnabled bool) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", rserr.ErrMissingFile, path, err)
	}
	if err := unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL); err != nil {
		// best effort only
		_ = err
	}
	return &Handle{path: path, f: f, storedSize: storedSize, xlsEnabled: xlsEnabled, firstRead: true}, nil
}

// Create opens path read-write for the fix write-back path, creating it
// if missing. If a `path.unrecoverable` sidecar exists, it is reopened by
// rename rather than creating a fresh file, since it is presumably a
// prior fix attempt's partial reconstruction.
func Create(path string, xlsEnabled bool) (*Handle, error) {
	sidecar := path + ".unrecoverable"
	if _, err := os.Stat(sidecar); err == nil {
		if err := os.Rename(sidecar, path); err != nil {
			return nil, fmt.Errorf("handle: renaming sidecar %s: %w", sidecar, err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("handle: create %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Handle{path: path, f: f, storedSize: info.Size(), xlsEnabled: xlsEnabled, firstRead: true}, nil
}

// Path returns the handle's file path.
func (h *Handle) Path() string { return h.path }

// SawLarger reports whether a read noticed the open file is larger than
// its recorded size; the flag is sticky, set at most once per handle.
func (h *Handle) SawLarger() bool { return h.sawLarger }

// Read reads one block at file-relative byte offset filePos into buf,
// which must be exactly the block size long. It returns the number of
// real bytes read (<=len(buf)); the remainder of buf is zero-padded. It
// refuses to read past storedSize, returning ErrMissingData.
func (h *Handle) Read(filePos int64, buf []byte) (int, error) {
	if filePos >= h.storedSize {
		return 0, rserr.ErrMissingData
	}

	info, err := h.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", rserr.ErrReadFailed, h.path, err)
	}
	if info.Size() > h.storedSize {
		h.sawLarger = true
	}

	want := len(buf)
	avail := h.storedSize - filePos
	if int64(want) > avail {
		want = int(avail)
	}

	n, err := h.f.ReadAt(buf[:want], filePos)
	if err != nil && n == 0 {
		return 0, fmt.Errorf("%w: %s: %v", rserr.ErrReadFailed, h.path, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}

	if filePos == 0 && h.xlsEnabled && isXLSPath(h.path) {
		neutralizeXLSHeader(buf[:n])
	}

	return n, nil
}

// Write writes buf at file-relative byte offset filePos, extending the
// file as needed.
func (h *Handle) Write(filePos int64, buf []byte) error {
	n, err := h.f.WriteAt(buf, filePos)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", rserr.ErrWriteFailed, h.path, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short write to %s", rserr.ErrWriteFailed, h.path)
	}
	if filePos+int64(n) > h.storedSize {
		h.storedSize = filePos + int64(n)
	}
	return nil
}

// Truncate truncates the file to size bytes.
func (h *Handle) Truncate(size int64) error {
	if err := h.f.Truncate(size); err != nil {
		return fmt.Errorf("handle: truncate %s: %w", h.path, err)
	}
	h.storedSize = size
	return nil
}

// CloseRestoringMtime sets the file's mtime to the stored mtime and
// closes it, as fix does for every file it writes back to.
func (h *Handle) CloseRestoringMtime(mtimeSec int64, mtimeNsec int32) error {
	t := time.Unix(mtimeSec, int64(mtimeNsec))
	if err := h.f.Close(); err != nil {
		return err
	}
	return os.Chtimes(h.path, t, t)
}

// Close closes the file without touching its mtime.
func (h *Handle) Close() error {
	return h.f.Close()
}

// MarkUnrecoverable renames the file to `name.unrecoverable`, used when
// fix could not fully reconstruct it.
func MarkUnrecoverable(path string) error {
	return os.Rename(path, path+".unrecoverable")
}

// ClearUnrecoverable drops the `.unrecoverable` suffix, used once a file
// is fully reconstructed on a later fix pass.
func ClearUnrecoverable(path string) error {
	return os.Rename(path+".unrecoverable", path)
}

func isXLSPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".xls")
}
