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

// Package parityfile provides random-access block I/O over a single
// parity level's backing file, with resize, fsync and a tracked "valid
// size" extent.
package parityfile

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/amadvance/snapraid-sub000/internal/rserr"
)

// File is one parity level's backing store.
type File struct {
	mu        sync.Mutex
	path      string
	blockSize int64
	f         *os.File
	validSize int64
}

// Create opens path read-write, creating it if missing, and ensures it is
// at least wantSize bytes, preferring real allocation (fallocate) and
// falling back to a plain truncate when the filesystem doesn't support it.
func Create(path string, blockSize int64, wantSize int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("parityfile: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parityfile: stat %s: %w", path, err)
	}

	pf := &File{path: path, blockSize: blockSize, f: f, validSize: info.Size()}
	if info.Size() < wantSize {
		if err := pf.resizeLocked(wantSize); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		pf.validSize = info.Size()
	}
	return pf, nil
}

// Resize grows or shrinks the parity file to newSize bytes. Shrinking also
// clips the recorded valid extent; growing extends allocation, preferring
// fallocate.
func (pf *File) Resize(newSize int64) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.resizeLocked(newSize)
}

func (pf *File) resizeLocked(newSize int64) error {
	if err := allocate(pf.f, newSize); err != nil {
		return fmt.Errorf("parityfile: resize %s to %d: %w", pf.path, newSize, err)
	}
	if newSize < pf.validSize {
		pf.validSize = newSize
	}
	return nil
}

// allocate grows (or shrinks) f to size, trying fallocate first and
// falling back to ftruncate when the filesystem doesn't support
// fallocate's real-allocation mode.
func allocate(f *os.File, size int64) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if size <= info.Size() {
		return f.Truncate(size)
	}
	grow := size - info.Size()
	err = unix.Fallocate(int(f.Fd()), 0, info.Size(), grow)
	if err == nil {
		return nil
	}
	if err == unix.ENOTSUP || err == unix.EOPNOTSUPP || err == unix.EINVAL {
		return f.Truncate(size)
	}
	return err
}

// Size returns the current on-disk file size.
func (pf *File) Size() (int64, error) {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	info, err := pf.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ValidSize returns the highest byte offset known to hold written parity.
func (pf *File) ValidSize() int64 {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.validSize
}

// Read reads the block at slot into buf, which must be exactly blockSize
// long. It refuses to read past the recorded valid extent.
func (pf *File) Read(slot int64, buf []byte) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	off := slot * pf.blockSize
	if off+int64(len(buf)) > pf.validSize {
		return rserr.ErrMissingData
	}
	n, err := pf.f.ReadAt(buf, off)
	if err != nil {
		return fmt.Errorf("%w: %v", rserr.ErrReadFailed, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short read at slot %d", rserr.ErrReadFailed, slot)
	}
	return nil
}

// Write writes buf (exactly blockSize long) at slot, extending the valid
// extent on success.
func (pf *File) Write(slot int64, buf []byte) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	off := slot * pf.blockSize
	need := off + int64(len(buf))
	if need > pf.validSize {
		if err := pf.resizeLocked(need); err != nil {
			return err
		}
	}
	n, err := pf.f.WriteAt(buf, off)
	if err != nil {
		if isNoSpace(err) {
			return fmt.Errorf("%w: %v", rserr.ErrNoSpace, err)
		}
		return fmt.Errorf("%w: %v", rserr.ErrWriteFailed, err)
	}
	if n != len(buf) {
		return fmt.Errorf("%w: short write at slot %d", rserr.ErrWriteFailed, slot)
	}
	if need > pf.validSize {
		pf.validSize = need
	}
	return nil
}

func isNoSpace(err error) bool {
	return err == unix.ENOSPC || unixErrorIs(err, unix.ENOSPC)
}

func unixErrorIs(err error, target error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Sync fsyncs the parity file; callers must call this before declaring a
// run successful.
func (pf *File) Sync() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	if err := pf.f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", rserr.ErrFsync, err)
	}
	return nil
}

// Close closes the underlying file descriptor.
func (pf *File) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.f.Close()
}
