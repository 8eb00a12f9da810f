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
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrLockBusy is returned by TryAcquireLock when another process already holds
// the array lock.
var ErrLockBusy = errors.New("content: array is locked by another process")

// Lock guards a content file's directory against two processes driving the
// same array at once: sync/check/fix/scrub all take it for their whole run.
// It locks the open file descriptor via flock(2), not the pathname, so it
// only protects against concurrent holders of this same lock file, not
// against the lock file being replaced out from under it.
type Lock struct {
	file *os.File
}

// lockPath returns the companion ".lock" file next to a content file path.
func lockPath(contentPath string) string {
	return contentPath + ".lock"
}

// AcquireLock blocks until it holds the exclusive lock for the content file
// at path.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(lockPath(path), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("content: opening lock file: %w", err)
	}
	if err := flockRetryEINTR(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("content: locking %s: %w", f.Name(), err)
	}
	return &Lock{file: f}, nil
}

// TryAcquireLock attempts the lock without blocking, returning ErrLockBusy
// if another process holds it.
func TryAcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(lockPath(path), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("content: opening lock file: %w", err)
	}
	err = flockRetryEINTR(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("content: locking %s: %w", f.Name(), err)
	}
	return &Lock{file: f}, nil
}

// Close releases the lock and closes its file descriptor. Idempotent.
func (l *Lock) Close() error {
	if l.file == nil {
		return nil
	}
	unlockErr := flockRetryEINTR(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if unlockErr != nil {
		return fmt.Errorf("content: unlocking: %w", unlockErr)
	}
	return closeErr
}

// flockRetryEINTR retries flock(2) across signal interruptions.
func flockRetryEINTR(fd int, how int) error {
	for {
		err := syscall.Flock(fd, how)
		if err == nil || !errors.Is(err, syscall.EINTR) {
			return err
		}
	}
}
