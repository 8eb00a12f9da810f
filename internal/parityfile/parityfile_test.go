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

package parityfile

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amadvance/snapraid-sub000/internal/rserr"
)

func TestCreateResizeReadWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parity.bin")

	pf, err := Create(path, 64, 0)
	require.NoError(t, err)
	defer pf.Close()

	require.NoError(t, pf.Resize(64*4))
	size, err := pf.Size()
	require.NoError(t, err)
	require.Equal(t, int64(64*4), size)

	buf := make([]byte, 64)
	for i := range buf {
		buf[i] = byte(i)
	}
	require.NoError(t, pf.Write(2, buf))
	require.NoError(t, pf.Sync())

	out := make([]byte, 64)
	require.NoError(t, pf.Read(2, out))
	require.Equal(t, buf, out)
}

func TestReadPastValidSizeFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parity.bin")

	pf, err := Create(path, 64, 0)
	require.NoError(t, err)
	defer pf.Close()

	out := make([]byte, 64)
	err = pf.Read(0, out)
	require.True(t, errors.Is(err, rserr.ErrMissingData))
}

func TestShrinkClipsValidSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "parity.bin")

	pf, err := Create(path, 64, 64*4)
	require.NoError(t, err)
	defer pf.Close()
	// Allocation alone does not count as written parity; writing the last
	// slot makes the whole extent valid.
	require.NoError(t, pf.Write(3, make([]byte, 64)))
	require.Equal(t, int64(64*4), pf.ValidSize())

	require.NoError(t, pf.Resize(64))
	require.Equal(t, int64(64), pf.ValidSize())

	out := make([]byte, 64)
	err = pf.Read(1, out)
	require.True(t, errors.Is(err, rserr.ErrMissingData))
}
