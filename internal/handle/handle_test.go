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

package handle

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amadvance/snapraid-sub000/internal/rserr"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0644))
	return path
}

func TestReadPadsShortLastBlock(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bin", []byte{1, 2, 3})

	h, err := Open(path, 3, false)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 8)
	n, err := h.Read(0, buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, buf)
}

func TestReadPastStoredSizeFails(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bin", []byte{1, 2, 3})

	h, err := Open(path, 3, false)
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 8)
	_, err = h.Read(3, buf)
	require.True(t, errors.Is(err, rserr.ErrMissingData))
}

func TestSawLargerIsSticky(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bin", []byte{1, 2, 3, 4})

	h, err := Open(path, 2, false)
	require.NoError(t, err)
	defer h.Close()

	require.False(t, h.SawLarger())
	buf := make([]byte, 2)
	_, err = h.Read(0, buf)
	require.NoError(t, err)
	require.True(t, h.SawLarger())
}

func TestXLSHeaderNeutralizationIsOptIn(t *testing.T) {
	dir := t.TempDir()
	rec := make([]byte, 16)
	binary.LittleEndian.PutUint16(rec[0:2], xlsTimestampTag)
	binary.LittleEndian.PutUint16(rec[2:4], 12)
	for i := 4; i < 16; i++ {
		rec[i] = 0xAB
	}
	path := writeFile(t, dir, "book.xls", rec)

	hOff, err := Open(path, int64(len(rec)), false)
	require.NoError(t, err)
	defer hOff.Close()
	bufOff := make([]byte, len(rec))
	_, err = hOff.Read(0, bufOff)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), bufOff[4], "disabled: bytes untouched")

	hOn, err := Open(path, int64(len(rec)), true)
	require.NoError(t, err)
	defer hOn.Close()
	bufOn := make([]byte, len(rec))
	_, err = hOn.Read(0, bufOn)
	require.NoError(t, err)
	for i := 4; i < 12; i++ {
		require.Equalf(t, byte(0), bufOn[i], "byte %d should be neutralized", i)
	}
	require.Equal(t, byte(0xAB), bufOn[12], "bytes past the 8-byte timestamp field untouched")
}

func TestMarkAndClearUnrecoverable(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.bin", []byte{1})

	require.NoError(t, MarkUnrecoverable(path))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".unrecoverable")
	require.NoError(t, err)

	require.NoError(t, ClearUnrecoverable(path))
	_, err = os.Stat(path)
	require.NoError(t, err)
}
