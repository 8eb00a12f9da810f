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

package pipeline

import (
	"bytes"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
	"github.com/amadvance/snapraid-sub000/internal/content"
)

const testBlockSize = 64

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

// harness wires an Array over temp-dir disks and temp parity/content
// files, with direct access to the underlying store and disk dirs so
// tests can write/corrupt files and make store-level assertions.
type harness struct {
	t        *testing.T
	dir      string
	store    *blockstore.Store
	diskDirs map[string]string
	array    *Array
	clock    *fakeClock
}

func newHarness(t *testing.T, diskNames []string, level int) *harness {
	t.Helper()
	root := t.TempDir()

	store := blockstore.NewStore(testBlockSize)
	diskDirs := make(map[string]string, len(diskNames))
	for _, name := range diskNames {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0755))
		diskDirs[name] = dir
		_, err := store.AddDisk(name, dir)
		require.NoError(t, err)
	}

	meta := content.Meta{
		BlockSize: testBlockSize,
		HashKind:  content.HashMurmur3,
		HashSeed:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	parityPaths := make([]string, level)
	for i := range parityPaths {
		parityPaths[i] = filepath.Join(root, "parity"+string(rune('0'+i)))
	}
	contentPaths := []string{filepath.Join(root, "content")}

	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	array, err := OpenArray(store, meta, contentPaths, parityPaths, diskDirs, false, 0, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = array.Close() })

	return &harness{t: t, dir: root, store: store, diskDirs: diskDirs, array: array, clock: clock}
}

// addFile writes data to disk/path and registers it in the store,
// returning the inserted File.
func (h *harness) addFile(diskName, path string, data []byte) *blockstore.File {
	h.t.Helper()
	full := filepath.Join(h.diskDirs[diskName], path)
	require.NoError(h.t, os.WriteFile(full, data, 0644))

	info, err := os.Stat(full)
	require.NoError(h.t, err)
	st := info.Sys().(*syscall.Stat_t)

	disk, ok := h.store.DiskByName(diskName)
	require.True(h.t, ok)
	f, err := h.store.FileInsert(disk, path, info.Size(), info.ModTime().Unix(), int32(info.ModTime().Nanosecond()), st.Ino, 0)
	require.NoError(h.t, err)
	return f
}

// corrupt overwrites a file's bytes in place (same length, same mtime)
// without touching the store, simulating silent bitrot check/fix must
// catch via the hash, independent of sync's identity check.
func (h *harness) corrupt(diskName, path string) {
	h.t.Helper()
	full := filepath.Join(h.diskDirs[diskName], path)
	info, err := os.Stat(full)
	require.NoError(h.t, err)
	garbage := bytes.Repeat([]byte{0xee}, int(info.Size()))
	require.NoError(h.t, os.WriteFile(full, garbage, 0644))
	require.NoError(h.t, os.Chtimes(full, info.ModTime(), info.ModTime()))
}

func (h *harness) read(diskName, path string) []byte {
	h.t.Helper()
	b, err := os.ReadFile(filepath.Join(h.diskDirs[diskName], path))
	require.NoError(h.t, err)
	return b
}

func block(n byte, size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = n
	}
	return b
}

func TestSyncThenFixRecoversSingleDiskFailure(t *testing.T) {
	h := newHarness(t, []string{"d0", "d1"}, 1)

	original0 := block(0xaa, testBlockSize)
	h.addFile("d0", "a.bin", original0)
	h.addFile("d1", "b.bin", block(0xbb, testBlockSize))

	res, err := h.array.Sync()
	require.NoError(t, err)
	require.Equal(t, 1, res.SlotsProcessed)
	require.False(t, res.Interrupted)

	h.corrupt("d0", "a.bin")
	require.NotEqual(t, original0, h.read("d0", "a.bin"))

	fixRes, err := h.array.Fix(0, h.store.ParityAllocatedSize())
	require.NoError(t, err)
	require.Len(t, fixRes.Reports, 1)
	require.True(t, fixRes.Reports[0].Fixed)
	require.False(t, fixRes.Reports[0].Unrecoverable)

	require.Equal(t, original0, h.read("d0", "a.bin"))
}

func TestFixRecoversTwoDiskFailureWithDualParity(t *testing.T) {
	h := newHarness(t, []string{"d0", "d1", "d2"}, 2)

	orig0 := block(0x11, testBlockSize)
	orig1 := block(0x22, testBlockSize)
	h.addFile("d0", "a.bin", orig0)
	h.addFile("d1", "b.bin", orig1)
	h.addFile("d2", "c.bin", block(0x33, testBlockSize))

	_, err := h.array.Sync()
	require.NoError(t, err)

	h.corrupt("d0", "a.bin")
	h.corrupt("d1", "b.bin")

	fixRes, err := h.array.Fix(0, h.store.ParityAllocatedSize())
	require.NoError(t, err)
	require.Len(t, fixRes.Reports, 1)
	require.True(t, fixRes.Reports[0].Fixed)

	require.Equal(t, orig0, h.read("d0", "a.bin"))
	require.Equal(t, orig1, h.read("d1", "b.bin"))
}

func TestDeletedGhostForcesParityResyncBeforeClearing(t *testing.T) {
	h := newHarness(t, []string{"d0", "d1"}, 1)

	h.addFile("d0", "a.bin", block(0x44, testBlockSize))
	h.addFile("d1", "b.bin", block(0x55, testBlockSize))
	_, err := h.array.Sync()
	require.NoError(t, err)

	disk0, ok := h.store.DiskByName("d0")
	require.True(t, ok)
	f0, ok := disk0.FileByPath("a.bin")
	require.True(t, ok)
	require.NoError(t, h.store.FileRemove(disk0, f0))
	require.Len(t, disk0.Deleted(), 1, "removal leaves a ghost until the next sync absorbs it")

	require.NoError(t, os.Remove(filepath.Join(h.diskDirs["d0"], "a.bin")))

	syncRes, err := h.array.Sync()
	require.NoError(t, err)
	require.Equal(t, 1, syncRes.SlotsProcessed, "the ghost's slot must be resynced, not silently dropped")
	require.Empty(t, disk0.Deleted(), "sync clears the ghost only after its zero contribution is baked into parity")

	checkRes, err := h.array.Check(0, h.store.ParityAllocatedSize())
	require.NoError(t, err)
	require.Empty(t, checkRes.Reports, "parity must already reflect the removal, not flag corruption")
}

func TestCheckSkipsSlotWithUnsyncedBlock(t *testing.T) {
	h := newHarness(t, []string{"d0", "d1"}, 1)

	h.addFile("d0", "a.bin", block(0xaa, testBlockSize))
	h.addFile("d1", "b.bin", block(0xbb, testBlockSize))
	_, err := h.array.Sync()
	require.NoError(t, err)

	// A file added but not yet synced occupies a new slot whose block is
	// StateNew: parity for it doesn't exist yet, so checking it now would
	// wrongly read it as a failed/corrupt block.
	h.addFile("d0", "c.bin", block(0xcc, testBlockSize))

	res, err := h.array.Check(0, h.store.ParityAllocatedSize())
	require.NoError(t, err)
	require.Empty(t, res.Reports, "a pending NEW block must not be reported as corrupt or unrecoverable")
}

func TestInterruptedSyncStopsAtSlotBoundaryAndResumesCleanly(t *testing.T) {
	h := newHarness(t, []string{"d0", "d1"}, 1)

	for i := 0; i < 3; i++ {
		h.addFile("d0", string(rune('a'+i))+".bin", block(byte(0x10+i), testBlockSize))
		h.addFile("d1", string(rune('x'+i))+".bin", block(byte(0x20+i), testBlockSize))
	}

	h.array.Interrupt.Trigger()
	res, err := h.array.Sync()
	require.NoError(t, err)
	require.True(t, res.Interrupted)
	require.Equal(t, 1, res.SlotsProcessed, "stops after the first slot once triggered")

	h.array.Interrupt = NewInterrupt()
	res2, err := h.array.Sync()
	require.NoError(t, err)
	require.False(t, res2.Interrupted)
	require.Equal(t, 2, res2.SlotsProcessed, "the remaining two slots finish the job")

	checkRes, err := h.array.Check(0, h.store.ParityAllocatedSize())
	require.NoError(t, err)
	require.Empty(t, checkRes.Reports)
}

func TestScrubDetectsSilentParityCorruption(t *testing.T) {
	h := newHarness(t, []string{"d0", "d1"}, 1)

	h.addFile("d0", "a.bin", block(0x66, testBlockSize))
	h.addFile("d1", "b.bin", block(0x77, testBlockSize))
	_, err := h.array.Sync()
	require.NoError(t, err)

	buf := make([]byte, testBlockSize)
	require.NoError(t, h.array.Parities[0].Read(0, buf))
	buf[0] ^= 0xff
	require.NoError(t, h.array.Parities[0].Write(0, buf))

	res, err := h.array.Scrub(ScrubPlan{Fraction: 1.0})
	require.NoError(t, err)
	require.Len(t, res.Reports, 1)
	require.Contains(t, res.Reports[0].ParityCorrupt, 0)
	require.True(t, res.Reports[0].Fixed)

	fixed := make([]byte, testBlockSize)
	require.NoError(t, h.array.Parities[0].Read(0, fixed))
	require.NotEqual(t, buf, fixed)
}

func TestRehashMigratesBlockHashesWithoutTouchingParity(t *testing.T) {
	h := newHarness(t, []string{"d0", "d1"}, 1)

	h.addFile("d0", "a.bin", block(0x88, testBlockSize))
	h.addFile("d1", "b.bin", block(0x99, testBlockSize))
	_, err := h.array.Sync()
	require.NoError(t, err)

	var beforeParity [testBlockSize]byte
	require.NoError(t, h.array.Parities[0].Read(0, beforeParity[:]))

	require.NoError(t, h.array.BeginRehash(content.HashSpooky2, []byte{9, 9, 9, 9}))
	require.True(t, h.array.Meta.Rehashing())

	rehashRes, err := h.array.Rehash()
	require.NoError(t, err)
	require.Empty(t, rehashRes.Reports)
	require.False(t, h.array.Meta.Rehashing(), "migration clears once every slot is rebound")

	var afterParity [testBlockSize]byte
	require.NoError(t, h.array.Parities[0].Read(0, afterParity[:]))
	require.Equal(t, beforeParity, afterParity, "rehash never rewrites parity")

	checkRes, err := h.array.Check(0, h.store.ParityAllocatedSize())
	require.NoError(t, err)
	require.Empty(t, checkRes.Reports, "content is still byte-identical, just checked under the new hash kind")
}
