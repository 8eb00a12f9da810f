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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
)

func buildTestStore(t *testing.T) *blockstore.Store {
	t.Helper()
	store := blockstore.NewStore(256 * 1024)
	d0, err := store.AddDisk("d0", "/data/d0")
	require.NoError(t, err)
	d1, err := store.AddDisk("d1", "/data/d1")
	require.NoError(t, err)

	_, err = store.FileInsert(d0, "movies/a.mkv", int64(3*256*1024), 1000, 0, 11, 1)
	require.NoError(t, err)
	f1, err := store.FileInsert(d1, "docs/b.txt", int64(256*1024), 2000, 5, 22, 2)
	require.NoError(t, err)

	for i := range f1.Blocks {
		f1.Blocks[i].State = blockstore.StateBlk
		f1.Blocks[i].Hash = blockstore.Hash{1, 2, 3}
	}

	store.InfoSet(0, blockstore.MakeInfo(1700000000, false, false, true))
	store.InfoSet(1, blockstore.MakeInfo(1700000000, false, false, true))
	store.InfoSet(2, blockstore.MakeInfo(1700000000, true, false, false))

	return store
}

func testMeta() Meta {
	return Meta{
		BlockSize: 256 * 1024,
		HashKind:  HashMurmur3,
		HashSeed:  []byte{0xaa, 0xbb, 0xcc, 0xdd},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := buildTestStore(t)
	meta := testMeta()

	path := filepath.Join(dir, "snapraid.content")
	require.NoError(t, Save(store, meta, []string{path}))

	loaded, loadedMeta, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, meta.BlockSize, loadedMeta.BlockSize)
	require.Equal(t, meta.HashKind, loadedMeta.HashKind)
	require.Equal(t, meta.HashSeed, loadedMeta.HashSeed)
	require.False(t, loadedMeta.Rehashing())

	require.Len(t, loaded.Disks(), 2)
	d0, ok := loaded.DiskByName("d0")
	require.True(t, ok)
	require.Len(t, d0.Files(), 1)
	f0 := d0.Files()[0]
	require.Equal(t, "movies/a.mkv", f0.Path)
	require.Len(t, f0.Blocks, 3)
	require.Equal(t, blockstore.StateNew, f0.Blocks[0].State)

	d1, ok := loaded.DiskByName("d1")
	require.True(t, ok)
	f1 := d1.Files()[0]
	require.Equal(t, blockstore.StateBlk, f1.Blocks[0].State)
	require.Equal(t, blockstore.Hash{1, 2, 3}, f1.Blocks[0].Hash)

	require.Equal(t, uint32(1700000000), blockstore.InfoTime(loaded.InfoGet(0)))
	require.True(t, blockstore.InfoBad(loaded.InfoGet(2)))
}

func TestLoadDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	store := buildTestStore(t)
	path := filepath.Join(dir, "snapraid.content")
	require.NoError(t, Save(store, testMeta(), []string{path}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[10] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, _, err = Load(path)
	require.Error(t, err)
}

func TestLoadRejectsTruncation(t *testing.T) {
	dir := t.TempDir()
	store := buildTestStore(t)
	path := filepath.Join(dir, "snapraid.content")
	require.NoError(t, Save(store, testMeta(), []string{path}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)/2], 0o644))

	_, _, err = Load(path)
	require.Error(t, err)
}

func TestSaveWritesAllCopies(t *testing.T) {
	dir := t.TempDir()
	store := buildTestStore(t)
	p1 := filepath.Join(dir, "a.content")
	p2 := filepath.Join(dir, "sub", "b.content")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))

	require.NoError(t, Save(store, testMeta(), []string{p1, p2}))

	for _, p := range []string{p1, p2} {
		_, _, err := Load(p)
		require.NoError(t, err)
	}
}

func TestRehashMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := buildTestStore(t)
	meta := testMeta()
	meta.PrevHashKind = HashSpooky2
	meta.PrevHashSeed = []byte{1, 2, 3, 4}

	path := filepath.Join(dir, "snapraid.content")
	require.NoError(t, Save(store, meta, []string{path}))

	_, loadedMeta, err := Load(path)
	require.NoError(t, err)
	require.True(t, loadedMeta.Rehashing())
	require.Equal(t, HashSpooky2, loadedMeta.PrevHashKind)
	require.Equal(t, meta.PrevHashSeed, loadedMeta.PrevHashSeed)
}

func TestLockExclusion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapraid.content")

	lk, err := AcquireLock(path)
	require.NoError(t, err)

	_, err = TryAcquireLock(path)
	require.ErrorIs(t, err, ErrLockBusy)

	require.NoError(t, lk.Close())

	lk2, err := TryAcquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lk2.Close())
}

func TestMemhashDistinguishesKinds(t *testing.T) {
	data := []byte("some block content")
	seed := []byte{1, 2, 3}

	h1, err := Memhash(HashMurmur3, seed, data)
	require.NoError(t, err)
	h2, err := Memhash(HashSpooky2, seed, data)
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	_, err = Memhash(HashKind("bogus"), seed, data)
	require.Error(t, err)
}
