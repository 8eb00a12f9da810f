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

package blockstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *Disk) {
	t.Helper()
	s := NewStore(64)
	d, err := s.AddDisk("d0", "/data/d0")
	require.NoError(t, err)
	return s, d
}

func TestAddDiskPositionReuse(t *testing.T) {
	s := NewStore(64)
	d0, err := s.AddDisk("d0", "/d0")
	require.NoError(t, err)
	require.Equal(t, 0, d0.Position)

	d1, err := s.AddDisk("d1", "/d1")
	require.NoError(t, err)
	require.Equal(t, 1, d1.Position)

	// Simulate d0 having been dropped from config and d0's position
	// reloaded via the persisted map, leaving a gap at 0.
	s2 := NewStore(64)
	_, err = s2.AddDiskAtPosition("d1", "/d1", 1)
	require.NoError(t, err)
	d2, err := s2.AddDisk("d2", "/d2")
	require.NoError(t, err)
	require.Equal(t, 0, d2.Position, "must reuse the gap left by the dropped disk")
}

func TestFileInsertAllocatesSlots(t *testing.T) {
	s, d := newTestStore(t)
	f, err := s.FileInsert(d, "a.txt", 130, 1000, 0, 42, 0)
	require.NoError(t, err)
	require.Equal(t, 3, f.BlockMax()) // ceil(130/64) = 3
	for _, blk := range f.Blocks {
		require.Equal(t, StateNew, blk.State)
	}
	require.Equal(t, 3, d.freeHint)
}

func TestFileRemoveLifecycle(t *testing.T) {
	s, d := newTestStore(t)
	f, err := s.FileInsert(d, "a.txt", 128, 1000, 0, 42, 0)
	require.NoError(t, err)

	// Promote both blocks to BLK, as sync would.
	f.Blocks[0].State = StateBlk
	f.Blocks[0].Hash = Hash{1}
	f.Blocks[1].State = StateBlk
	f.Blocks[1].Hash = Hash{2}

	require.NoError(t, s.FileRemove(d, f))

	require.Len(t, d.Deleted(), 2)
	require.Equal(t, 0, d.freeHint)
	blk, _, del, owner := d.SlotAt(0)
	require.Nil(t, blk)
	require.Nil(t, owner)
	require.NotNil(t, del)
	require.Equal(t, Hash{1}, del.Hash)
}

func TestInsertReclaimsDeletedAsCHG(t *testing.T) {
	s, d := newTestStore(t)
	f1, err := s.FileInsert(d, "a.txt", 64, 1000, 0, 1, 0)
	require.NoError(t, err)
	f1.Blocks[0].State = StateBlk
	f1.Blocks[0].Hash = Hash{9, 9}
	require.NoError(t, s.FileRemove(d, f1))
	require.Equal(t, 0, d.freeHint)

	f2, err := s.FileInsert(d, "b.txt", 64, 2000, 0, 2, 0)
	require.NoError(t, err)
	require.Equal(t, StateChg, f2.Blocks[0].State)
	require.Equal(t, Hash{9, 9}, f2.Blocks[0].Hash)
	require.Empty(t, d.Deleted())
}

func TestNewBlockRemovalLeavesEmptySlot(t *testing.T) {
	s, d := newTestStore(t)
	f, err := s.FileInsert(d, "a.txt", 64, 1000, 0, 1, 0)
	require.NoError(t, err)
	require.Equal(t, StateNew, f.Blocks[0].State)

	require.NoError(t, s.FileRemove(d, f))
	require.Empty(t, d.Deleted())
	blk, _, del, _ := d.SlotAt(0)
	require.Nil(t, blk)
	require.Nil(t, del)
}

func TestParityAllocatedAndUsedSize(t *testing.T) {
	s, d := newTestStore(t)
	f, err := s.FileInsert(d, "a.txt", 192, 1000, 0, 1, 0) // 3 blocks
	require.NoError(t, err)
	require.Equal(t, 3, s.ParityAllocatedSize())
	require.Equal(t, 0, s.ParityUsedSize())

	f.Blocks[0].State = StateBlk
	f.Blocks[1].State = StateBlk
	require.Equal(t, 2, s.ParityUsedSize())
}

func TestIsInvalidDetectsPendingBlocks(t *testing.T) {
	s, d := newTestStore(t)
	require.False(t, s.IsInvalid())

	_, err := s.FileInsert(d, "a.txt", 64, 1000, 0, 1, 0)
	require.NoError(t, err)
	require.True(t, s.IsInvalid(), "a fresh NEW block is pending parity")
}

func TestSlotHasPendingParityIsScopedToOneSlot(t *testing.T) {
	s, d := newTestStore(t)
	_, err := s.FileInsert(d, "a.txt", 64, 1000, 0, 1, 0)
	require.NoError(t, err)
	require.True(t, s.SlotHasPendingParity(0), "a fresh NEW block is pending parity")

	s2, d2 := newTestStore(t)
	f, err := s2.FileInsert(d2, "b.txt", 128, 1000, 0, 1, 0)
	require.NoError(t, err)
	f.Blocks[0].State = StateBlk
	f.Blocks[1].State = StateBlk
	require.False(t, s2.SlotHasPendingParity(0))
	require.False(t, s2.SlotHasPendingParity(1))

	_, err = s2.FileInsert(d2, "c.txt", 64, 2000, 0, 2, 0)
	require.NoError(t, err)
	require.False(t, s2.SlotHasPendingParity(0), "slot 0 itself is still synced even though the disk has a pending slot elsewhere")
}

func TestInfoArrayDefaultsToZero(t *testing.T) {
	s, _ := newTestStore(t)
	require.Equal(t, uint32(0), s.InfoGet(1000))

	v := MakeInfo(12345, true, false, true)
	s.InfoSet(5, v)
	require.Equal(t, uint32(12344), InfoTime(s.InfoGet(5)), "the time's low three bits are masked off for the flags")
	require.True(t, InfoBad(s.InfoGet(5)))
	require.False(t, InfoRehash(s.InfoGet(5)))
	require.True(t, InfoJustSynced(s.InfoGet(5)))
}
