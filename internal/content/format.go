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
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
)

// encode renders the store and its metadata into the line-oriented body
// that gets signed and written to disk. It does not include the trailing
// sign line; callers append that after computing the signature over this
// body.
func encode(store *blockstore.Store, meta Meta) ([]byte, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	fmt.Fprintf(w, "%s %d\n", dirBlkSize, meta.BlockSize)
	fmt.Fprintf(w, "%s %s %s\n", dirChecksum, meta.HashKind, hex.EncodeToString(meta.HashSeed))
	if meta.Rehashing() {
		fmt.Fprintf(w, "%s %s %s\n", dirPrevChecksum, meta.PrevHashKind, hex.EncodeToString(meta.PrevHashSeed))
	}
	// Every live disk gets a map line: it is what lets Load recreate the
	// disk at its persisted position before any file/blk directive names
	// it. meta.Maps only supplies the UUID column, keyed by disk name;
	// the name/position columns always come from the store itself so a
	// disk can never go unrepresented because the caller's Meta omitted it.
	uuidByName := make(map[string]string, len(meta.Maps))
	for _, m := range meta.Maps {
		uuidByName[m.DiskName] = m.UUID
	}
	for _, d := range store.Disks() {
		uuid := uuidByName[d.Name]
		if uuid == "" {
			uuid = "-"
		}
		fmt.Fprintf(w, "%s %s %d %s\n", dirMap, d.Name, d.Position, uuid)
	}

	for _, d := range store.Disks() {
		for _, f := range d.Files() {
			fmt.Fprintf(w, "%s %s %d %d %d %d %d %s\n",
				dirFile, d.Name, f.Size, f.MtimeSec, f.MtimeNsec, f.Inode, f.Physical, f.Path)
			nextExpected := uint32(0)
			for i, blk := range f.Blocks {
				if blk.ParityPos != nextExpected {
					fmt.Fprintf(w, "%s %d\n", dirOff, i)
				}
				name, ok := blockDirective(blk.State)
				if !ok {
					return nil, fmt.Errorf("content: file %s block %d has no directive for state %v", f.Path, i, blk.State)
				}
				fmt.Fprintf(w, "%s %d %s\n", name, blk.ParityPos, hex.EncodeToString(blk.Hash[:]))
				nextExpected = blk.ParityPos + 1
			}
		}
		for _, g := range d.Deleted() {
			fmt.Fprintf(w, "%s %s %d %s\n", dirHole, d.Name, g.ParityPos, hex.EncodeToString(g.Hash[:]))
		}
	}

	writeInfoRuns(w, store)

	if err := w.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeInfoRuns run-length encodes the info array as `info count time
// flags` lines, collapsing consecutive equal words into one run.
func writeInfoRuns(w *bufio.Writer, store *blockstore.Store) {
	n := store.InfoLen()
	i := 0
	for i < n {
		v := store.InfoGet(i)
		count := 1
		for i+count < n && store.InfoGet(i+count) == v {
			count++
		}
		fmt.Fprintf(w, "%s %d %d %d\n", dirInfo, count,
			blockstore.InfoTime(v), infoFlagsOf(v))
		i += count
	}
}

func infoFlagsOf(v uint32) uint32 {
	var f uint32
	if blockstore.InfoBad(v) {
		f |= blockstore.InfoFlagBad
	}
	if blockstore.InfoRehash(v) {
		f |= blockstore.InfoFlagRehash
	}
	if blockstore.InfoJustSynced(v) {
		f |= blockstore.InfoFlagJustSynced
	}
	return f
}

// decode parses a content file body (everything before the sign line)
// into a fresh BlockStore and its Meta.
func decode(body []byte) (*blockstore.Store, Meta, error) {
	var meta Meta
	var store *blockstore.Store

	type pendingFile struct {
		disk *blockstore.Disk
		size int64
		mtimeSec int64
		mtimeNsec int32
		inode, physical uint64
		path string
		blocks []pendingBlock
	}
	var cur *pendingFile
	flushFile := func() error {
		if cur == nil {
			return nil
		}
		if _, err := store.FileInsertExplicit(cur.disk, cur.path, cur.size, cur.mtimeSec, cur.mtimeNsec, cur.inode, cur.physical, toExplicitBlocks(cur.blocks)); err != nil {
			return err
		}
		cur = nil
		return nil
	}

	nextOff := -1
	infoPos := 0

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		dir := fields[0]
		args := fields[1:]

		switch dir {
		case dirBlkSize:
			if len(args) != 1 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			v, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return nil, meta, fmt.Errorf("content: line %d: %w", lineNo, err)
			}
			meta.BlockSize = uint32(v)
			store = blockstore.NewStore(meta.BlockSize)

		case dirChecksum:
			if len(args) != 2 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			seed, err := hex.DecodeString(args[1])
			if err != nil {
				return nil, meta, fmt.Errorf("content: line %d: %w", lineNo, err)
			}
			meta.HashKind = HashKind(args[0])
			meta.HashSeed = seed

		case dirPrevChecksum:
			if len(args) != 2 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			seed, err := hex.DecodeString(args[1])
			if err != nil {
				return nil, meta, fmt.Errorf("content: line %d: %w", lineNo, err)
			}
			meta.PrevHashKind = HashKind(args[0])
			meta.PrevHashSeed = seed

		case dirMap:
			if len(args) != 3 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, meta, fmt.Errorf("content: line %d: %w", lineNo, err)
			}
			meta.Maps = append(meta.Maps, MapEntry{DiskName: args[0], Position: pos, UUID: args[2]})
			if store == nil {
				return nil, meta, fmt.Errorf("content: line %d: map before blksize", lineNo)
			}
			if _, _, err := ensureDisk(store, args[0], pos); err != nil {
				return nil, meta, fmt.Errorf("content: line %d: %w", lineNo, err)
			}

		case dirFile:
			if len(args) != 7 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			if err := flushFile(); err != nil {
				return nil, meta, err
			}
			d, ok := store.DiskByName(args[0])
			if !ok {
				return nil, meta, fmt.Errorf("content: line %d: unknown disk %q", lineNo, args[0])
			}
			size, err1 := strconv.ParseInt(args[1], 10, 64)
			mtimeSec, err2 := strconv.ParseInt(args[2], 10, 64)
			mtimeNsec, err3 := strconv.ParseInt(args[3], 10, 32)
			inode, err4 := strconv.ParseUint(args[4], 10, 64)
			physical, err5 := strconv.ParseUint(args[5], 10, 64)
			if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s fields", lineNo, dir)
			}
			cur = &pendingFile{disk: d, size: size, mtimeSec: mtimeSec, mtimeNsec: int32(mtimeNsec), inode: inode, physical: physical, path: args[6]}
			nextOff = -1

		case dirOff:
			if len(args) != 1 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			v, err := strconv.Atoi(args[0])
			if err != nil {
				return nil, meta, fmt.Errorf("content: line %d: %w", lineNo, err)
			}
			nextOff = v

		case dirBlk, dirNew, dirChg:
			if cur == nil {
				return nil, meta, fmt.Errorf("content: line %d: %s outside a file", lineNo, dir)
			}
			if len(args) != 2 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			pos, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return nil, meta, fmt.Errorf("content: line %d: %w", lineNo, err)
			}
			hashBytes, err := hex.DecodeString(args[1])
			if err != nil || len(hashBytes) != blockstore.HashSize {
				return nil, meta, fmt.Errorf("content: line %d: malformed hash", lineNo)
			}
			state, _ := stateForDirective(dir)
			var h blockstore.Hash
			copy(h[:], hashBytes)
			idx := nextOff
			if idx < 0 {
				idx = len(cur.blocks)
			}
			cur.blocks = append(cur.blocks, pendingBlock{index: idx, pos: uint32(pos), state: state, hash: h})
			nextOff = -1

		case dirHole:
			if len(args) != 3 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			d, ok := store.DiskByName(args[0])
			if !ok {
				return nil, meta, fmt.Errorf("content: line %d: unknown disk %q", lineNo, args[0])
			}
			pos, err := strconv.Atoi(args[1])
			if err != nil {
				return nil, meta, fmt.Errorf("content: line %d: %w", lineNo, err)
			}
			hashBytes, err := hex.DecodeString(args[2])
			if err != nil || len(hashBytes) != blockstore.HashSize {
				return nil, meta, fmt.Errorf("content: line %d: malformed hash", lineNo)
			}
			var h blockstore.Hash
			copy(h[:], hashBytes)
			store.RestoreGhost(d, pos, h)

		case dirInfo:
			if len(args) != 3 {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s", lineNo, dir)
			}
			count, err1 := strconv.Atoi(args[0])
			tval, err2 := strconv.ParseUint(args[1], 10, 32)
			flags, err3 := strconv.ParseUint(args[2], 10, 32)
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, meta, fmt.Errorf("content: line %d: malformed %s fields", lineNo, dir)
			}
			v := blockstore.MakeInfo(uint32(tval), flags&blockstore.InfoFlagBad != 0,
				flags&blockstore.InfoFlagRehash != 0, flags&blockstore.InfoFlagJustSynced != 0)
			for k := 0; k < count; k++ {
				store.InfoSet(infoPos, v)
				infoPos++
			}

		default:
			return nil, meta, fmt.Errorf("content: line %d: unknown directive %q", lineNo, dir)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, meta, err
	}
	if err := flushFile(); err != nil {
		return nil, meta, err
	}
	if store == nil {
		return nil, meta, fmt.Errorf("content: missing %s directive", dirBlkSize)
	}
	if err := meta.validate(); err != nil {
		return nil, meta, err
	}
	return store, meta, nil
}

type pendingBlock struct {
	index int
	pos   uint32
	state blockstore.BlockState
	hash  blockstore.Hash
}

func toExplicitBlocks(blocks []pendingBlock) []blockstore.ExplicitBlock {
	out := make([]blockstore.ExplicitBlock, len(blocks))
	for _, b := range blocks {
		for len(out) <= b.index {
			out = append(out, blockstore.ExplicitBlock{})
		}
		out[b.index] = blockstore.ExplicitBlock{ParityPos: b.pos, State: b.state, Hash: b.hash}
	}
	return out
}

func ensureDisk(store *blockstore.Store, name string, pos int) (*blockstore.Disk, bool, error) {
	if d, ok := store.DiskByName(name); ok {
		return d, false, nil
	}
	d, err := store.AddDiskAtPosition(name, "", pos)
	return d, true, err
}
