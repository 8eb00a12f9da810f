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

// Package rsconf reads the small line-oriented configuration grammar
// needed to construct a pipeline.Array: block size, one or more parity
// device paths, one or more content file paths, named data disks, the
// autosave threshold and the hash kind. This is a deliberate slice of
// the full config grammar (no exclude/include filters, no pooling, no
// smart thresholds): enough to drive the core and the CLI shim.
package rsconf

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/amadvance/snapraid-sub000/internal/content"
	"github.com/amadvance/snapraid-sub000/internal/rserr"
)

// Disk is one named data disk and its root directory.
type Disk struct {
	Name string
	Dir  string
}

// Config is the parsed configuration.
type Config struct {
	BlockSizeKiB  uint32
	ParityPaths   []string // index 0 is the first parity level, 1 the second, ...
	ContentPaths  []string
	Disks         []Disk
	AutosaveBytes int64
	HashKind      content.HashKind
}

// BlockSize returns the block size in bytes.
func (c Config) BlockSize() uint32 { return c.BlockSizeKiB * 1024 }

// parityTag maps a config tag to its zero-based parity level: "parity" is
// level 0, "q-parity" level 1, "3-parity".."6-parity" levels 2-5.
var parityTag = map[string]int{
	"parity":   0,
	"q-parity": 1,
	"3-parity": 2,
	"4-parity": 3,
	"5-parity": 4,
	"6-parity": 5,
}

// Load parses a configuration stream.
func Load(r io.Reader) (Config, error) {
	var cfg Config
	cfg.HashKind = content.HashMurmur3
	slots := map[int]string{}

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.SplitN(text, " ", 2)
		tag := fields[0]
		var rest string
		if len(fields) == 2 {
			rest = strings.TrimSpace(fields[1])
		}

		switch {
		case tag == "block_size":
			v, err := strconv.ParseUint(rest, 10, 32)
			if err != nil {
				return Config{}, fmt.Errorf("rsconf: line %d: invalid block_size: %w: %w", line, err, rserr.ErrConfigInvalid)
			}
			cfg.BlockSizeKiB = uint32(v)

		case tag == "content":
			if rest == "" {
				return Config{}, fmt.Errorf("rsconf: line %d: empty content path: %w", line, rserr.ErrConfigInvalid)
			}
			cfg.ContentPaths = append(cfg.ContentPaths, rest)

		case tag == "disk":
			name, dir, ok := strings.Cut(rest, " ")
			if !ok || name == "" || strings.TrimSpace(dir) == "" {
				return Config{}, fmt.Errorf("rsconf: line %d: invalid disk specification: %w", line, rserr.ErrConfigInvalid)
			}
			cfg.Disks = append(cfg.Disks, Disk{Name: name, Dir: strings.TrimSpace(dir)})

		case tag == "autosave":
			v, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				return Config{}, fmt.Errorf("rsconf: line %d: invalid autosave: %w: %w", line, err, rserr.ErrConfigInvalid)
			}
			cfg.AutosaveBytes = v

		case tag == "hash":
			kind := content.HashKind(rest)
			cfg.HashKind = kind

		default:
			if lvl, ok := parityTag[tag]; ok {
				if rest == "" {
					return Config{}, fmt.Errorf("rsconf: line %d: empty %s path: %w", line, tag, rserr.ErrConfigInvalid)
				}
				if existing, dup := slots[lvl]; dup {
					return Config{}, fmt.Errorf("rsconf: line %d: duplicate %s specification (already %q): %w", line, tag, existing, rserr.ErrConfigInvalid)
				}
				slots[lvl] = rest
				continue
			}
			return Config{}, fmt.Errorf("rsconf: line %d: unknown directive %q: %w", line, tag, rserr.ErrConfigInvalid)
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, fmt.Errorf("rsconf: %w", err)
	}

	cfg.ParityPaths = flattenParitySlots(slots)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// flattenParitySlots turns the sparse level->path map into a dense slice,
// requiring every level below the highest specified one to be present
// (levels 2-6 build on 1-2, never skip one).
func flattenParitySlots(slots map[int]string) []string {
	max := -1
	for lvl := range slots {
		if lvl > max {
			max = lvl
		}
	}
	out := make([]string, max+1)
	for lvl := 0; lvl <= max; lvl++ {
		out[lvl] = slots[lvl]
	}
	return out
}

func (c Config) validate() error {
	if c.BlockSizeKiB == 0 {
		return fmt.Errorf("rsconf: missing block_size: %w", rserr.ErrConfigInvalid)
	}
	if len(c.ParityPaths) == 0 || len(c.ParityPaths) > 6 {
		return fmt.Errorf("rsconf: need 1 to 6 parity levels, got %d: %w", len(c.ParityPaths), rserr.ErrConfigInvalid)
	}
	for i, p := range c.ParityPaths {
		if p == "" {
			return fmt.Errorf("rsconf: parity level %d has no path configured: %w", i, rserr.ErrConfigInvalid)
		}
	}
	if len(c.ContentPaths) == 0 {
		return fmt.Errorf("rsconf: need at least one content path: %w", rserr.ErrConfigInvalid)
	}
	if len(c.Disks) == 0 {
		return fmt.Errorf("rsconf: need at least one disk: %w", rserr.ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(c.Disks))
	for _, d := range c.Disks {
		if seen[d.Name] {
			return fmt.Errorf("rsconf: duplicate disk name %q: %w", d.Name, rserr.ErrConfigInvalid)
		}
		seen[d.Name] = true
	}
	if !c.HashKind.Valid() {
		return fmt.Errorf("rsconf: invalid hash kind %q: %w", c.HashKind, rserr.ErrConfigInvalid)
	}
	return nil
}

// DiskDirs returns the disk name -> root directory map a pipeline.Array needs.
func (c Config) DiskDirs() map[string]string {
	m := make(map[string]string, len(c.Disks))
	for _, d := range c.Disks {
		m[d.Name] = d.Dir
	}
	return m
}
