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

// Command snapraid-core is a thin CLI shim over the pipeline: it wires a
// config file and a sync/check/fix/scrub/rehash verb to an Array, logs
// through corelog, and exits with the codes of spec §6. It intentionally
// does not implement the full option surface (filters, pooling, smart,
// dup) of the original tool; those remain out of scope.
package main

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/amadvance/snapraid-sub000/internal/blockstore"
	"github.com/amadvance/snapraid-sub000/internal/content"
	"github.com/amadvance/snapraid-sub000/internal/corelog"
	"github.com/amadvance/snapraid-sub000/internal/pipeline"
	"github.com/amadvance/snapraid-sub000/internal/rserr"
	"github.com/amadvance/snapraid-sub000/internal/rsconf"
	"github.com/amadvance/snapraid-sub000/internal/scanner"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("snapraid-core", pflag.ContinueOnError)
	confPath := flags.String("conf", "", "path to the configuration file")
	cmd := flags.String("cmd", "", "sync|check|fix|scrub|rehash")
	rangeFlag := flags.String("range", "", "slot range start,end (defaults to the whole array)")
	autosave := flags.Int64("autosave", 0, "autosave threshold in bytes (0 disables, overrides the config file)")
	quiet := flags.Bool("quiet", false, "suppress info/warn output")
	jsonLog := flags.Bool("json", false, "emit log lines as JSON")
	progress := flags.Bool("progress", false, "show a progress bar")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if *quiet {
		corelog.EnableQuiet()
	}
	if *jsonLog {
		corelog.EnableJSON()
	}

	silentErrors, runErr := dispatch(*confPath, *cmd, *rangeFlag, *autosave, *progress)
	if runErr != nil {
		corelog.Errorf("%v", runErr)
	}
	return rserr.ExitCode(runErr, silentErrors)
}

func dispatch(confPath, cmdName, rangeFlag string, autosaveOverride int64, showProgress bool) (int, error) {
	if confPath == "" {
		return 0, fmt.Errorf("missing --conf: %w", rserr.ErrConfigInvalid)
	}

	f, err := os.Open(confPath)
	if err != nil {
		return 0, fmt.Errorf("opening config %q: %w", confPath, rserr.ErrConfigInvalid)
	}
	cfg, err := rsconf.Load(f)
	f.Close()
	if err != nil {
		return 0, err
	}

	autosaveBytes := cfg.AutosaveBytes
	if autosaveOverride != 0 {
		autosaveBytes = autosaveOverride
	}

	lock, err := content.TryAcquireLock(cfg.ContentPaths[0])
	if err != nil {
		return 0, err
	}
	defer lock.Close()

	store, meta, err := loadOrInit(cfg)
	if err != nil {
		return 0, err
	}

	array, err := pipeline.OpenArray(store, meta, cfg.ContentPaths, cfg.ParityPaths, cfg.DiskDirs(), false, autosaveBytes, pipeline.SystemClock)
	if err != nil {
		return 0, err
	}
	defer array.Close()

	// SIGINT requests a cooperative stop at the next slot boundary.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		array.Interrupt.Trigger()
	}()

	if showProgress {
		array.Progress = pipeline.NewProgress(int64(store.ParityAllocatedSize()) * int64(store.BlockSize))
		array.Progress.Start()
	}

	start, end, err := parseRange(rangeFlag, store.ParityAllocatedSize())
	if err != nil {
		return 0, err
	}

	silentErrors := 0
	switch cmdName {
	case "sync":
		events, err := scanner.Scan(store, cfg.DiskDirs())
		if err != nil {
			return 0, err
		}
		if err := pipeline.ApplyScan(store, events); err != nil {
			return 0, err
		}
		res, err := array.Sync()
		if err != nil {
			return 0, err
		}
		corelog.Infof("sync: %d slots processed, %d bytes read, interrupted=%v", res.SlotsProcessed, res.BytesRead, res.Interrupted)
	case "check":
		res, err := array.Check(start, end)
		if err != nil {
			return 0, err
		}
		silentErrors = logCheckResult("check", res)
	case "fix":
		res, err := array.Fix(start, end)
		if err != nil {
			return 0, err
		}
		silentErrors = logCheckResult("fix", res)
	case "scrub":
		res, err := array.Scrub(pipeline.ScrubPlan{})
		if err != nil {
			return 0, err
		}
		silentErrors = logCheckResult("scrub", res)
	case "rehash":
		res, err := array.Rehash()
		if err != nil {
			return 0, err
		}
		silentErrors = logCheckResult("rehash", res)
	default:
		return 0, fmt.Errorf("unknown --cmd %q: %w", cmdName, rserr.ErrConfigInvalid)
	}

	if showProgress {
		corelog.Infof("%s", array.Progress.Finish())
	}
	return silentErrors, nil
}

func loadOrInit(cfg rsconf.Config) (*blockstore.Store, content.Meta, error) {
	for _, p := range cfg.ContentPaths {
		if _, err := os.Stat(p); err == nil {
			store, meta, err := content.Load(p)
			return store, meta, err
		}
	}

	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return nil, content.Meta{}, fmt.Errorf("generating hash seed: %w", err)
	}
	meta := content.Meta{BlockSize: cfg.BlockSize(), HashKind: cfg.HashKind, HashSeed: seed}
	store := blockstore.NewStore(cfg.BlockSize())
	for _, d := range cfg.Disks {
		if _, err := store.AddDisk(d.Name, d.Dir); err != nil {
			return nil, content.Meta{}, err
		}
	}
	return store, meta, nil
}

func parseRange(spec string, blockmax int) (int, int, error) {
	if spec == "" {
		return 0, blockmax, nil
	}
	parts := strings.SplitN(spec, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid --range %q: %w", spec, rserr.ErrConfigInvalid)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil || start < 0 || end < start || end > blockmax {
		return 0, 0, fmt.Errorf("invalid --range %q: %w", spec, rserr.ErrConfigInvalid)
	}
	return start, end, nil
}

// logCheckResult prints a summary and returns the count of flagged slots,
// the "silent error" count spec §6's exit code 2 reports.
func logCheckResult(verb string, res pipeline.CheckResult) int {
	badSlots := 0
	for _, r := range res.Reports {
		if r.Unrecoverable {
			badSlots++
			corelog.Warnf("%s: slot %d unrecoverable", verb, r.Slot)
		}
	}
	corelog.Infof("%s: %d slots flagged, %d unrecoverable, interrupted=%v", verb, len(res.Reports), badSlots, res.Interrupted)
	return len(res.Reports)
}
