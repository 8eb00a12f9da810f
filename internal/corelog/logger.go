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

// Package corelog is the small colored logger the pipeline and CLI shim
// write through. It is intentionally not a generic logging framework: one
// quiet flag, one JSON flag, and a handful of level-tagged print helpers,
// the same shape as the teacher's cmd/logger package.
package corelog

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
)

// Level identifies the severity of a log line.
type Level int8

// Enumerated levels, ordered by severity.
const (
	Info Level = iota + 1
	Warn
	Error
	Fatal
)

func (l Level) String() string {
	switch l {
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	case Fatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

var (
	colorWarn  = color.New(color.FgYellow).SprintfFunc()
	colorError = color.New(color.FgRed, color.Bold).SprintfFunc()
)

var (
	quiet bool
	asJSON bool
)

// EnableQuiet suppresses Info/Warn output; Error/Fatal still print.
func EnableQuiet() { quiet = true }

// EnableJSON switches the output encoding to line-delimited JSON.
func EnableJSON() { asJSON = true }

type entry struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

func emit(level Level, format string, args ...interface{}) {
	if quiet && level < Error {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if asJSON {
		e := entry{Time: time.Now().UTC().Format(time.RFC3339Nano), Level: level.String(), Message: msg}
		b, err := json.Marshal(e)
		if err != nil {
			return
		}
		fmt.Fprintln(os.Stdout, string(b))
		return
	}
	switch level {
	case Warn:
		fmt.Fprintln(os.Stdout, colorWarn("%s: %s", level, msg))
	case Error, Fatal:
		fmt.Fprintln(os.Stderr, colorError("%s: %s", level, msg))
	default:
		fmt.Fprintln(os.Stdout, msg)
	}
}

// Infof logs an informational message.
func Infof(format string, args ...interface{}) { emit(Info, format, args...) }

// Warnf logs a warning.
func Warnf(format string, args ...interface{}) { emit(Warn, format, args...) }

// Errorf logs an error.
func Errorf(format string, args ...interface{}) { emit(Error, format, args...) }

// LogIf logs err at Error level if non-nil, and returns err unchanged so it
// can be used inline: `return corelog.LogIf(err)`.
func LogIf(err error) error {
	if err == nil {
		return nil
	}
	emit(Error, "%v", err)
	return err
}

// Fatalf logs at Fatal level and exits the process. Reserved for the CLI
// shim; core packages must never call this.
func Fatalf(format string, args ...interface{}) {
	emit(Fatal, format, args...)
	os.Exit(1)
}
