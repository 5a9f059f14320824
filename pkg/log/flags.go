// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"flag"
	"sort"
	"strconv"
	"strings"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line argument prefix.
	optPrefix = "logger"
	// Flag for enabling/disabling debug logging for sources.
	optDebug = optPrefix + "-debug"
	// Flag for selecting logging level.
	optLevel = optPrefix + "-level"
)

// srcmap maps logger sources to an enabled state.
type srcmap map[string]bool

// ParseLevel parses a severity level name.
func ParseLevel(value string) (Level, error) {
	levels := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"panic":   LevelPanic,
	}
	level, ok := levels[strings.ToLower(value)]
	if !ok {
		return LevelInfo, loggerError("invalid logging level %s", value)
	}
	return level, nil
}

func (l Level) String() string {
	names := map[Level]string{
		LevelDebug: "debug",
		LevelInfo:  "info",
		LevelWarn:  "warning",
		LevelError: "error",
		LevelFatal: "fatal",
		LevelPanic: "panic",
	}
	if level, ok := names[l]; ok {
		return level
	}

	return names[LevelInfo]
}

// levelFlag is the flag.Value for the global severity level.
type levelFlag struct{}

func (levelFlag) Set(value string) error {
	level, err := ParseLevel(value)
	if err != nil {
		return err
	}
	SetLevel(level)
	return nil
}

func (levelFlag) String() string {
	if log == nil {
		return DefaultLevel.String()
	}
	log.RLock()
	defer log.RUnlock()
	return log.level.String()
}

// debugFlag is the flag.Value for per-source debugging.
type debugFlag struct{}

func (debugFlag) Set(value string) error {
	sm, err := parseSourceMap(value)
	if err != nil {
		return err
	}
	SetDebug(sm)
	return nil
}

func (debugFlag) String() string {
	if log == nil {
		return ""
	}
	log.RLock()
	defer log.RUnlock()
	return log.debug.String()
}

// parseSourceMap parses a comma-separated list of [state:]source entries.
// A state applies to all subsequent entries until the next state. The
// source names "*" and "all" match every source.
func parseSourceMap(value string) (srcmap, error) {
	sm := make(srcmap)
	prev := "on"
	for _, entry := range strings.Split(value, ",") {
		if entry = strings.TrimSpace(entry); entry == "" {
			continue
		}

		state, src := prev, entry
		if statesrc := strings.Split(entry, ":"); len(statesrc) == 2 {
			state, src = statesrc[0], statesrc[1]
		} else if len(statesrc) > 2 {
			return nil, loggerError("invalid state spec '%s' in source map", entry)
		}
		prev = state

		if src == "all" {
			src = "*"
		}
		enabled, err := parseEnabled(state)
		if err != nil {
			return nil, loggerError("invalid state '%s' in source map", state)
		}
		sm[src] = enabled
	}
	return sm, nil
}

func parseEnabled(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "enable", "enabled":
		return true, nil
	case "off", "disable", "disabled":
		return false, nil
	}
	return strconv.ParseBool(value)
}

// isEnabled checks if a source is enabled, falling back to the wildcard.
func (m srcmap) isEnabled(source string) bool {
	if state, ok := m[source]; ok {
		return state
	}
	return m["*"]
}

func (m srcmap) String() string {
	var on, off []string
	for src, state := range m {
		if state {
			on = append(on, src)
		} else {
			off = append(off, src)
		}
	}
	sort.Strings(on)
	sort.Strings(off)

	switch {
	case len(off) == 0:
		return "on:" + strings.Join(on, ",")
	case len(on) == 0:
		return "off:" + strings.Join(off, ",")
	}
	return "on:" + strings.Join(on, ",") + ",off:" + strings.Join(off, ",")
}

func init() {
	flag.Var(levelFlag{}, optLevel,
		"lowest severity level to pass through (debug, info, warning, error)")
	flag.Var(debugFlag{}, optDebug,
		"comma-separated list of source names to enable debug messages for.\n"+
			"Specify '*' or 'all' to enable all sources.\n"+
			"Prefix a source or list with 'off:' to disable, which is also the default state.")
}
