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

// Package log implements per-source loggers with pluggable backends,
// runtime debug toggling and rate limiting for repetitive messages.
package log

import (
	"fmt"
	"os"
	"sync"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// LevelPanic is the severity for panic messages.
	LevelPanic
	// LevelFatal is the severity for fatal errors.
	LevelFatal
	// levelHighest is the highest externally visible level
	levelHighest
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline information message.
	InfoBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// state is the shared bookkeeping of all loggers.
type state struct {
	sync.RWMutex
	level    Level
	forced   bool
	active   Backend
	backends map[string]BackendFn
	loggers  map[string]*logger
	debug    srcmap
	align    int
}

var log = &state{
	level:    DefaultLevel,
	backends: map[string]BackendFn{FmtBackendName: createFmtBackend},
	loggers:  make(map[string]*logger),
	debug:    make(srcmap),
}

// logger implements our Logger.
type logger struct {
	source    string
	debugging bool
}

// NewLogger returns the Logger for the given source, creating it if necessary.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Get is an alias for NewLogger.
func Get(source string) Logger {
	return log.get(source)
}

// SetLevel sets the lowest severity level of non-debug messages to emit.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// SetBackend activates the backend with the given name.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()

	fn, ok := log.backends[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}
	if log.active != nil {
		if log.active.Name() == name {
			return nil
		}
		log.active.Stop()
	}
	log.active = fn()
	log.active.SetSourceAlignment(log.align)

	return nil
}

// SetDebug enables or disables debugging for the given sources.
// The special source "*" sets the default for sources without an
// explicit setting.
func SetDebug(sources map[string]bool) {
	log.Lock()
	defer log.Unlock()

	for src, state := range sources {
		log.debug[src] = state
	}
	for _, l := range log.loggers {
		l.debugging = log.debug.isEnabled(l.source)
	}
}

// Flush waits until all pending messages have been emitted.
func Flush() {
	log.RLock()
	active := log.active
	log.RUnlock()

	if active != nil {
		active.Sync()
	}
}

func (s *state) get(source string) *logger {
	s.Lock()
	defer s.Unlock()

	if l, ok := s.loggers[source]; ok {
		return l
	}

	l := &logger{
		source:    source,
		debugging: s.debug.isEnabled(source),
	}
	s.loggers[source] = l

	if len(source) > s.align {
		s.align = len(source)
		if s.active != nil {
			s.active.SetSourceAlignment(s.align)
		}
	}

	return l
}

// backend returns the active backend, creating the default one on first use.
func (s *state) backend() Backend {
	s.RLock()
	active := s.active
	s.RUnlock()

	if active != nil {
		return active
	}

	s.Lock()
	defer s.Unlock()
	if s.active == nil {
		s.active = s.backends[FmtBackendName]()
		s.active.SetSourceAlignment(s.align)
	}
	return s.active
}

// EnableDebug enables/disables debug logging for this logger.
func (l *logger) EnableDebug(enable bool) bool {
	log.Lock()
	defer log.Unlock()

	old := l.debugging
	l.debugging = enable
	return old
}

// DebugEnabled checks debug logging is enabled for this logger.
func (l *logger) DebugEnabled() bool {
	log.RLock()
	defer log.RUnlock()
	return l.debugging || log.forced
}

// Source returns the source for the given logger.
func (l *logger) Source() string {
	return l.source
}

// Debug logs a debug message.
func (l *logger) Debug(format string, args ...interface{}) {
	if l.emits(LevelDebug) {
		log.backend().Log(LevelDebug, l.source, format, args...)
	}
}

// Info logs a informational message.
func (l *logger) Info(format string, args ...interface{}) {
	if l.emits(LevelInfo) {
		log.backend().Log(LevelInfo, l.source, format, args...)
	}
}

// Warn logs a warning message.
func (l *logger) Warn(format string, args ...interface{}) {
	if l.emits(LevelWarn) {
		log.backend().Log(LevelWarn, l.source, format, args...)
	}
}

// Error logs an error message.
func (l *logger) Error(format string, args ...interface{}) {
	if l.emits(LevelError) {
		log.backend().Log(LevelError, l.source, format, args...)
	}
}

// Fatal logs a fatal error message and os.Exit(1)'s.
func (l *logger) Fatal(format string, args ...interface{}) {
	log.backend().Log(LevelFatal, l.source, format, args...)
	os.Exit(1)
}

// Panic logs a panic message and panic()'s.
func (l *logger) Panic(format string, args ...interface{}) {
	log.backend().Log(LevelPanic, l.source, format, args...)
	panic(fmt.Sprintf(l.source+" "+format, args...))
}

// DebugBlock logs a multi-line debug message.
func (l *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if l.emits(LevelDebug) {
		log.backend().Block(LevelDebug, l.source, prefix, format, args...)
	}
}

// InfoBlock logs a multi-line informational message.
func (l *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	if l.emits(LevelInfo) {
		log.backend().Block(LevelInfo, l.source, prefix, format, args...)
	}
}

func (l *logger) emits(level Level) bool {
	log.RLock()
	defer log.RUnlock()

	if level == LevelDebug {
		return l.debugging || log.forced
	}
	return level >= log.level
}

func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
