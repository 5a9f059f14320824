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
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// BackendFn creates an instance of a backend.
type BackendFn func() Backend

// Backend is the interface for a log backend.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits log messages with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line log messages, with an additional line prefix.
	Block(Level, string, string, string, ...interface{})
	// Sync waits for all messages to get emitted.
	Sync()
	// Stop stops the backend instance.
	Stop()
	// SetSourceAlignment sets the maximum prefix length for optional alignment.
	SetSourceAlignment(int)
}

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backends[name] = fn
}

const (
	// FmtBackendName is the name of our simple fmt-based logging backend.
	FmtBackendName = "fmt"
	// fmtBackendQueueLen is the length of the internal fmt message queue.
	fmtBackendQueueLen = 1024
	// fmtTimestamp is the format of message timestamps.
	fmtTimestamp = "2006-01-02T15:04:05.000Z07:00"
)

const (
	levelNop Level = iota + levelHighest
	levelStop
)

var fmtTags = map[Level]string{
	LevelDebug: "D:",
	LevelInfo:  "I:",
	LevelWarn:  "W:",
	LevelError: "E:",
	LevelFatal: "FATAL ERROR:",
	LevelPanic: "PANIC:",
}

// fmtOutput is where the fmt backend writes to.
var fmtOutput io.Writer = os.Stdout

// fmtBackend emits messages from a single goroutine, in order.
type fmtBackend struct {
	q     chan *fmtReq // request channel
	align int          // source alignment
	out   io.Writer
}

type fmtReq struct {
	level  Level         // logging severity level
	when   time.Time     // time of the request
	source string        // logger source
	prefix string        // block prefix
	msg    string        // formatted log message
	sync   chan struct{} // reverse-ack for synchronous requests
	align  int           // updated alignment, if non-zero
}

func createFmtBackend() Backend {
	f := &fmtBackend{
		q:   make(chan *fmtReq, fmtBackendQueueLen),
		out: fmtOutput,
	}
	go f.run()
	return f
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	f.log(level, source, "", format, args...)
}

func (f *fmtBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	f.log(level, source, prefix, format, args...)
}

func (f *fmtBackend) Sync() {
	f.request(&fmtReq{level: levelNop})
}

func (f *fmtBackend) Stop() {
	f.request(&fmtReq{level: levelStop})
}

func (f *fmtBackend) SetSourceAlignment(align int) {
	f.q <- &fmtReq{level: levelNop, align: align}
}

func (f *fmtBackend) request(req *fmtReq) {
	req.sync = make(chan struct{})
	f.q <- req
	<-req.sync
}

func (f *fmtBackend) log(level Level, source, prefix, format string, args ...interface{}) {
	req := &fmtReq{
		level:  level,
		when:   time.Now(),
		source: source,
		prefix: prefix,
		msg:    fmt.Sprintf(format, args...),
	}

	// fatal errors are synchronous
	if level > LevelError {
		f.request(req)
		return
	}

	f.q <- req
}

func (f *fmtBackend) run() {
	for req := range f.q {
		if req.align > 0 {
			f.align = req.align
		}
		f.emit(req)
		if req.sync != nil {
			close(req.sync)
		}
		if req.level == levelStop {
			return
		}
	}
}

func (f *fmtBackend) emit(req *fmtReq) {
	if req.level >= levelHighest {
		return
	}

	length := len(req.source)
	suflen := (f.align - length) / 2
	prelen := f.align - (length + suflen)
	if suflen < 0 {
		suflen, prelen = 0, 0
	}
	source := "[" + strings.Repeat(" ", prelen) + req.source + strings.Repeat(" ", suflen) + "]"
	stamp := req.when.Format(fmtTimestamp)

	for _, line := range strings.Split(req.msg, "\n") {
		if req.prefix == "" {
			fmt.Fprintln(f.out, stamp, fmtTags[req.level], source, line)
		} else {
			fmt.Fprintln(f.out, stamp, fmtTags[req.level], source, req.prefix, line)
		}
	}
}
