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
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// a test Backend that records messages for verification
type testlogger struct {
	sync.Mutex
	recorded []string
}

var testlog = &testlogger{}

const testLoggerName = "testlogger"

func (l *testlogger) Name() string {
	return testLoggerName
}

func (l *testlogger) Log(level Level, source, format string, args ...interface{}) {
	l.Lock()
	defer l.Unlock()
	l.recorded = append(l.recorded, fmt.Sprintf(level.String()+" ["+source+"] "+format, args...))
}

func (l *testlogger) Block(level Level, source, prefix, format string, args ...interface{}) {
	l.Log(level, source, prefix+" "+format, args...)
}

func (l *testlogger) Sync()                  {}
func (l *testlogger) Stop()                  {}
func (l *testlogger) SetSourceAlignment(int) {}

func (l *testlogger) reset() []string {
	l.Lock()
	defer l.Unlock()
	recorded := l.recorded
	l.recorded = nil
	return recorded
}

func setup(t *testing.T) {
	RegisterBackend(testLoggerName, func() Backend { return testlog })
	require.NoError(t, SetBackend(testLoggerName))
	testlog.reset()
	SetLevel(LevelInfo)
	t.Cleanup(func() { testlog.reset() })
}

func TestLevelFiltering(t *testing.T) {
	setup(t)

	l := NewLogger("level-test")
	SetLevel(LevelWarn)
	l.Info("dropped %d", 1)
	l.Warn("kept %d", 2)
	l.Error("kept %d", 3)
	SetLevel(LevelInfo)

	require.Equal(t, []string{
		"warning [level-test] kept 2",
		"error [level-test] kept 3",
	}, testlog.reset())
}

func TestDebugSources(t *testing.T) {
	setup(t)

	a := NewLogger("debug-a")
	b := NewLogger("debug-b")

	sm, err := parseSourceMap("on:debug-a,off:debug-b")
	require.NoError(t, err)
	SetDebug(sm)

	require.True(t, a.DebugEnabled())
	require.False(t, b.DebugEnabled())

	a.Debug("visible")
	b.Debug("invisible")
	require.Equal(t, []string{"debug [debug-a] visible"}, testlog.reset())

	require.True(t, toggleForcedDebug())
	b.Debug("forced")
	toggleForcedDebug()
	require.Equal(t, []string{"debug [debug-b] forced"}, testlog.reset())

	SetDebug(srcmap{"debug-a": false})
}

func TestParseSourceMap(t *testing.T) {
	tcases := []struct {
		name    string
		value   string
		result  srcmap
		invalid bool
	}{
		{
			name:   "implicit on",
			value:  "a,b",
			result: srcmap{"a": true, "b": true},
		},
		{
			name:   "state carries over",
			value:  "on:*,off:netlink,monitor",
			result: srcmap{"*": true, "netlink": false, "monitor": false},
		},
		{
			name:   "all is wildcard",
			value:  "all",
			result: srcmap{"*": true},
		},
		{
			name:    "bad state",
			value:   "maybe:a",
			invalid: true,
		},
		{
			name:    "bad entry",
			value:   "on:a:b",
			invalid: true,
		},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			sm, err := parseSourceMap(tc.value)
			if tc.invalid {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.result, sm)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for name, level := range map[string]Level{
		"debug": LevelDebug, "INFO": LevelInfo, "warning": LevelWarn, "error": LevelError,
	} {
		parsed, err := ParseLevel(name)
		require.NoError(t, err)
		require.Equal(t, level, parsed)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestFmtBackend(t *testing.T) {
	out := &bytes.Buffer{}
	f := &fmtBackend{q: make(chan *fmtReq, 4), out: out}
	go f.run()

	f.SetSourceAlignment(8)
	f.Log(LevelWarn, "mon", "slow tick %d", 3)
	f.Block(LevelInfo, "mon", "  ", "line1\nline2")
	f.Stop()

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.True(t, strings.HasSuffix(lines[0], "W: [   mon  ] slow tick 3"), lines[0])
	require.True(t, strings.HasSuffix(lines[1], "I: [   mon  ]    line1"), lines[1])
	require.True(t, strings.HasSuffix(lines[2], "I: [   mon  ]    line2"), lines[2])

	_, err := time.Parse(fmtTimestamp, strings.Fields(lines[0])[0])
	require.NoError(t, err)
}

func TestRateLimit(t *testing.T) {
	setup(t)

	rl := RateLimit(NewLogger("ratelimit"), Rate{Window: MinimumWindow, Limit: Every(time.Hour)})
	rl.Warn("repeated %s", "message")
	rl.Warn("repeated %s", "message")
	rl.Warn("other message")

	require.Equal(t, []string{
		"warning [ratelimit] <rate-limited> repeated message",
		"warning [ratelimit] <rate-limited> other message",
	}, testlog.reset())
}

func TestRateLimitWindow(t *testing.T) {
	rl := RateLimit(Default(), Rate{Window: MinimumWindow, Limit: Every(time.Second)}).(*ratelimited)

	messages := make([]string, 0, MinimumWindow)
	limiters := map[string]interface{}{}
	for idx := 0; idx < cap(messages); idx++ {
		msg := fmt.Sprintf("message #%d", idx)
		messages = append(messages, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}
	for _, msg := range messages {
		require.True(t, rl.getMessageLimit(msg) == limiters[msg], msg)
	}

	// push out the first few messages
	for idx := 0; idx < 4; idx++ {
		rl.getMessageLimit(fmt.Sprintf("recent #%d", idx))
	}
	for idx, msg := range messages {
		if idx < 4 {
			require.False(t, rl.getMessageLimit(msg) == limiters[msg], msg)
		}
	}
	require.Len(t, rl.window, MinimumWindow)
	require.Len(t, rl.limits, MinimumWindow)
}
