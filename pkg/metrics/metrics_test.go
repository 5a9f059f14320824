// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package metrics

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "test_events_total",
		Help:      "Test events.",
	})
	counter.Add(3)

	require.NoError(t, r.RegisterCollector("test", func() (prometheus.Collector, error) {
		return counter, nil
	}))
	require.Error(t, r.RegisterCollector("test", nil))
	require.NoError(t, r.RegisterCollector("broken", func() (prometheus.Collector, error) {
		return nil, errors.New("no can do")
	}))

	g, err := r.Gatherer()
	require.NoError(t, err)

	// collectors are initialized only once
	_, err = r.Gatherer()
	require.NoError(t, err)

	text, err := Format(g)
	require.NoError(t, err)
	require.Contains(t, text, "# TYPE ioprio_balancer_test_events_total counter")
	require.Contains(t, text, "ioprio_balancer_test_events_total 3")
}
