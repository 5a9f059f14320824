// Copyright 2019 Intel Corporation. All Rights Reserved.
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

// Package metrics collects the internal metrics of the balancer into a
// prometheus registry. There is no exporter, the gathered metrics can be
// dumped to the log on demand.
package metrics

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	logger "github.com/intel/ioprio-balancer/pkg/log"
)

// Namespace prefixes all balancer metric names.
const Namespace = "ioprio_balancer"

var log = logger.NewLogger("metrics")

// InitCollector is the type for functions that initialize collectors.
type InitCollector func() (prometheus.Collector, error)

// Registry is a set of named collectors.
type Registry struct {
	sync.Mutex
	builtin     map[string]InitCollector
	initialized map[string]struct{}
	reg         *prometheus.Registry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		builtin:     make(map[string]InitCollector),
		initialized: make(map[string]struct{}),
		reg:         prometheus.NewPedanticRegistry(),
	}
}

// RegisterCollector registers the named collector for metrics collection.
func (r *Registry) RegisterCollector(name string, init InitCollector) error {
	r.Lock()
	defer r.Unlock()

	log.Debug("registering collector %s...", name)

	if _, found := r.builtin[name]; found {
		return metricsError("collector %s already registered", name)
	}
	r.builtin[name] = init

	return nil
}

// Gatherer initializes all registered collectors and returns a gatherer
// for them. Collectors failing to initialize are skipped.
func (r *Registry) Gatherer() (prometheus.Gatherer, error) {
	r.Lock()
	defer r.Unlock()

	names := make([]string, 0, len(r.builtin))
	for name := range r.builtin {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := r.initialized[name]; ok {
			continue
		}
		c, err := r.builtin[name]()
		if err != nil {
			log.Error("failed to initialize collector '%s': %v, skipping it", name, err)
			continue
		}
		if err := r.reg.Register(c); err != nil {
			return nil, metricsError("failed to register collector %s: %v", name, err)
		}
		r.initialized[name] = struct{}{}
	}

	return r.reg, nil
}

// Format gathers all metrics and formats them in the text exposition format.
func Format(g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", metricsError("failed to gather metrics: %v", err)
	}

	buf := &bytes.Buffer{}
	for _, mf := range families {
		if err := formatFamily(buf, mf); err != nil {
			return "", err
		}
	}

	return strings.TrimSpace(buf.String()), nil
}

// Dump logs all gathered metrics.
func Dump(g prometheus.Gatherer) {
	text, err := Format(g)
	if err != nil {
		log.Error("%v", err)
		return
	}
	log.InfoBlock("  <metrics> ", "%s", text)
}

func formatFamily(buf *bytes.Buffer, mf *model.MetricFamily) error {
	if _, err := expfmt.MetricFamilyToText(buf, mf); err != nil {
		return metricsError("failed to format %s: %v", mf.GetName(), err)
	}
	return nil
}

func metricsError(format string, args ...interface{}) error {
	return errors.Errorf("metrics: "+format, args...)
}
