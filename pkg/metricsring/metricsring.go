/*
Copyright 2020 Intel Corporation

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package metricsring keeps a short history of periodic samples, like
// control loop cycle times or total disk write bandwidth, together with
// an exponentially weighted moving average of them.
package metricsring

import (
	"container/ring"
	"time"

	"github.com/VividCortex/ewma"
)

// SampleBuffer is a bounded history of samples.
type SampleBuffer interface {
	Push(value float64, at time.Time)
	EWMA() float64
	Span() time.Duration
	Len() int
	Cap() int
	Last(count int) []float64
}

// MetricsRing implements SampleBuffer.
type MetricsRing struct {
	r  *ring.Ring // next slot to write
	n  int        // number of samples in the ring
	ma ewma.MovingAverage
}

var _ SampleBuffer = &MetricsRing{}

type sample struct {
	value float64
	at    time.Time
}

// NewMetricsRing creates a ring of the given capacity. The moving
// average is aged over the same number of samples. It has a warm-up
// period of 10 samples, during which EWMA() returns 0.
func NewMetricsRing(capacity int) *MetricsRing {
	if capacity < 1 {
		capacity = 1
	}
	return &MetricsRing{
		r:  ring.New(capacity),
		ma: ewma.NewMovingAverage(float64(capacity)),
	}
}

// Push adds a sample taken at the given time.
func (mr *MetricsRing) Push(value float64, at time.Time) {
	mr.r.Value = sample{value: value, at: at}
	mr.r = mr.r.Next()
	mr.ma.Add(value)

	if mr.n < mr.r.Len() {
		mr.n++
	}
}

// EWMA returns the moving average of all samples pushed so far.
func (mr *MetricsRing) EWMA() float64 {
	return mr.ma.Value()
}

// Span returns the time between the oldest and the newest sample.
func (mr *MetricsRing) Span() time.Duration {
	if mr.n < 2 {
		return 0
	}
	newest := mr.r.Prev().Value.(sample).at
	oldest := mr.r.Move(-mr.n).Value.(sample).at
	return newest.Sub(oldest)
}

// Len returns the number of samples in the ring.
func (mr *MetricsRing) Len() int {
	return mr.n
}

// Cap returns the capacity of the ring.
func (mr *MetricsRing) Cap() int {
	return mr.r.Len()
}

// Last returns up to count of the latest samples, oldest first.
func (mr *MetricsRing) Last(count int) []float64 {
	if count > mr.n {
		count = mr.n
	}
	if count <= 0 {
		return nil
	}

	values := make([]float64, count)
	r := mr.r.Move(-count)
	for i := range values {
		values[i] = r.Value.(sample).value
		r = r.Next()
	}
	return values
}
