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

// Package config holds the daemon configuration. The configuration is
// read once at startup from an optional YAML file, every setting which
// is not present in the file keeps its default value.
package config

import (
	"math"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"sigs.k8s.io/yaml"

	"github.com/intel/ioprio-balancer/pkg/ioprio"
)

// bytesPerMB is the unit of bandwidths (MBps).
const bytesPerMB = 1e6

// Options are the daemon settings.
type Options struct {
	// SampleInterval is the period of the control loop.
	SampleInterval Duration `json:"sampleInterval"`
	// DecayTime is the time constant of the bandwidth estimates.
	DecayTime Duration `json:"decayTime"`
	// DiskBandwidth is the write bandwidth of the disk in bytes per second.
	DiskBandwidth resource.Quantity `json:"diskBandwidth"`
	// OffenderThreshold is the fraction of DiskBandwidth above which a
	// subtree gets throttled.
	OffenderThreshold float64 `json:"offenderThreshold"`
	// InnocentThreshold is the fraction of DiskBandwidth below which a
	// throttled subtree is restored.
	InnocentThreshold float64 `json:"innocentThreshold"`
	// ParentFactor weighs the bandwidth of children into their parent.
	ParentFactor float64 `json:"parentFactor"`
	// WarnThreshold is the relative tick duration above which a slow
	// tick is reported.
	WarnThreshold float64 `json:"warnThreshold"`
	// FetchConcurrency is the maximum number of concurrent fetches.
	FetchConcurrency int `json:"fetchConcurrency"`
	// FetchSockets is the number of sockets used for fetching.
	FetchSockets int `json:"fetchSockets"`
	// EventBufferSize is the receive buffer size of the exit event socket.
	EventBufferSize resource.Quantity `json:"eventBufferSize"`
	// ExitEvents enables listening for task exit events.
	ExitEvents bool `json:"exitEvents"`
	// RootPid is the root of the process tree to balance.
	RootPid uint32 `json:"rootPid"`
	// ThrottlePriority is applied to offending subtrees.
	ThrottlePriority ioprio.Priority `json:"throttlePriority"`
	// RestorePriority is applied to subtrees once they are innocent again.
	RestorePriority ioprio.Priority `json:"restorePriority"`
	// SelfPriority is the I/O priority of the daemon itself.
	SelfPriority ioprio.Priority `json:"selfPriority"`
	// ProcRoot is where the proc filesystem is mounted.
	ProcRoot string `json:"procRoot"`
}

// Defaults returns the default configuration.
func Defaults() *Options {
	return &Options{
		SampleInterval:    Duration(2 * time.Second),
		DecayTime:         Duration(8 * time.Second),
		DiskBandwidth:     resource.MustParse("70M"),
		OffenderThreshold: 0.70,
		InnocentThreshold: 0.20,
		ParentFactor:      0.7,
		WarnThreshold:     1.5,
		FetchConcurrency:  100,
		FetchSockets:      4,
		EventBufferSize:   resource.MustParse("1Mi"),
		ExitEvents:        true,
		RootPid:           1,
		ThrottlePriority:  ioprio.Idle,
		RestorePriority:   ioprio.None,
		SelfPriority:      ioprio.Idle,
		ProcRoot:          "/proc",
	}
}

// Load reads the configuration from a file. An empty path yields the
// defaults. Unknown settings are rejected.
func Load(path string) (*Options, error) {
	opts := Defaults()
	if path == "" {
		return opts, opts.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration file")
	}
	if err := opts.Parse(data); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration file %s", path)
	}

	return opts, nil
}

// Parse updates the options from YAML data and validates the result.
func (o *Options) Parse(data []byte) error {
	if err := yaml.UnmarshalStrict(data, o); err != nil {
		return err
	}
	return o.Validate()
}

// Validate checks the options for consistency.
func (o *Options) Validate() error {
	var errs *multierror.Error

	if o.SampleInterval <= 0 {
		errs = multierror.Append(errs, errors.Errorf("sampleInterval must be positive, got %s", o.SampleInterval))
	}
	if o.DecayTime <= 0 {
		errs = multierror.Append(errs, errors.Errorf("decayTime must be positive, got %s", o.DecayTime))
	}
	if o.DiskBandwidth.Sign() <= 0 {
		errs = multierror.Append(errs, errors.Errorf("diskBandwidth must be positive, got %s", o.DiskBandwidth.String()))
	}
	if o.InnocentThreshold <= 0 {
		errs = multierror.Append(errs, errors.Errorf("innocentThreshold must be positive, got %g", o.InnocentThreshold))
	}
	if o.OffenderThreshold <= o.InnocentThreshold {
		errs = multierror.Append(errs, errors.Errorf("offenderThreshold (%g) must be above innocentThreshold (%g)",
			o.OffenderThreshold, o.InnocentThreshold))
	}
	if o.ParentFactor < 0 || o.ParentFactor > 1 {
		errs = multierror.Append(errs, errors.Errorf("parentFactor must be within [0, 1], got %g", o.ParentFactor))
	}
	if o.WarnThreshold < 1 {
		errs = multierror.Append(errs, errors.Errorf("warnThreshold must be at least 1, got %g", o.WarnThreshold))
	}
	if o.FetchConcurrency < 1 {
		errs = multierror.Append(errs, errors.Errorf("fetchConcurrency must be at least 1, got %d", o.FetchConcurrency))
	}
	if o.FetchSockets < 1 {
		errs = multierror.Append(errs, errors.Errorf("fetchSockets must be at least 1, got %d", o.FetchSockets))
	}
	if o.EventBufferSize.Sign() < 0 || o.EventBufferSize.Value() > math.MaxInt32 {
		errs = multierror.Append(errs, errors.Errorf("invalid eventBufferSize %s", o.EventBufferSize.String()))
	}
	if o.RootPid < 1 {
		errs = multierror.Append(errs, errors.Errorf("rootPid must be at least 1"))
	}
	for name, prio := range map[string]ioprio.Priority{
		"throttlePriority": o.ThrottlePriority,
		"restorePriority":  o.RestorePriority,
		"selfPriority":     o.SelfPriority,
	} {
		if err := prio.Validate(); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "invalid %s", name))
		}
	}

	return errs.ErrorOrNil()
}

// DiskBandwidthMBps returns the disk bandwidth in MBps.
func (o *Options) DiskBandwidthMBps() float64 {
	return float64(o.DiskBandwidth.Value()) / bytesPerMB
}

// Alpha returns the smoothing factor of the bandwidth estimates for
// the sample interval.
func (o *Options) Alpha() float64 {
	return 1 - math.Exp(-o.SampleInterval.Seconds()/o.DecayTime.Seconds())
}

// String dumps the options as YAML.
func (o *Options) String() string {
	data, err := yaml.Marshal(o)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(data)
}
