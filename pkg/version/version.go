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

// Package version tags the balancer binary with version metadata. The
// defaults are overridden at link time, for instance:
//
//	go build -ldflags \
//	  "-X=github.com/intel/ioprio-balancer/pkg/version.Version=<version> \
//	   -X=github.com/intel/ioprio-balancer/pkg/version.Build=<build-id>"
//
// Without linker overrides the module version and VCS revision recorded
// by the Go toolchain are used, if available.
package version

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strconv"
)

const unknown = "unknown"

// Default values of variables we'll override with the linker.
var (
	// Version is our version as given by 'git describe'.
	Version = ""
	// Build is the SHA1 of the repository we've been built from.
	Build = ""
)

// Info is the version metadata of the running binary.
type Info struct {
	Name      string
	Version   string
	Build     string
	GoVersion string
	Platform  string
}

// Get returns the version metadata of the running binary.
func Get() Info {
	info := Info{
		Name:      filepath.Base(os.Args[0]),
		Version:   Version,
		Build:     Build,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}

	if bi, ok := debug.ReadBuildInfo(); ok {
		if info.Version == "" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && info.Build == "" {
				info.Build = s.Value
			}
		}
	}

	if info.Version == "" {
		info.Version = unknown
	}
	if info.Build == "" {
		info.Build = unknown
	}

	return info
}

// String returns the version metadata as a single line.
func (i Info) String() string {
	return fmt.Sprintf("%s version %s (build %s, %s, %s)", i.Name, i.Version, i.Build, i.GoVersion, i.Platform)
}

// Print prints the version metadata.
func (i Info) Print(w io.Writer) {
	fmt.Fprintf(w, "%s version information:\n", i.Name)
	fmt.Fprintf(w, "  - version: %s\n", i.Version)
	fmt.Fprintf(w, "  - build:   %s\n", i.Build)
	fmt.Fprintf(w, "  - go:      %s (%s)\n", i.GoVersion, i.Platform)
}

// Dummy struct used to hook into flag.Value.Set of -version during commandline parsing.
type version struct{}

// IsBoolFlag tell flag that we only have optional arguments.
func (version) IsBoolFlag() bool {
	return true
}

// Set prints the version and exits if the flag is set.
func (version) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		Get().Print(os.Stdout)
		os.Exit(0)
	}

	return nil
}

func (*version) String() string {
	return "false"
}

func init() {
	flag.Var(&version{}, "version", "Print version information about "+filepath.Base(os.Args[0]))
}
