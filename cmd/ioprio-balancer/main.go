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

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/intel/ioprio-balancer/pkg/config"
	logger "github.com/intel/ioprio-balancer/pkg/log"
	"github.com/intel/ioprio-balancer/pkg/pidfile"
	"github.com/intel/ioprio-balancer/pkg/version"
)

var log = logger.NewLogger("balancer")

var (
	configFile = flag.String("config", "", "file to read configuration from")
	pidFile    = flag.String("pidfile", "", "PID file to use (default "+pidfile.DefaultPath()+")")
)

func main() {
	flag.Parse()

	if len(flag.Args()) != 0 {
		log.Error("unknown command-line arguments: %s", strings.Join(flag.Args(), ","))
		flag.Usage()
		os.Exit(1)
	}

	logger.SetupDebugToggleSignal(syscall.SIGUSR1)

	if err := run(); err != nil {
		log.Fatal("%v", err)
	}

	log.Info("stopped")
	logger.Flush()
}

func run() error {
	opts, err := config.Load(*configFile)
	if err != nil {
		return err
	}

	log.Info("%s", version.Get())
	log.DebugBlock("  <config> ", "%s", strings.TrimSpace(opts.String()))

	pf := pidfile.New(*pidFile)
	if err := pf.Acquire(); err != nil {
		return err
	}
	defer pf.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := newBalancer(ctx, opts)
	if err != nil {
		return err
	}
	defer b.close()

	return b.run(ctx)
}
