/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// freeprobe discovers the Freebox on the local network, retrieves its
// operational counters and pushes them to a Prometheus push gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/catsnet/freeprobe/pkg/config"
	"github.com/catsnet/freeprobe/pkg/logger"
	"github.com/catsnet/freeprobe/pkg/probe"
	"github.com/catsnet/freeprobe/pkg/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "freeprobe: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/freeprobe/freeprobe.json", "Path to freeprobe config file")
	register := flag.Bool("register", false, "Register freeprobe on the device and exit")
	dryRun := flag.Bool("dry-run", false, "Print counters to stdout instead of pushing them")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("freeprobe " + version.GetFullVersion())
		return nil
	}

	// The registration wait and the periodic loop stop cleanly on
	// SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgLoader := config.NewConfig(nil)

	var cfg probe.Config

	if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return err
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{Level: "info", Output: "stderr"}
	}

	probeLogger, err := logger.NewLogger(logConfig, "freeprobe")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	runner, err := probe.New(&cfg, probeLogger)
	if err != nil {
		return err
	}

	return runner.Run(ctx, probe.Options{
		Register: *register,
		DryRun:   *dryRun,
	})
}
