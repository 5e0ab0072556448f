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

// Package probe orchestrates one full cycle: discover the device,
// register or authenticate, collect counters, publish them.
package probe

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/catsnet/freeprobe/pkg/collector"
	"github.com/catsnet/freeprobe/pkg/discovery"
	"github.com/catsnet/freeprobe/pkg/fbx"
	"github.com/catsnet/freeprobe/pkg/logger"
	"github.com/catsnet/freeprobe/pkg/models"
	"github.com/catsnet/freeprobe/pkg/publisher"
)

// Options select the probe's mode for one invocation.
type Options struct {
	// Register runs the device authorization handshake, stores the
	// granted token and exits without collecting metrics.
	Register bool
	// DryRun prints serialized samples to stdout instead of pushing.
	DryRun bool
}

// deviceSession is the slice of fbx.Session the runner depends on.
type deviceSession interface {
	Register(ctx context.Context) (*fbx.Credentials, error)
	Open(ctx context.Context, appToken string) error
	Get(ctx context.Context, path string, out interface{}) error
	BaseURL() string
}

// credentialStore is the slice of fbx.TokenStore the runner depends on.
type credentialStore interface {
	Load() (*fbx.Credentials, error)
	Save(creds *fbx.Credentials) error
}

// metricsPublisher is the slice of publisher.Publisher the runner
// depends on.
type metricsPublisher interface {
	Push(ctx context.Context, samples []models.MetricSample) error
	Print(w io.Writer, samples []models.MetricSample) error
}

// Runner owns the top-level flow and error policy.
type Runner struct {
	config  *Config
	scanner discovery.Scanner
	tokens  credentialStore
	clock   fbx.Clock
	out     io.Writer
	logger  logger.Logger

	// Factories, replaceable in tests.
	newSession   func(desc *discovery.Descriptor) (deviceSession, error)
	newPublisher func(desc *discovery.Descriptor) metricsPublisher
}

// New creates a runner wired with real discovery, session and publisher
// implementations.
func New(config *Config, log logger.Logger) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	runLogger := &runLoggerWrapper{Logger: log, runID: runID}

	var scannerOpts []discovery.ScannerOption
	if config.DeviceUID != "" {
		scannerOpts = append(scannerOpts, discovery.WithUID(config.DeviceUID))
	}

	r := &Runner{
		config:  config,
		scanner: discovery.NewScanner(runLogger, scannerOpts...),
		tokens:  fbx.NewTokenStore(config.TokenPath),
		clock:   fbx.NewClock(),
		out:     os.Stdout,
		logger:  runLogger,
	}

	r.newSession = func(desc *discovery.Descriptor) (deviceSession, error) {
		app := fbx.NewAppConfig(config.AppName, config.AppVersion, config.DeviceName)

		opts := []fbx.SessionOption{
			fbx.WithPollInterval(time.Duration(config.PollInterval)),
			fbx.WithPollLimit(config.PollLimit),
		}

		if config.InsecureTLS {
			opts = append(opts, fbx.WithInsecureTLS())
		}

		return fbx.NewSession(desc, app, runLogger, opts...)
	}

	r.newPublisher = func(desc *discovery.Descriptor) metricsPublisher {
		// The device uid is stable across runs, so the gateway keeps one
		// group per box instead of accumulating one per invocation.
		return publisher.New(config.Gateway.Address, config.Gateway.Port, config.Gateway.Job, runLogger,
			publisher.WithInstance(desc.UID()))
	}

	return r, nil
}

// Run executes the probe in the selected mode. Every failure surfaces as
// a single error; nothing is retried here beyond the bounded retries the
// sub-protocols already perform.
func (r *Runner) Run(ctx context.Context, opts Options) error {
	if !opts.Register && !opts.DryRun && r.config.Gateway.Address == "" {
		return ErrGatewayNotConfigured
	}

	desc, err := r.scanner.Discover(ctx, time.Duration(r.config.DiscoveryTimeout))
	if err != nil {
		return err
	}

	session, err := r.newSession(desc)
	if err != nil {
		return err
	}

	r.logger.Debug().Str("base_url", session.BaseURL()).Msg("Device session prepared")

	if opts.Register {
		return r.register(ctx, session)
	}

	creds, err := r.tokens.Load()
	if err != nil {
		return err
	}

	if err := session.Open(ctx, creds.AppToken); err != nil {
		return err
	}

	metrics := collector.New(session, r.config.MetricsPrefix, r.logger,
		collector.WithLabels(deviceLabels(desc)))
	sink := r.newPublisher(desc)

	if err := r.cycle(ctx, metrics, sink, opts.DryRun); err != nil {
		return err
	}

	if time.Duration(r.config.Interval) <= 0 {
		return nil
	}

	return r.loop(ctx, metrics, sink, opts.DryRun)
}

// register runs the authorization handshake and persists the credential
// only after the device granted it.
func (r *Runner) register(ctx context.Context, session deviceSession) error {
	creds, err := session.Register(ctx)
	if err != nil {
		return err
	}

	if err := r.tokens.Save(creds); err != nil {
		return fmt.Errorf("registration granted but credential not stored: %w", err)
	}

	r.logger.Info().
		Str("app_id", creds.AppID).
		Str("token_path", r.config.TokenPath).
		Msg("Registration complete, token stored")

	return nil
}

// cycle collects once and publishes or prints the result.
func (r *Runner) cycle(ctx context.Context, metrics *collector.Collector, sink metricsPublisher, dryRun bool) error {
	result, err := metrics.Collect(ctx)
	if err != nil {
		return err
	}

	if result.Failed > 0 {
		r.logger.Warn().
			Int("failed_endpoints", result.Failed).
			Int("samples", len(result.Samples)).
			Msg("Cycle completed with partial failures")
	}

	if dryRun {
		return sink.Print(r.out, result.Samples)
	}

	return sink.Push(ctx, result.Samples)
}

// loop re-runs the cycle on a timer until the context ends. Any cycle
// failure terminates the run; the process exit status reports it.
func (r *Runner) loop(ctx context.Context, metrics *collector.Collector, sink metricsPublisher, dryRun bool) error {
	ticker := r.clock.Ticker(time.Duration(r.config.Interval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			if err := r.cycle(ctx, metrics, sink, dryRun); err != nil {
				return err
			}
		}
	}
}

// deviceLabels tags every sample with the device identity so one gateway
// can hold several probed boxes apart.
func deviceLabels(desc *discovery.Descriptor) map[string]string {
	labels := map[string]string{"uid": desc.UID()}

	if model := desc.BoxModel(); model != "" {
		labels["box_model"] = model
	}

	return labels
}

// runLoggerWrapper stamps every event with the run id for correlation
// across one probe invocation.
type runLoggerWrapper struct {
	logger.Logger
	runID string
}

func (w *runLoggerWrapper) Info() *zerolog.Event  { return w.Logger.Info().Str("run_id", w.runID) }
func (w *runLoggerWrapper) Warn() *zerolog.Event  { return w.Logger.Warn().Str("run_id", w.runID) }
func (w *runLoggerWrapper) Error() *zerolog.Event { return w.Logger.Error().Str("run_id", w.runID) }
func (w *runLoggerWrapper) Debug() *zerolog.Event { return w.Logger.Debug().Str("run_id", w.runID) }
