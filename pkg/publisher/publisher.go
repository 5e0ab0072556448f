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

// Package publisher ships collected samples to the metrics push gateway,
// or prints them for local inspection.
package publisher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/catsnet/freeprobe/pkg/logger"
	"github.com/catsnet/freeprobe/pkg/models"
)

const (
	// contentType is the text exposition format version the gateway accepts.
	contentType = "text/plain; version=0.0.4"

	defaultPushTimeout = 10 * time.Second
)

// Publisher pushes job-scoped metric payloads to a Prometheus push
// gateway over HTTP PUT.
type Publisher struct {
	gatewayURL string
	job        string
	instance   string
	httpClient *http.Client
	logger     logger.Logger
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithHTTPClient replaces the default push client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) { p.httpClient = client }
}

// WithInstance adds an instance grouping label to the push path, so
// several probed devices can share one gateway job without overwriting
// each other's groups. The value must be stable across runs.
func WithInstance(instance string) Option {
	return func(p *Publisher) { p.instance = instance }
}

// New creates a publisher targeting http://{address}:{port}.
func New(address string, port int, job string, log logger.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		gatewayURL: fmt.Sprintf("http://%s:%d", address, port),
		job:        job,
		httpClient: &http.Client{Timeout: defaultPushTimeout},
		logger:     log,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Push serializes the samples and PUTs them to the gateway's push path,
// grouped by job and, when configured, by instance. Any non-2xx response
// is a push failure.
func (p *Publisher) Push(ctx context.Context, samples []models.MetricSample) error {
	var body bytes.Buffer
	if err := WriteSamples(&body, samples); err != nil {
		return err
	}

	target := p.gatewayURL + "/metrics/job/" + url.PathEscape(p.job)
	if p.instance != "" {
		target += "/instance/" + url.PathEscape(p.instance)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, &body)
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPush, err)
	}

	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			p.logger.Warn().Err(cerr).Msg("Failed to close gateway response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: gateway returned %d", ErrPush, resp.StatusCode)
	}

	p.logger.Info().
		Int("samples", len(samples)).
		Str("job", p.job).
		Str("instance", p.instance).
		Msg("Metrics pushed to gateway")

	return nil
}

// Print writes the same serialized form to w instead of performing any
// network I/O. Used by dry-run mode and as a deterministic test fixture.
func (*Publisher) Print(w io.Writer, samples []models.MetricSample) error {
	return WriteSamples(w, samples)
}

// WriteSamples renders samples in the line-oriented text exposition
// format: metric name, optional label set, value, one record per line.
// The rendering is lossless for the float64 range.
func WriteSamples(w io.Writer, samples []models.MetricSample) error {
	for _, sample := range samples {
		line := sample.Name + renderLabels(sample.Labels) + " " +
			strconv.FormatFloat(sample.Value, 'g', -1, 64) + "\n"

		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}

	return nil
}

// renderLabels renders a {k="v",...} label set with sorted keys, empty
// string for no labels.
func renderLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var b strings.Builder

	b.WriteByte('{')

	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		b.WriteString(key)
		b.WriteString(`="`)
		b.WriteString(escapeLabelValue(labels[key]))
		b.WriteByte('"')
	}

	b.WriteByte('}')

	return b.String()
}

func escapeLabelValue(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, "\n", `\n`)
	value = strings.ReplaceAll(value, `"`, `\"`)

	return value
}
