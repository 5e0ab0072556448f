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

// Package collector pulls operational counters from the device API and
// translates them into the probe's metric schema.
package collector

import (
	"context"
	"sort"
	"time"

	"github.com/catsnet/freeprobe/pkg/logger"
	"github.com/catsnet/freeprobe/pkg/models"
)

// DefaultPrefix namespaces every metric name.
const DefaultPrefix = "freebox_"

// DeviceAPI is the authenticated call surface the collector needs from a
// session.
type DeviceAPI interface {
	Get(ctx context.Context, path string, out interface{}) error
}

// Endpoint is one counter source on the device.
type Endpoint struct {
	Path     string
	Category string
}

// DefaultEndpoints is the fixed set of counter sources polled each cycle.
var DefaultEndpoints = []Endpoint{
	{Path: "/connection/", Category: "wan"},
	{Path: "/system/", Category: "system"},
	{Path: "/connection/xdsl/", Category: "xdsl"},
}

// Result carries whatever samples were gathered plus a count of endpoints
// that failed this cycle.
type Result struct {
	Samples []models.MetricSample
	Failed  int
}

// Collector maps raw device counters onto namespaced metric samples.
type Collector struct {
	api       DeviceAPI
	prefix    string
	endpoints []Endpoint
	labels    map[string]string
	logger    logger.Logger

	// now is the capture timestamp source, replaceable in tests.
	now func() time.Time
}

// Option customizes a Collector.
type Option func(*Collector)

// WithEndpoints replaces the polled endpoint set.
func WithEndpoints(endpoints []Endpoint) Option {
	return func(c *Collector) { c.endpoints = endpoints }
}

// WithLabels attaches the same label set to every emitted sample.
func WithLabels(labels map[string]string) Option {
	return func(c *Collector) { c.labels = labels }
}

// New creates a collector reading through api. An empty prefix falls back
// to DefaultPrefix.
func New(api DeviceAPI, prefix string, log logger.Logger, opts ...Option) *Collector {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	c := &Collector{
		api:       api,
		prefix:    prefix,
		endpoints: DefaultEndpoints,
		logger:    log,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Collect polls every endpoint and returns the samples that succeeded. A
// failing endpoint is logged and counted, never fatal; the error return is
// non-nil only when every endpoint failed.
func (c *Collector) Collect(ctx context.Context) (*Result, error) {
	result := &Result{}

	for _, ep := range c.endpoints {
		raw := make(map[string]interface{})

		if err := c.api.Get(ctx, ep.Path, &raw); err != nil {
			c.logger.Warn().
				Str("endpoint", ep.Path).
				Err(err).
				Msg("Endpoint collection failed")

			result.Failed++

			continue
		}

		ts := c.now()
		result.Samples = append(result.Samples, c.flatten(c.prefix+ep.Category, raw, ts)...)
	}

	if result.Failed == len(c.endpoints) {
		return result, ErrAllEndpointsFailed
	}

	return result, nil
}

// flatten walks one decoded result payload depth first with sorted keys,
// so sample order is stable across cycles. Numeric coercion: numbers pass
// through, booleans map to 1/0, state strings map through stateValue,
// anything else is skipped.
func (c *Collector) flatten(base string, raw map[string]interface{}, ts time.Time) []models.MetricSample {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var samples []models.MetricSample

	for _, key := range keys {
		name := base + "_" + key

		switch value := raw[key].(type) {
		case float64:
			samples = append(samples, c.sample(name, value, ts))
		case bool:
			v := 0.0
			if value {
				v = 1.0
			}

			samples = append(samples, c.sample(name, v, ts))
		case string:
			if v, ok := stateValue(key, value); ok {
				samples = append(samples, c.sample(name, v, ts))
			}
		case map[string]interface{}:
			samples = append(samples, c.flatten(name, value, ts)...)
		default:
			// Arrays, nulls and anything unexpected are skipped, not
			// zero-filled.
		}
	}

	return samples
}

func (c *Collector) sample(name string, value float64, ts time.Time) models.MetricSample {
	var labels map[string]string

	if len(c.labels) > 0 {
		labels = make(map[string]string, len(c.labels))
		for k, v := range c.labels {
			labels[k] = v
		}
	}

	return models.MetricSample{Name: name, Value: value, Labels: labels, Timestamp: ts}
}

// upStates are the link states that count as up. The xDSL line reports
// "showtime" once the modem is synchronized.
var upStates = map[string]bool{
	"up":       true,
	"showtime": true,
}

// stateValue coerces link-state enums to a 1/0 gauge. Only fields named
// state or status are treated this way; other strings carry no numeric
// meaning.
func stateValue(key, value string) (float64, bool) {
	if key != "state" && key != "status" {
		return 0, false
	}

	if upStates[value] {
		return 1, true
	}

	return 0, true
}
