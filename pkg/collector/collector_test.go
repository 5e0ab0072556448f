package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catsnet/freeprobe/pkg/logger"
	"github.com/catsnet/freeprobe/pkg/models"
)

// fakeAPI serves canned JSON payloads per path, or an error.
type fakeAPI struct {
	payloads map[string]string
	errs     map[string]error
	calls    []string
}

func (f *fakeAPI) Get(_ context.Context, path string, out interface{}) error {
	f.calls = append(f.calls, path)

	if err, ok := f.errs[path]; ok {
		return err
	}

	payload, ok := f.payloads[path]
	if !ok {
		return errors.New("no such endpoint")
	}

	return json.Unmarshal([]byte(payload), out)
}

func fixedNow() time.Time {
	return time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
}

func newTestCollector(api *fakeAPI, opts ...Option) *Collector {
	c := New(api, "", logger.NewTestLogger(), opts...)
	c.now = fixedNow

	return c
}

func sampleNames(samples []models.MetricSample) []string {
	names := make([]string, len(samples))
	for i, s := range samples {
		names[i] = s.Name
	}

	return names
}

func TestCollect_MapsCounters(t *testing.T) {
	api := &fakeAPI{payloads: map[string]string{
		"/connection/": `{
			"state": "up",
			"type": "ethernet",
			"rate_down": 12345,
			"rate_up": 987,
			"bytes_down": 1000000,
			"bytes_up": 500000,
			"bandwidth_down": 1000000000,
			"bandwidth_up": 600000000,
			"ipv4": "82.67.1.1"
		}`,
	}}

	c := newTestCollector(api, WithEndpoints([]Endpoint{{Path: "/connection/", Category: "connection"}}))

	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Failed)

	// Strings without state semantics (type, ipv4) are skipped; keys are
	// emitted in sorted order.
	assert.Equal(t, []string{
		"freebox_connection_bandwidth_down",
		"freebox_connection_bandwidth_up",
		"freebox_connection_bytes_down",
		"freebox_connection_bytes_up",
		"freebox_connection_rate_down",
		"freebox_connection_rate_up",
		"freebox_connection_state",
	}, sampleNames(result.Samples))

	byName := make(map[string]models.MetricSample)
	for _, s := range result.Samples {
		byName[s.Name] = s
	}

	assert.Equal(t, 12345.0, byName["freebox_connection_rate_down"].Value)
	assert.Equal(t, 1.0, byName["freebox_connection_state"].Value)
	assert.Equal(t, fixedNow(), byName["freebox_connection_rate_down"].Timestamp)
}

func TestCollect_NestedPayloadFlattens(t *testing.T) {
	api := &fakeAPI{payloads: map[string]string{
		"/connection/xdsl/": `{
			"status": {"status": "showtime", "modulation": "vdsl", "uptime": 4211},
			"down": {"rate": 90123, "snr": 63, "attn": 110},
			"up": {"rate": 41234, "snr": 98, "attn": 89}
		}`,
	}}

	c := newTestCollector(api, WithEndpoints([]Endpoint{{Path: "/connection/xdsl/", Category: "xdsl"}}))

	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"freebox_xdsl_down_attn",
		"freebox_xdsl_down_rate",
		"freebox_xdsl_down_snr",
		"freebox_xdsl_status_status",
		"freebox_xdsl_status_uptime",
		"freebox_xdsl_up_attn",
		"freebox_xdsl_up_rate",
		"freebox_xdsl_up_snr",
	}, sampleNames(result.Samples))

	byName := make(map[string]float64)
	for _, s := range result.Samples {
		byName[s.Name] = s.Value
	}

	assert.Equal(t, 1.0, byName["freebox_xdsl_status_status"])
	assert.Equal(t, 90123.0, byName["freebox_xdsl_down_rate"])
}

func TestCollect_BooleanCoercion(t *testing.T) {
	api := &fakeAPI{payloads: map[string]string{
		"/system/": `{"box_authenticated": true, "fans_fault": false, "uptime_val": 86400}`,
	}}

	c := newTestCollector(api, WithEndpoints([]Endpoint{{Path: "/system/", Category: "system"}}))

	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	byName := make(map[string]float64)
	for _, s := range result.Samples {
		byName[s.Name] = s.Value
	}

	assert.Equal(t, 1.0, byName["freebox_system_box_authenticated"])
	assert.Equal(t, 0.0, byName["freebox_system_fans_fault"])
	assert.Equal(t, 86400.0, byName["freebox_system_uptime_val"])
}

// One endpoint returning garbage must not take the cycle down with it.
func TestCollect_PartialFailure(t *testing.T) {
	api := &fakeAPI{
		payloads: map[string]string{
			"/connection/": `{"rate_down": 12345}`,
			"/system/":     `{"uptime_val": 99}`,
		},
		errs: map[string]error{
			"/connection/xdsl/": errors.New("json: cannot unmarshal string into Go value"),
		},
	}

	c := newTestCollector(api)

	result, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{
		"freebox_wan_rate_down",
		"freebox_system_uptime_val",
	}, sampleNames(result.Samples))
	// All endpoints were still attempted.
	assert.Len(t, api.calls, 3)
}

func TestCollect_AllEndpointsFailed(t *testing.T) {
	boom := errors.New("device unreachable")
	api := &fakeAPI{errs: map[string]error{
		"/connection/": boom, "/system/": boom, "/connection/xdsl/": boom,
	}}

	c := newTestCollector(api)

	result, err := c.Collect(context.Background())
	assert.ErrorIs(t, err, ErrAllEndpointsFailed)
	assert.Equal(t, 3, result.Failed)
	assert.Empty(t, result.Samples)
}

func TestCollect_AttachesLabels(t *testing.T) {
	api := &fakeAPI{payloads: map[string]string{"/connection/": `{"rate_down": 1}`}}

	c := newTestCollector(api,
		WithEndpoints([]Endpoint{{Path: "/connection/", Category: "connection"}}),
		WithLabels(map[string]string{"uid": "x", "box_model": "fbxgw-r2/full"}),
	)

	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Samples, 1)

	assert.Equal(t, map[string]string{"uid": "x", "box_model": "fbxgw-r2/full"}, result.Samples[0].Labels)
}

func TestCollect_CustomPrefix(t *testing.T) {
	api := &fakeAPI{payloads: map[string]string{"/connection/": `{"rate_down": 1}`}}

	c := New(api, "box_", logger.NewTestLogger(),
		WithEndpoints([]Endpoint{{Path: "/connection/", Category: "connection"}}))

	result, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "box_connection_rate_down", result.Samples[0].Name)
}
