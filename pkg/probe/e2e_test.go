package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catsnet/freeprobe/pkg/discovery"
	"github.com/catsnet/freeprobe/pkg/fbx"
	"github.com/catsnet/freeprobe/pkg/logger"
)

// promptClock satisfies fbx.Clock with an always-ready ticker so the
// registration poll runs immediately.
type promptClock struct{}

func (promptClock) Now() time.Time { return time.Unix(0, 0) }

func (promptClock) Ticker(_ time.Duration) fbx.Ticker {
	c := make(chan time.Time, 64)
	for i := 0; i < 64; i++ {
		c <- time.Unix(int64(i), 0)
	}

	return promptTicker{c: c}
}

type promptTicker struct {
	c chan time.Time
}

func (p promptTicker) Chan() <-chan time.Time { return p.c }
func (promptTicker) Stop()                    {}

// mockDevice is a full device API double: registration granted after one
// poll, session handshake, and one counter endpoint.
type mockDevice struct {
	t          *testing.T
	trackPolls int
}

func (d *mockDevice) respond(w http.ResponseWriter, result interface{}) {
	require.NoError(d.t, json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"result":  result,
	}))
}

func (d *mockDevice) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login/authorize/":
			d.respond(w, map[string]interface{}{"app_token": "e2e-token", "track_id": 1})
		case "/login/authorize/1":
			d.trackPolls++
			d.respond(w, map[string]interface{}{"status": "granted"})
		case "/login/":
			d.respond(w, map[string]interface{}{"challenge": "abc123"})
		case "/login/session/":
			var payload map[string]string
			require.NoError(d.t, json.NewDecoder(r.Body).Decode(&payload))
			assert.Equal(d.t, fbx.SessionPassword("e2e-token", "abc123"), payload["password"])
			d.respond(w, map[string]interface{}{"session_token": "e2e-session"})
		case "/connection/":
			assert.Equal(d.t, "e2e-session", r.Header.Get("X-Fbx-App-Auth"))
			d.respond(w, map[string]interface{}{"rate_down": 12345})
		case "/system/", "/connection/xdsl/":
			d.respond(w, map[string]interface{}{})
		default:
			d.t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
}

// Full pipeline: discover, register, re-run, open session, collect,
// dry-run print.
func TestEndToEnd_RegisterThenDryRun(t *testing.T) {
	device := &mockDevice{t: t}
	server := httptest.NewServer(device.handler())
	defer server.Close()

	cfg := testConfig()
	cfg.TokenPath = filepath.Join(t.TempDir(), "token.json")

	desc := &discovery.Descriptor{
		Name: "Freebox Server",
		TXT: map[string]string{
			"api_version":  "8.0",
			"api_base_url": "/api/",
			"api_domain":   "mafreebox.freeboxos.fr",
			"device_type":  "FreeboxServer1,2",
			"uid":          "x",
		},
	}

	newRunner := func() *Runner {
		r, err := New(cfg, logger.NewTestLogger())
		require.NoError(t, err)

		r.scanner = &fakeScanner{desc: desc}
		r.newSession = func(d *discovery.Descriptor) (deviceSession, error) {
			app := fbx.NewAppConfig(cfg.AppName, cfg.AppVersion, "e2e-host")

			return fbx.NewSession(d, app, logger.NewTestLogger(),
				fbx.WithBaseURL(server.URL),
				fbx.WithClock(promptClock{}),
				fbx.WithPollInterval(time.Millisecond),
			)
		}

		return r
	}

	// Registration run: the device grants after one poll.
	require.NoError(t, newRunner().Run(context.Background(), Options{Register: true}))
	assert.Equal(t, 1, device.trackPolls)

	stored, err := fbx.NewTokenStore(cfg.TokenPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "e2e-token", stored.AppToken)

	// Normal run in dry-run mode prints the exposition lines.
	r := newRunner()

	var out bytes.Buffer
	r.out = &out

	require.NoError(t, r.Run(context.Background(), Options{DryRun: true}))
	assert.Contains(t, out.String(), "freebox_wan_rate_down")
	assert.Contains(t, out.String(), "12345")
}
