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

// Package fbx implements the device registration and session protocol.
package fbx

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // the device API mandates HMAC-SHA1
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/catsnet/freeprobe/pkg/discovery"
	"github.com/catsnet/freeprobe/pkg/logger"
)

var errUnexpectedStatusCode = errors.New("unexpected status code")

// APIError is a device-reported failure, carrying the documented
// error_code so callers can branch on it.
type APIError struct {
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return "device API error: " + e.Code
	}

	return fmt.Sprintf("device API error: %s (%s)", e.Msg, e.Code)
}

// sessionExpiredCodes are the error codes that trigger one transparent
// re-authentication and retry of the original call.
var sessionExpiredCodes = map[string]bool{
	"auth_required":   true,
	"invalid_session": true,
}

// SessionOption customizes a Session.
type SessionOption func(*Session)

// WithHTTPClient replaces the default 10s-timeout client.
func WithHTTPClient(client *http.Client) SessionOption {
	return func(s *Session) { s.httpClient = client }
}

// WithClock injects the clock driving the registration poll loop.
func WithClock(clock Clock) SessionOption {
	return func(s *Session) { s.clock = clock }
}

// WithPollInterval sets the registration status poll period.
func WithPollInterval(interval time.Duration) SessionOption {
	return func(s *Session) { s.pollInterval = interval }
}

// WithPollLimit bounds how many times registration status is polled.
func WithPollLimit(limit int) SessionOption {
	return func(s *Session) { s.pollLimit = limit }
}

// WithBaseURL overrides the URL derived from the descriptor. Tests point
// this at an httptest server.
func WithBaseURL(baseURL string) SessionOption {
	return func(s *Session) { s.baseURL = baseURL }
}

// WithInsecureTLS skips certificate verification. The device serves its
// API under a private CA, so some deployments need this.
func WithInsecureTLS() SessionOption {
	return func(s *Session) {
		s.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
}

// NewSession builds a session for the device described by desc. The base
// URL is https://{api_domain}{api_base_url}v{major}.
func NewSession(desc *discovery.Descriptor, app AppConfig, log logger.Logger, opts ...SessionOption) (*Session, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	major, err := desc.APIMajor()
	if err != nil {
		return nil, err
	}

	s := &Session{
		baseURL:      fmt.Sprintf("https://%s%sv%d", desc.APIDomain(), desc.APIBaseURL(), major),
		app:          app,
		httpClient:   &http.Client{Timeout: defaultCallTimeout},
		clock:        realClock{},
		logger:       log,
		pollInterval: defaultPollInterval,
		pollLimit:    defaultPollLimit,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// BaseURL returns the fully qualified API root, without trailing slash.
func (s *Session) BaseURL() string {
	return s.baseURL
}

type challengeResponse struct {
	Challenge string `json:"challenge"`
	LoggedIn  bool   `json:"logged_in"`
}

type sessionResponse struct {
	SessionToken string          `json:"session_token"`
	Permissions  map[string]bool `json:"permissions"`
}

// Open exchanges the stored app token for a short-lived session token.
// The device hands out a challenge; the password is the hex HMAC-SHA1 of
// that challenge keyed with the app token.
func (s *Session) Open(ctx context.Context, appToken string) error {
	if appToken == "" {
		return ErrNoToken
	}

	var challenge challengeResponse
	if err := s.call(ctx, http.MethodGet, "/login/", nil, &challenge); err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	payload := map[string]string{
		"app_id":      s.app.AppID,
		"app_version": s.app.AppVersion,
		"password":    SessionPassword(appToken, challenge.Challenge),
	}

	var opened sessionResponse
	if err := s.call(ctx, http.MethodPost, "/login/session/", payload, &opened); err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}

	s.appToken = appToken
	s.sessionToken = opened.SessionToken
	s.permissions = opened.Permissions

	s.logger.Debug().
		Str("app_id", s.app.AppID).
		Interface("permissions", opened.Permissions).
		Msg("Session opened")

	return nil
}

// SessionPassword computes the login password for a challenge: the
// hex-encoded HMAC-SHA1 of the challenge keyed with the app token.
func SessionPassword(appToken, challenge string) string {
	mac := hmac.New(sha1.New, []byte(appToken))
	mac.Write([]byte(challenge))

	return hex.EncodeToString(mac.Sum(nil))
}

// Get issues an authenticated GET and decodes the result payload into out.
// A session-expired response re-runs the handshake once and retries the
// call exactly once before surfacing the failure.
func (s *Session) Get(ctx context.Context, path string, out interface{}) error {
	if s.sessionToken == "" {
		return ErrNoSession
	}

	err := s.call(ctx, http.MethodGet, path, nil, out)

	var apiErr *APIError
	if errors.As(err, &apiErr) && sessionExpiredCodes[apiErr.Code] {
		s.logger.Debug().Str("path", path).Msg("Session expired, re-authenticating")

		s.sessionToken = ""

		if err := s.Open(ctx, s.appToken); err != nil {
			return err
		}

		return s.call(ctx, http.MethodGet, path, nil, out)
	}

	return err
}

// call performs one device API round trip and unwraps the response
// envelope. A nil out discards the result payload.
func (s *Session) call(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody *bytes.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}

		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if s.sessionToken != "" {
		req.Header.Set(sessionHeader, s.sessionToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("Failed to close response body")
		}
	}()

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %d: %w", errUnexpectedStatusCode, resp.StatusCode, err)
	}

	if !envelope.Success {
		return &APIError{Code: envelope.ErrorCode, Msg: envelope.Msg}
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return err
		}
	}

	return nil
}
