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

package fbx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/host"

	"github.com/catsnet/freeprobe/pkg/logger"
)

const (
	// sessionHeader carries the session token on authenticated calls.
	sessionHeader = "X-Fbx-App-Auth"

	defaultCallTimeout  = 10 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultPollLimit    = 60
)

// AppConfig identifies the calling application to the device.
type AppConfig struct {
	AppID      string `json:"app_id"`
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	DeviceName string `json:"device_name"`
}

// NewAppConfig derives the application identity the device API expects.
// The app id is always fr.freebox.<lowercased app name>.
func NewAppConfig(appName, appVersion, deviceName string) AppConfig {
	if deviceName == "" {
		deviceName = localHostname()
	}

	return AppConfig{
		AppID:      "fr.freebox." + strings.ToLower(appName),
		AppName:    appName,
		AppVersion: appVersion,
		DeviceName: deviceName,
	}
}

// localHostname names this machine in the device's application list.
func localHostname() string {
	info, err := host.Info()
	if err != nil || info.Hostname == "" {
		return "freeprobe"
	}

	return info.Hostname
}

// Credentials is the durable result of a successful registration.
type Credentials struct {
	AppID    string `json:"app_id"`
	AppToken string `json:"app_token"`
	TrackID  int    `json:"track_id"`
}

// AuthStatus is the device-reported state of a pending registration.
type AuthStatus string

const (
	AuthStatusUnknown AuthStatus = "unknown"
	AuthStatusPending AuthStatus = "pending"
	AuthStatusTimeout AuthStatus = "timeout"
	AuthStatusGranted AuthStatus = "granted"
	AuthStatusDenied  AuthStatus = "denied"
)

// apiEnvelope is the wire wrapper every device endpoint responds with.
type apiEnvelope struct {
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
	Msg       string          `json:"msg,omitempty"`
}

// Session holds the authenticated connection state for one device.
// It is not safe for concurrent use; the probe drives it from a single
// control flow.
type Session struct {
	baseURL    string
	app        AppConfig
	httpClient *http.Client
	clock      Clock
	logger     logger.Logger

	pollInterval time.Duration
	pollLimit    int

	appToken     string
	sessionToken string
	permissions  map[string]bool
}
