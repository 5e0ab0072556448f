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

package probe

import (
	"strings"
	"time"

	"github.com/catsnet/freeprobe/pkg/collector"
	"github.com/catsnet/freeprobe/pkg/discovery"
	"github.com/catsnet/freeprobe/pkg/logger"
	"github.com/catsnet/freeprobe/pkg/models"
	"github.com/catsnet/freeprobe/pkg/version"
)

const (
	// defaultAppName is the identity the device shows in its list of
	// authorized applications.
	defaultAppName = "FreeProbe"

	defaultTokenPath    = "/etc/freeprobe/token.json"
	defaultGatewayPort  = 9091
	defaultPollInterval = 2 * time.Second
	defaultPollLimit    = 60
)

// GatewayConfig locates the metrics push gateway.
type GatewayConfig struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Job     string `json:"job"`
}

// Config is the probe's runtime configuration, loaded from JSON with
// FREEPROBE_* environment overrides.
type Config struct {
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`
	DeviceName string `json:"device_name"`

	TokenPath string `json:"token_path"`

	// DeviceUID restricts discovery when several devices share the
	// network; empty means first resolved record wins.
	DeviceUID        string          `json:"device_uid"`
	DiscoveryTimeout models.Duration `json:"discovery_timeout"`

	MetricsPrefix string        `json:"metrics_prefix"`
	Gateway       GatewayConfig `json:"gateway"`

	// Interval re-runs collect+publish on a timer when non-zero; zero
	// means one cycle per process.
	Interval models.Duration `json:"interval"`

	// Registration approval polling.
	PollInterval models.Duration `json:"poll_interval"`
	PollLimit    int             `json:"poll_limit"`

	// InsecureTLS skips verification of the device's certificate. The
	// device API sits behind a private CA, so LAN-only deployments
	// without the CA bundle installed need this.
	InsecureTLS bool `json:"insecure_tls"`

	Logging *logger.Config `json:"logging"`
}

// Validate fills defaults. The gateway address is checked at run time
// instead, because dry-run and register modes never touch it.
func (c *Config) Validate() error {
	if c.AppName == "" {
		c.AppName = defaultAppName
	}

	if c.AppVersion == "" {
		c.AppVersion = version.GetVersion()
	}

	if c.TokenPath == "" {
		c.TokenPath = defaultTokenPath
	}

	if time.Duration(c.DiscoveryTimeout) <= 0 {
		c.DiscoveryTimeout = models.Duration(discovery.DefaultTimeout)
	}

	if c.MetricsPrefix == "" {
		c.MetricsPrefix = collector.DefaultPrefix
	}

	if c.Gateway.Port == 0 {
		c.Gateway.Port = defaultGatewayPort
	}

	if c.Gateway.Job == "" {
		c.Gateway.Job = strings.ToLower(c.AppName)
	}

	if time.Duration(c.PollInterval) <= 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	if c.PollLimit <= 0 {
		c.PollLimit = defaultPollLimit
	}

	return nil
}
