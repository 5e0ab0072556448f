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

package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// TXT record keys advertised by the device, per the FreeboxOS API
// documentation (https://dev.freebox.fr/sdk/os/).
const (
	txtAPIVersion     = "api_version"
	txtAPIBaseURL     = "api_base_url"
	txtAPIDomain      = "api_domain"
	txtDeviceType     = "device_type"
	txtUID            = "uid"
	txtHTTPSAvailable = "https_available"
	txtHTTPSPort      = "https_port"
	txtBoxModel       = "box_model"
	txtBoxModelName   = "box_model_name"
)

var requiredTXTKeys = []string{txtAPIVersion, txtAPIBaseURL, txtAPIDomain, txtDeviceType, txtUID}

// Descriptor is an immutable snapshot of a resolved device service record.
type Descriptor struct {
	Name           string
	ServiceType    string
	ServerHostname string
	Address        net.IP
	Port           uint16
	TXT            map[string]string
}

// ParseTXT decodes raw key=value TXT record strings into a map. Keys
// without a value decode to an empty string. Later duplicates win, which
// matches how the device republishes updated records.
func ParseTXT(raw []string) map[string]string {
	txt := make(map[string]string, len(raw))

	for _, pair := range raw {
		if pair == "" {
			continue
		}

		key, value, _ := strings.Cut(pair, "=")
		if key == "" {
			continue
		}

		txt[key] = value
	}

	return txt
}

// Validate reports whether the descriptor carries everything needed to
// build an API session.
func (d *Descriptor) Validate() error {
	for _, key := range requiredTXTKeys {
		if _, ok := d.TXT[key]; !ok {
			return fmt.Errorf("%w: missing TXT key %q", ErrInvalidDescriptor, key)
		}
	}

	if _, err := d.APIMajor(); err != nil {
		return err
	}

	return nil
}

// APIMajor returns the major component of the advertised API version,
// e.g. "8.1" yields 8.
func (d *Descriptor) APIMajor() (int, error) {
	version := d.TXT[txtAPIVersion]

	major, _, _ := strings.Cut(version, ".")

	n, err := strconv.Atoi(major)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: bad api_version %q", ErrInvalidDescriptor, version)
	}

	return n, nil
}

func (d *Descriptor) APIVersion() string { return d.TXT[txtAPIVersion] }
func (d *Descriptor) APIBaseURL() string { return d.TXT[txtAPIBaseURL] }
func (d *Descriptor) APIDomain() string  { return d.TXT[txtAPIDomain] }
func (d *Descriptor) DeviceType() string { return d.TXT[txtDeviceType] }
func (d *Descriptor) UID() string        { return d.TXT[txtUID] }

func (d *Descriptor) HTTPSAvailable() bool {
	return d.TXT[txtHTTPSAvailable] == "1" || strings.EqualFold(d.TXT[txtHTTPSAvailable], "true")
}

// HTTPSPort returns the advertised remote HTTPS port, or 0 when absent.
func (d *Descriptor) HTTPSPort() uint16 {
	n, err := strconv.ParseUint(d.TXT[txtHTTPSPort], 10, 16)
	if err != nil {
		return 0
	}

	return uint16(n)
}

func (d *Descriptor) BoxModel() string     { return d.TXT[txtBoxModel] }
func (d *Descriptor) BoxModelName() string { return d.TXT[txtBoxModelName] }
