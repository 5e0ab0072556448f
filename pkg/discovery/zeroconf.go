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

// Package discovery locates the device on the local network via mDNS/DNS-SD.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/catsnet/freeprobe/pkg/logger"
)

const (
	// DefaultServiceType is the DNS-SD service the device broadcasts.
	DefaultServiceType = "_fbx-api._tcp"
	// DefaultDomain is the mDNS domain the service is browsed in.
	DefaultDomain = "local."
	// DefaultTimeout bounds how long a discovery cycle waits for a record.
	DefaultTimeout = 5 * time.Second
)

// ZeroconfScanner discovers the device by browsing the mDNS namespace.
// The zero value is not usable; construct it with NewScanner.
type ZeroconfScanner struct {
	serviceType string
	domain      string
	uid         string
	logger      logger.Logger

	// browse is the entry source. Tests replace it to feed synthetic
	// records without touching the network.
	browse func(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error
}

// ScannerOption customizes a ZeroconfScanner.
type ScannerOption func(*ZeroconfScanner)

// WithUID restricts discovery to the device with the given uid. Without it
// the first fully resolved record wins, which is ambiguous when several
// devices share the network.
func WithUID(uid string) ScannerOption {
	return func(s *ZeroconfScanner) { s.uid = uid }
}

// WithServiceType overrides the browsed service type.
func WithServiceType(serviceType string) ScannerOption {
	return func(s *ZeroconfScanner) { s.serviceType = serviceType }
}

// NewScanner creates a scanner browsing for the device API service.
func NewScanner(log logger.Logger, opts ...ScannerOption) *ZeroconfScanner {
	s := &ZeroconfScanner{
		serviceType: DefaultServiceType,
		domain:      DefaultDomain,
		logger:      log,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.browse == nil {
		s.browse = s.browseZeroconf
	}

	return s
}

// Discover browses for the service type until a fully resolved, valid
// record is seen or timeout elapses. The underlying listener is torn down
// on every return path via context cancellation.
func (s *ZeroconfScanner) Discover(ctx context.Context, timeout time.Duration) (*Descriptor, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)

	if err := s.browse(ctx, entries); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolverInit, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, ErrNotFound
			}

			desc, err := descriptorFromEntry(entry)
			if err != nil {
				s.logger.Debug().
					Str("instance", entry.Instance).
					Err(err).
					Msg("Skipping unusable service record")

				continue
			}

			if s.uid != "" && desc.UID() != s.uid {
				s.logger.Debug().
					Str("uid", desc.UID()).
					Str("want_uid", s.uid).
					Msg("Skipping device with non-matching uid")

				continue
			}

			s.logger.Info().
				Str("name", desc.Name).
				Str("address", desc.Address.String()).
				Uint16("port", desc.Port).
				Str("model", desc.BoxModelName()).
				Msg("Device discovered")

			return desc, nil
		case <-ctx.Done():
			return nil, ErrNotFound
		}
	}
}

func (s *ZeroconfScanner) browseZeroconf(ctx context.Context, entries chan<- *zeroconf.ServiceEntry) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	// Browse resolves records in the background and closes entries when
	// ctx is done, which releases the multicast listener.
	return resolver.Browse(ctx, s.serviceType, s.domain, entries)
}

// descriptorFromEntry converts a resolved service entry into a validated
// descriptor. Entries without an IPv4 address are not fully resolved yet.
func descriptorFromEntry(entry *zeroconf.ServiceEntry) (*Descriptor, error) {
	if len(entry.AddrIPv4) == 0 {
		return nil, fmt.Errorf("%w: no IPv4 address", ErrInvalidDescriptor)
	}

	if entry.Port < 0 || entry.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, entry.Port)
	}

	desc := &Descriptor{
		Name:           entry.Instance,
		ServiceType:    entry.Service,
		ServerHostname: entry.HostName,
		Address:        entry.AddrIPv4[0],
		Port:           uint16(entry.Port),
		TXT:            ParseTXT(entry.Text),
	}

	if err := desc.Validate(); err != nil {
		return nil, err
	}

	return desc, nil
}
