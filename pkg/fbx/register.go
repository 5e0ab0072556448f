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
	"context"
	"fmt"
	"net/http"
	"strconv"
)

type authorizeResponse struct {
	AppToken string `json:"app_token"`
	TrackID  int    `json:"track_id"`
}

type trackResponse struct {
	Status    AuthStatus `json:"status"`
	Challenge string     `json:"challenge"`
}

// Register asks the device to authorize this application and waits for the
// user to approve the request on the device front panel. It polls the
// track endpoint every poll interval until a terminal status or the poll
// ceiling is reached. Nothing is persisted here; the caller stores the
// returned credentials only on success.
func (s *Session) Register(ctx context.Context) (*Credentials, error) {
	granted, err := s.requestAuthorization(ctx)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("track_id", granted.TrackID).
		Msg("Registration requested, approve it on the device front panel")

	if err := s.awaitApproval(ctx, granted.TrackID); err != nil {
		return nil, err
	}

	s.appToken = granted.AppToken

	return &Credentials{
		AppID:    s.app.AppID,
		AppToken: granted.AppToken,
		TrackID:  granted.TrackID,
	}, nil
}

func (s *Session) requestAuthorization(ctx context.Context) (*authorizeResponse, error) {
	var granted authorizeResponse

	if err := s.call(ctx, http.MethodPost, "/login/authorize/", s.app, &granted); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	return &granted, nil
}

// awaitApproval is the AWAITING_USER_APPROVAL state: poll until granted,
// a terminal rejection, or the bounded poll count runs out.
func (s *Session) awaitApproval(ctx context.Context, trackID int) error {
	path := "/login/authorize/" + strconv.Itoa(trackID)

	ticker := s.clock.Ticker(s.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= s.pollLimit; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}

		var track trackResponse
		if err := s.call(ctx, http.MethodGet, path, nil, &track); err != nil {
			return fmt.Errorf("%w: %w", ErrAuth, err)
		}

		s.logger.Debug().
			Int("attempt", attempt).
			Str("status", string(track.Status)).
			Msg("Registration status polled")

		switch track.Status {
		case AuthStatusGranted:
			return nil
		case AuthStatusPending:
			continue
		case AuthStatusDenied:
			return fmt.Errorf("%w: %w", ErrAuth, ErrApprovalDenied)
		case AuthStatusTimeout:
			return fmt.Errorf("%w: %w", ErrAuth, ErrApprovalTimeout)
		case AuthStatusUnknown:
			return fmt.Errorf("%w: the device does not know track %d", ErrAuth, trackID)
		default:
			return fmt.Errorf("%w: unexpected status %q", ErrAuth, track.Status)
		}
	}

	return fmt.Errorf("%w: %w", ErrAuth, ErrApprovalTimeout)
}
