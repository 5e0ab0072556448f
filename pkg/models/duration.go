package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidDuration = errors.New("invalid duration")

// Duration wraps time.Duration for JSON configuration fields. It accepts
// either a number of nanoseconds or a time.ParseDuration string, and
// rejects negative values, which no probe interval or timeout can use.
type Duration time.Duration

// ParseDuration parses a duration string the same way config unmarshaling
// does, including the non-negative rule.
func ParseDuration(s string) (Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidDuration, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%w: negative duration %q", ErrInvalidDuration, s)
	}

	return Duration(d), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		if value < 0 {
			return fmt.Errorf("%w: negative duration %v", ErrInvalidDuration, value)
		}

		*d = Duration(time.Duration(value))
	case string:
		parsed, err := ParseDuration(value)
		if err != nil {
			return err
		}

		*d = parsed
	default:
		return ErrInvalidDuration
	}

	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
