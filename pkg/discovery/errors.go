package discovery

import "errors"

var (
	// ErrNotFound indicates no matching device resolved before the
	// discovery timeout expired.
	ErrNotFound = errors.New("no device found on the local network")
	// ErrInvalidDescriptor indicates a resolved record is missing required
	// TXT keys or carries an unparsable API version.
	ErrInvalidDescriptor = errors.New("invalid device descriptor")
	// ErrResolverInit indicates the multicast resolver could not be set up.
	ErrResolverInit = errors.New("failed to initialize mDNS resolver")
)
