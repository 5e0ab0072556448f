package probe

import "errors"

// ErrGatewayNotConfigured indicates live mode was requested without a
// push gateway address in the configuration.
var ErrGatewayNotConfigured = errors.New("gateway address is not configured")
