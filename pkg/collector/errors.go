package collector

import "errors"

// ErrAllEndpointsFailed indicates not a single endpoint produced samples
// this cycle.
var ErrAllEndpointsFailed = errors.New("all metric endpoints failed")
