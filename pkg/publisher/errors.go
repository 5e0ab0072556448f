package publisher

import "errors"

// ErrPush indicates the gateway was unreachable or rejected the payload.
var ErrPush = errors.New("failed to push metrics to gateway")
