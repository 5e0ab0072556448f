package fbx

import "errors"

var (
	// ErrAuth covers every registration and session handshake failure.
	ErrAuth = errors.New("device authentication failed")
	// ErrApprovalTimeout indicates the user never approved the
	// registration request on the device front panel.
	ErrApprovalTimeout = errors.New("approval timed out")
	// ErrApprovalDenied indicates the user rejected the registration.
	ErrApprovalDenied = errors.New("registration denied on the device")
	// ErrNoToken indicates no stored credential exists yet; the caller
	// should run registration first.
	ErrNoToken = errors.New("no stored app token, register first")
	// ErrNoSession indicates an authenticated call was attempted before
	// the session handshake.
	ErrNoSession = errors.New("session not open")
)
