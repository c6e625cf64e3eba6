package domain

import "errors"

// Error kinds for the settlement ledger. Operations wrap these with the
// human-readable condition that triggered them, so callers can match the kind
// with errors.Is while still seeing the specific precondition in the message.
var (
	ErrNotFound       = errors.New("not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidState   = errors.New("invalid state")
	ErrInvalidInput   = errors.New("invalid input")
	ErrNothingToClaim = errors.New("nothing to claim")
	ErrTransferFailed = errors.New("transfer failed")
	ErrLockHeld       = errors.New("lock already held")
	ErrRateLimited    = errors.New("rate limited")
)
