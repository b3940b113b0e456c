package flywheel

import "errors"

var (
	ErrNilState             = errors.New("flywheel: state not configured")
	ErrNilLedger            = errors.New("flywheel: pool ledger not configured")
	ErrNilBank              = errors.New("flywheel: bank not configured")
	ErrUnauthorized         = errors.New("flywheel: caller not authorized")
	ErrNotParticipatingPool = errors.New("flywheel: pool does not participate")
	ErrLengthMismatch       = errors.New("flywheel: parameter length mismatch")
	ErrMarketNotListed      = errors.New("flywheel: market is not listed")
	ErrTokenNotAdded        = errors.New("flywheel: token farm not configured")
	ErrWindowInvalid        = errors.New("flywheel: end block before start block")
	ErrWindowStartPast      = errors.New("flywheel: start block in the past")
	ErrWindowActive         = errors.New("flywheel: current farm window has not ended")
	ErrAlreadyLending       = errors.New("flywheel: pool already upgraded to lending")
	ErrInsufficientGrant    = errors.New("flywheel: insufficient reward balance for grant")
	ErrInvalidRecipient     = errors.New("flywheel: recipient must be the claiming account")
	ErrInvalidStream        = errors.New("flywheel: unknown reward stream")
	ErrNegativeValue        = errors.New("flywheel: negative value")
	ErrOverflow             = errors.New("flywheel: arithmetic overflow")
)
