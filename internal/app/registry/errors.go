package registry

import "errors"

// Errors. Every rejected operation leaves all registry state exactly as it
// was before the call; none of these are retryable by the registry itself.
var (
	// ErrNotFound indicates an unknown token id.
	ErrNotFound = errors.New("service token not found")
	// ErrInvalidTransition indicates a state ordinal out of range, a
	// backward or skipping transition, or an attempt to transition an
	// evidence token.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidRating indicates a rating outside [1,5] when entering the
	// rated state.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	// ErrPreconditionFailed indicates a missing companion, a payment
	// attempted without a prior rating, or a missing required principal.
	ErrPreconditionFailed = errors.New("transition precondition failed")
	// ErrTransferFailed indicates the ownership ledger rejected a mint or
	// transfer; the whole operation rolls back.
	ErrTransferFailed = errors.New("ownership ledger call failed")
)

// errorKind names an error for metrics labels.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidRating):
		return "invalid_rating"
	case errors.Is(err, ErrPreconditionFailed):
		return "precondition_failed"
	case errors.Is(err, ErrTransferFailed):
		return "transfer_failed"
	default:
		return "internal"
	}
}
