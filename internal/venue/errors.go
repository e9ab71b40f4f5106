package venue

import "errors"

var (
	// ErrIndeterminate is returned after a placement call exhausts its
	// retry budget without a definitive answer from the venue. The order's
	// true state is unknown; reconciliation resolves it (§5).
	ErrIndeterminate = errors.New("venue: call outcome indeterminate after retries")
	// ErrUnknownVenue is returned when no adapter is registered for the
	// requested venue name.
	ErrUnknownVenue = errors.New("venue: no adapter registered")
)
