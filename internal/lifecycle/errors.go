package lifecycle

import "errors"

// ErrNotLeader is returned when a partition worker is demoted and
// refuses to process further admissions; followers only observe (§4.4).
var ErrNotLeader = errors.New("lifecycle: not leader, admission refused")
