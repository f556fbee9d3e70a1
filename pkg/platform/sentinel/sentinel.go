package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and repositories return
// these (optionally wrapped) so the manager and history layers can translate
// them without knowing which backend produced them.
//
//   - ErrNotFound: no record with that identity exists in the store
//   - ErrConflict: an insert collided with an existing identity
//   - ErrUnavailable: backend or worker pool temporarily unavailable
//
// Validation failures (bad input, inverted ranges) use pkg/domain-errors instead.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
