// Package sentinel defines sentinel errors for infrastructure facts. Stores and
// brokers return these (optionally wrapped) so services can translate them into
// domain errors with the right code.
//
// These represent factual states about resources, not validation failures:
//   - ErrNotFound: entity does not exist in the store
//   - ErrConflict: entity already exists or versions collide
//   - ErrInvalidState: entity in the wrong lifecycle state for the operation
//   - ErrUnavailable: backing service temporarily unreachable
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
package sentinel

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
