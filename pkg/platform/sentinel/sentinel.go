package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrExpired: signed state or nonce is past its lifetime
//   - ErrAlreadyUsed: single-use value (state nonce) already consumed
//   - ErrInvalidState: caller passed arguments the store cannot act on
//   - ErrUnavailable: store or provider temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
