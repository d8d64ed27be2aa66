package store

import "errors"

// Sentinel errors callers match with errors.Is; the HTTP layer maps them to
// status codes.
var (
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrValidation       = errors.New("validation")
	ErrPaymentRefExists = errors.New("payment reference already bound to a live order")
)
