package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrVersionConflict      = errors.New("version conflict")
	ErrNotAuthorized        = errors.New("not authorized")
	ErrTicketReserved       = errors.New("ticket is already reserved")
	ErrOrderCancelled       = errors.New("order is cancelled")
	ErrOrderCompleted       = errors.New("order is already complete")
	ErrInvalidTransition    = errors.New("invalid order status transition")
)
