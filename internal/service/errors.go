package service

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("conflict")
	ErrLotInactive       = errors.New("lot is inactive")
	ErrNoAvailability    = errors.New("no available slots")
	ErrInvalidTransition = errors.New("booking does not allow this transition")
)
