package service

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotEditable        = errors.New("request is not editable in its current status")
	ErrPaymentUnavailable = errors.New("payment sessions are not configured")
)
