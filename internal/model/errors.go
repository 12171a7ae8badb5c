package model

import "errors"

// Application-wide standard errors
var (
	// Guard session errors
	ErrSessionTerminated = errors.New("guard session already terminated")
	ErrSourceFailed      = errors.New("increment source failed")

	// Common Resource/DB Errors
	ErrNotFound       = errors.New("resource not found")
	ErrResultNotFound = errors.New("guard result not found")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
	ErrInvalidInput   = errors.New("invalid input data")
)
