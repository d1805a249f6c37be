package main

import (
	"context"
	"errors"
	"net/http"

	"sensorgames/internal/game"
)

// Machine-readable error codes returned over IPC and HTTP.
const (
	codePermissionDenied  = "permission_denied"
	codeDeviceUnavailable = "device_unavailable"
	codeInvalidPhase      = "invalid_phase"
	codeDisposed          = "disposed"
	codeUnknownGame       = "unknown_game"
	codeBadRequest        = "bad_request"
	codeTimeout           = "timeout"
	codeInternal          = "internal"
)

// errorCode maps an error onto its wire code.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, game.ErrPermissionDenied):
		return codePermissionDenied
	case errors.Is(err, game.ErrDeviceUnavailable):
		return codeDeviceUnavailable
	case errors.Is(err, game.ErrInvalidPhase):
		return codeInvalidPhase
	case errors.Is(err, game.ErrDisposed):
		return codeDisposed
	case errors.Is(err, errUnknownGame):
		return codeUnknownGame
	case errors.Is(err, errUnknownRequest), errors.As(err, new(*requestError)):
		return codeBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return codeTimeout
	default:
		return codeInternal
	}
}

// httpStatus maps an error code onto an HTTP status.
func httpStatus(code string) int {
	switch code {
	case "":
		return http.StatusOK
	case codePermissionDenied:
		return http.StatusForbidden
	case codeDeviceUnavailable, codeDisposed:
		return http.StatusServiceUnavailable
	case codeInvalidPhase:
		return http.StatusConflict
	case codeUnknownGame:
		return http.StatusNotFound
	case codeBadRequest:
		return http.StatusBadRequest
	case codeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// requestError marks a malformed request.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }
