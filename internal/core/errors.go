package core

import (
	"context"
	"errors"

	"github.com/vovakirdan/roomchat/internal/store"
)

// Error codes for domain errors.
const (
	ErrCodeInvalidRoom  = "invalid_room"
	ErrCodeStorage      = "storage_error"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"
	ErrCodeInvalidInput = "invalid_message"
)

var (
	// ErrInvalidRoom is returned when a room id does not refer to an existing room.
	ErrInvalidRoom = errors.New("invalid room")
	// ErrBadRequest is returned for malformed or out-of-bounds input.
	ErrBadRequest = errors.New("bad request")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func coreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// ToCoreError classifies err into a client-facing error.
// Storage details are not leaked to clients.
func ToCoreError(err error) *CoreError {
	var ce *CoreError
	var se *store.StorageError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, ErrInvalidRoom):
		return coreError(ErrCodeInvalidRoom, "room does not exist")
	case errors.Is(err, ErrBadRequest):
		return coreError(ErrCodeBadRequest, err.Error())
	case errors.As(err, &se):
		return coreError(ErrCodeStorage, "message could not be stored")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return coreError(ErrCodeInternal, "request cancelled")
	default:
		return coreError(ErrCodeInternal, "internal error")
	}
}
