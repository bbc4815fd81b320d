package ripple_errors

import "errors"

// Domain errors surfaced to socket clients as `error` events.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrNotAParticipant      = errors.New("not a participant of this conversation")
	ErrNotFound             = errors.New("not found")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrAlreadyExists        = errors.New("already exists")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
)

// Code maps a domain error to the wire-level error code carried in
// the `error` event payload.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return "AUTHENTICATION_FAILED"
	case errors.Is(err, ErrNotAParticipant):
		return "NOT_A_PARTICIPANT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrInvalidPayload):
		return "INVALID_PAYLOAD"
	case errors.Is(err, ErrAlreadyExists):
		return "ALREADY_EXISTS"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	default:
		return "INTERNAL"
	}
}
