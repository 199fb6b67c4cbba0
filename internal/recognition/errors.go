package recognition

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState   = errors.New("invalid recognition session state")
	ErrSession        = errors.New("recognition session error")
	ErrSessionTimeout = errors.New("recognition session timed out")
)

// SessionError carries a non-success status reported by the service.
// It matches ErrSession, and ErrSessionTimeout when Timeout is set.
type SessionError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
	Timeout    bool
}

func newSessionError(resp *Response, timeout bool) *SessionError {
	return &SessionError{
		StatusCode: resp.StatusCode,
		Code:       resp.Code,
		Message:    resp.Message,
		RequestID:  resp.RequestID,
		Timeout:    timeout,
	}
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("recognition failed: status=%d code=%s message=%s request_id=%s", e.StatusCode, e.Code, e.Message, e.RequestID)
}

func (e *SessionError) Is(target error) bool {
	if target == ErrSession {
		return true
	}
	return e.Timeout && target == ErrSessionTimeout
}
