package execution

import (
	"errors"
	"fmt"
)

// FailureReason is the closed set of reasons a request can fail for
type FailureReason string

const (
	ReasonInvalidPayload     FailureReason = "invalid_payload"
	ReasonEngineUnavailable  FailureReason = "engine_unavailable"
	ReasonNoPayloadAvailable FailureReason = "no_payload_available"
	ReasonDeadlineExceeded   FailureReason = "deadline_exceeded"
)

var (
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrEngineUnavailable  = errors.New("execution engines unavailable")
	ErrNoPayloadAvailable = errors.New("no payload available")
	ErrDeadlineExceeded   = errors.New("slot deadline exceeded")

	ErrIllegalTransition = errors.New("illegal request state transition")
	ErrNoForkchoice      = errors.New("production request has neither a request nor a forkchoice notification")
)

var reasonErrors = map[FailureReason]error{
	ReasonInvalidPayload:     ErrInvalidPayload,
	ReasonEngineUnavailable:  ErrEngineUnavailable,
	ReasonNoPayloadAvailable: ErrNoPayloadAvailable,
	ReasonDeadlineExceeded:   ErrDeadlineExceeded,
}

// RequestError is the only error the execution layer returns to its caller. Detail is meant for logs.
type RequestError struct {
	Reason FailureReason
	Detail string
}

func newRequestError(reason FailureReason, detail error) *RequestError {
	e := &RequestError{Reason: reason}
	if detail != nil {
		e.Detail = detail.Error()
	}
	return e
}

func (e *RequestError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// Unwrap makes errors.Is(err, ErrNoPayloadAvailable) and friends work
func (e *RequestError) Unwrap() error {
	return reasonErrors[e.Reason]
}
