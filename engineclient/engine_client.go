// Package engineclient provides a client for a set of execution engines speaking the engine API
package engineclient

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoEngines             = errors.New("no execution engines configured")
	ErrAllEnginesUnavailable = errors.New("all execution engines are unavailable")
	ErrEngineOffline         = errors.New("execution engine is offline")
	ErrEngineAuthFailed      = errors.New("execution engine rejected the jwt credentials")
	ErrEngineProtocol        = errors.New("execution engine returned a json-rpc error")
	ErrUnknownPayloadStatus  = errors.New("execution engine returned an unknown payload status")
	ErrForkchoiceSuperseded  = errors.New("forkchoice notification superseded by a newer one")
	ErrNilBinding            = errors.New("payload binding is nil")
	ErrForeignPayloadBinding = errors.New("payload binding was issued by an engine outside of this pool")
	ErrMissingPayloadID      = errors.New("execution engine did not return a payload id")
)

// Transport performs a single json-rpc call against one execution engine. *rpc.Client implements it.
type Transport interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	Close()
}

// Timeouts are the per-call timeouts applied to every engine call
type Timeouts struct {
	NewPayload        time.Duration
	ForkchoiceUpdated time.Duration
	GetPayload        time.Duration
	Upcheck           time.Duration
}

var DefaultTimeouts = Timeouts{
	NewPayload:        8 * time.Second,
	ForkchoiceUpdated: 8 * time.Second,
	GetPayload:        2 * time.Second,
	Upcheck:           time.Second,
}

// EngineError is returned for every failed engine call. Retryable is false when retrying
// against the same engine cannot succeed without operator intervention.
type EngineError struct {
	Engine    string
	Method    string
	Retryable bool
	Err       error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Engine, e.Method, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
