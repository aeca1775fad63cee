package execution

import (
	"fmt"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/engineclient"
)

type RequestState int

const (
	StateIdle RequestState = iota
	StateAwaitingValidation
	StateAwaitingForkChoiceAck
	StateAwaitingPayloadConstruction
	StateAwaitingPayloadRetrieval
	StateComplete
	StateFailed
)

var stateNames = map[RequestState]string{
	StateIdle:                        "idle",
	StateAwaitingValidation:          "awaiting_validation",
	StateAwaitingForkChoiceAck:       "awaiting_forkchoice_ack",
	StateAwaitingPayloadConstruction: "awaiting_payload_construction",
	StateAwaitingPayloadRetrieval:    "awaiting_payload_retrieval",
	StateComplete:                    "complete",
	StateFailed:                      "failed",
}

func (s RequestState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// IsTerminal is true for Complete and Failed
func (s RequestState) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// Failed is reachable from every non-terminal state and is not listed here
var allowedTransitions = map[RequestState][]RequestState{
	StateIdle:                        {StateAwaitingValidation, StateAwaitingForkChoiceAck},
	StateAwaitingValidation:          {StateComplete},
	StateAwaitingForkChoiceAck:       {StateAwaitingPayloadConstruction, StateComplete},
	StateAwaitingPayloadConstruction: {StateAwaitingPayloadRetrieval},
	StateAwaitingPayloadRetrieval:    {StateComplete},
}

// Status is the outcome reported for validation and fork choice requests
type Status string

const (
	StatusValid   Status = "VALID"
	StatusInvalid Status = "INVALID"
	StatusSyncing Status = "SYNCING"
)

// Outcome is what the engines said about a payload or a head
type Outcome struct {
	Status          Status          `json:"status"`
	LatestValidHash *ethcommon.Hash `json:"latest_valid_hash,omitempty"`
	ValidationError string          `json:"validation_error,omitempty"`
}

func outcomeFromVerdict(v engineclient.PayloadVerdict) Outcome {
	o := Outcome{
		LatestValidHash: v.LatestValidHash,
		ValidationError: v.ValidationError,
	}
	switch v.Status {
	case engineclient.PayloadStatusValid:
		o.Status = StatusValid
	case engineclient.PayloadStatusInvalid:
		o.Status = StatusInvalid
	default:
		// ACCEPTED means the engine has not validated the payload yet
		o.Status = StatusSyncing
	}
	return o
}

// Request is the lifecycle of one validation or production request. It is created per request
// and carries everything the request needs later, including the payload binding.
type Request struct {
	mu sync.Mutex

	state   RequestState
	history []RequestState
	failure *RequestError

	outcome      Outcome
	notification *engineclient.ForkchoiceNotification
	binding      *engineclient.PayloadBinding
}

func NewRequest() *Request {
	return &Request{
		state:   StateIdle,
		history: []RequestState{StateIdle},
	}
}

func (r *Request) State() RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// History returns every state the request went through, in order
func (r *Request) History() []RequestState {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := make([]RequestState, len(r.history))
	copy(history, r.history)
	return history
}

// Failure is nil unless the request failed
func (r *Request) Failure() *RequestError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failure
}

func (r *Request) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Binding is the payload id binding of a production request, nil if no engine is building a payload
func (r *Request) Binding() *engineclient.PayloadBinding {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.binding
}

func (r *Request) Notification() *engineclient.ForkchoiceNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notification
}

func (r *Request) transition(to RequestState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitionLocked(to)
}

func (r *Request) transitionLocked(to RequestState) error {
	if r.state.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, r.state)
	}
	if to != StateFailed {
		allowed := false
		for _, s := range allowedTransitions[r.state] {
			if s == to {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, r.state, to)
		}
	}
	r.state = to
	r.history = append(r.history, to)
	return nil
}

// fail moves the request to Failed and returns the error to hand to the caller
func (r *Request) fail(reason FailureReason, detail error) *RequestError {
	r.mu.Lock()
	defer r.mu.Unlock()
	failure := newRequestError(reason, detail)
	if err := r.transitionLocked(StateFailed); err != nil {
		// already terminal, keep the first failure
		if r.failure != nil {
			return r.failure
		}
		return failure
	}
	r.failure = failure
	return failure
}

func (r *Request) setOutcome(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = o
}

func (r *Request) setForkchoice(n *engineclient.ForkchoiceNotification, binding *engineclient.PayloadBinding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notification = n
	r.binding = binding
}
