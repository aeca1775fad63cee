package engineclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/metrics"
	"github.com/sirupsen/logrus"
	uberatomic "go.uber.org/atomic"
)

// EngineHandle is a single execution engine endpoint. It owns the endpoint's status and
// updates it after every call from the outcome of that call.
type EngineHandle struct {
	log       *logrus.Entry
	name      string
	transport Transport

	mu          sync.RWMutex
	status      EngineStatus
	lastSuccess time.Time
	lastError   error
	listener    StatusListener

	// highest forkchoice sequence number sent to this engine
	forkchoiceSeq uberatomic.Uint64
}

// NewEngineHandle creates a handle. Engines start Offline until a call or an upcheck succeeds.
func NewEngineHandle(log *logrus.Entry, name string, transport Transport) *EngineHandle {
	return &EngineHandle{
		log:       log.WithField("engine", name),
		name:      name,
		transport: transport,
		status:    StatusOffline,
	}
}

func (h *EngineHandle) Name() string {
	return h.name
}

func (h *EngineHandle) Status() EngineStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *EngineHandle) LastSuccess() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastSuccess
}

func (h *EngineHandle) Info() EngineInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	info := EngineInfo{
		Name:   h.name,
		Status: h.status,
	}
	if !h.lastSuccess.IsZero() {
		info.LastSuccess = h.lastSuccess.UnixMilli()
	}
	if h.lastError != nil {
		info.LastError = h.lastError.Error()
	}
	return info
}

func (h *EngineHandle) SetStatusListener(listener StatusListener) {
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()
}

func (h *EngineHandle) Close() {
	h.transport.Close()
}

// NotifyNewPayload submits a payload for validation
func (h *EngineHandle) NotifyNewPayload(ctx context.Context, req *NewPayloadRequest, timeout time.Duration) (PayloadVerdict, error) {
	method, params := req.method()

	var resp engine.PayloadStatusV1
	if err := h.call(ctx, timeout, &resp, method, params...); err != nil {
		return PayloadVerdict{}, err
	}

	verdict, err := newPayloadVerdict(resp)
	if err != nil {
		return verdict, h.protocolError(method, fmt.Errorf("%w: %s", err, resp.Status))
	}

	if verdict.Status == PayloadStatusSyncing {
		h.setStatus(StatusSyncing, nil)
	} else {
		h.setStatus(StatusSynced, nil)
	}
	return verdict, nil
}

// NotifyForkchoiceUpdated delivers a forkchoice notification. A non-zero seq orders notifications:
// once a notification has been sent, older ones are rejected with ErrForkchoiceSuperseded.
func (h *EngineHandle) NotifyForkchoiceUpdated(ctx context.Context, seq uint64, n *ForkchoiceNotification, timeout time.Duration) (*ForkchoiceResult, error) {
	if seq != 0 && !h.claimForkchoiceSeq(seq) {
		return nil, &EngineError{Engine: h.name, Method: n.method(), Retryable: false, Err: ErrForkchoiceSuperseded}
	}

	method := n.method()
	var resp engine.ForkChoiceResponse
	if err := h.call(ctx, timeout, &resp, method, n.State, n.Attributes); err != nil {
		return nil, err
	}

	verdict, err := newPayloadVerdict(resp.PayloadStatus)
	if err != nil {
		return nil, h.protocolError(method, fmt.Errorf("%w: %s", err, resp.PayloadStatus.Status))
	}

	switch verdict.Status {
	case PayloadStatusSyncing:
		h.setStatus(StatusSyncing, nil)
	case PayloadStatusAccepted:
		// not a valid forkchoiceUpdated answer, tolerated as syncing
		h.log.WithField("method", method).Warn("engine answered forkchoiceUpdated with ACCEPTED")
		verdict.Status = PayloadStatusSyncing
		h.setStatus(StatusSynced, nil)
	default:
		h.setStatus(StatusSynced, nil)
	}

	result := &ForkchoiceResult{Verdict: verdict}
	if resp.PayloadID != nil && n.Attributes == nil {
		h.log.WithField("method", method).Warn("engine returned a payload id without payload attributes, ignoring it")
	}
	if resp.PayloadID != nil && n.Attributes != nil {
		result.Binding = &PayloadBinding{
			handle:  h,
			id:      *resp.PayloadID,
			version: n.payloadVersion(),
		}
	}
	return result, nil
}

func (h *EngineHandle) claimForkchoiceSeq(seq uint64) bool {
	for {
		current := h.forkchoiceSeq.Load()
		if seq <= current {
			return false
		}
		if h.forkchoiceSeq.CompareAndSwap(current, seq) {
			return true
		}
	}
}

// GetPayload retrieves the payload a binding refers to. Bindings of other engines are rejected.
func (h *EngineHandle) GetPayload(ctx context.Context, binding *PayloadBinding, timeout time.Duration) (*common.ExecutionPayload, error) {
	if binding == nil {
		return nil, ErrNilBinding
	}
	if binding.handle != h {
		return nil, ErrForeignPayloadBinding
	}

	method := binding.method()
	var resp engine.ExecutionPayloadEnvelope
	if err := h.call(ctx, timeout, &resp, method, binding.id); err != nil {
		return nil, err
	}

	payload, err := common.NewExecutionPayload(&resp)
	if err != nil {
		return nil, h.protocolError(method, err)
	}

	h.setStatus(StatusSynced, nil)
	return payload, nil
}

// Upcheck probes the engine with eth_syncing and updates its status. It only fails if the engine is unreachable.
func (h *EngineHandle) Upcheck(ctx context.Context, timeout time.Duration) error {
	var resp json.RawMessage
	if err := h.call(ctx, timeout, &resp, MethodSyncing); err != nil {
		return err
	}

	var syncing bool
	if err := json.Unmarshal(resp, &syncing); err == nil && !syncing {
		h.setStatus(StatusSynced, nil)
	} else {
		// eth_syncing answers with an object while syncing
		h.setStatus(StatusSyncing, nil)
	}
	return nil
}

func (h *EngineHandle) call(parent context.Context, timeout time.Duration, result interface{}, method string, args ...interface{}) error {
	ctx := parent
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	log := h.log.WithField("method", method)
	log.Debug("calling engine")

	start := time.Now()
	err := h.transport.CallContext(ctx, result, method, args...)
	metrics.RecordEngineCall(parent, h.name, method, time.Since(start), err)
	if err == nil {
		return nil
	}

	if parent.Err() != nil {
		// the caller gave up, this says nothing about the engine
		return &EngineError{Engine: h.name, Method: method, Retryable: true, Err: parent.Err()}
	}

	status, engineErr := h.classify(method, err)
	if status != "" {
		h.setStatus(status, engineErr)
	} else {
		h.setLastError(engineErr)
	}
	log.WithError(err).Warn("engine call failed")
	return engineErr
}

// classify maps a call error to the status it implies. An empty status leaves the status untouched.
func (h *EngineHandle) classify(method string, err error) (EngineStatus, *EngineError) {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden {
			return StatusAuthFailed, &EngineError{Engine: h.name, Method: method, Retryable: false, Err: fmt.Errorf("%w: %w", ErrEngineAuthFailed, err)}
		}
		return StatusOffline, &EngineError{Engine: h.name, Method: method, Retryable: true, Err: fmt.Errorf("%w: %w", ErrEngineOffline, err)}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return "", h.protocolError(method, err)
	}

	// timeouts, refused connections and undecodable responses
	return StatusOffline, &EngineError{Engine: h.name, Method: method, Retryable: true, Err: fmt.Errorf("%w: %w", ErrEngineOffline, err)}
}

func (h *EngineHandle) protocolError(method string, err error) *EngineError {
	engineErr := &EngineError{Engine: h.name, Method: method, Retryable: false, Err: fmt.Errorf("%w: %w", ErrEngineProtocol, err)}
	h.setLastError(engineErr)
	return engineErr
}

func (h *EngineHandle) setLastError(err error) {
	h.mu.Lock()
	h.lastError = err
	h.mu.Unlock()
}

func (h *EngineHandle) setStatus(status EngineStatus, err error) {
	h.mu.Lock()
	previous := h.status
	h.status = status
	if err == nil {
		h.lastSuccess = time.Now()
	} else {
		h.lastError = err
	}
	listener := h.listener
	h.mu.Unlock()

	if previous == status {
		return
	}

	h.log.WithFields(logrus.Fields{
		"from": previous,
		"to":   status,
	}).Info("engine status changed")
	metrics.RecordEngineStatusChange(context.Background(), h.name, previous.String(), status.String())
	if listener != nil {
		listener(h.name, previous, status)
	}
}
