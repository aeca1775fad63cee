package engineclient

import (
	"context"
	"encoding/json"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/flashbots/execution-bridge/common"
)

// MockTransport answers engine calls from canned responses. Responses go through a json
// round-trip, like they would over the wire.
type MockTransport struct {
	mu    sync.Mutex
	calls map[string]int

	MockPayloadStatus      engine.PayloadStatusV1
	MockForkchoiceResponse engine.ForkChoiceResponse
	MockPayloadEnvelope    *engine.ExecutionPayloadEnvelope
	MockSyncing            bool

	// MockErr fails every call, MockMethodErr fails calls of a single method
	MockErr       error
	MockMethodErr map[string]error

	// RequestedPayloadIDs records the ids of every getPayload call
	RequestedPayloadIDs []engine.PayloadID

	ResponseDelay time.Duration
}

func NewMockTransport() *MockTransport {
	id := engine.PayloadID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	return &MockTransport{
		calls: make(map[string]int),

		MockPayloadStatus: engine.PayloadStatusV1{Status: engine.VALID},
		MockForkchoiceResponse: engine.ForkChoiceResponse{
			PayloadStatus: engine.PayloadStatusV1{Status: engine.VALID},
			PayloadID:     &id,
		},
		MockPayloadEnvelope: &engine.ExecutionPayloadEnvelope{
			ExecutionPayload: common.TestExecutableData(common.TestParentHash, 1),
			BlockValue:       big.NewInt(1),
		},
		MockMethodErr: make(map[string]error),
	}
}

func (m *MockTransport) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	m.mu.Lock()
	m.calls[method]++
	if method == MethodGetPayloadV2 || method == MethodGetPayloadV3 {
		if id, ok := args[0].(engine.PayloadID); ok {
			m.RequestedPayloadIDs = append(m.RequestedPayloadIDs, id)
		}
	}
	err := m.MockErr
	if methodErr, ok := m.MockMethodErr[method]; ok {
		err = methodErr
	}
	delay := m.ResponseDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return err
	}

	var resp interface{}
	m.mu.Lock()
	switch method {
	case MethodNewPayloadV2, MethodNewPayloadV3:
		resp = m.MockPayloadStatus
	case MethodForkchoiceUpdatedV2, MethodForkchoiceUpdatedV3:
		resp = m.MockForkchoiceResponse
	case MethodGetPayloadV2, MethodGetPayloadV3:
		resp = m.MockPayloadEnvelope
	case MethodSyncing:
		if m.MockSyncing {
			resp = map[string]string{"currentBlock": "0x1", "highestBlock": "0x2"}
		} else {
			resp = false
		}
	}
	m.mu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (m *MockTransport) Close() {}

// NumCalls returns how often a method was called
func (m *MockTransport) NumCalls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Set updates the mock under its lock, for tests that change responses while calls are in flight
func (m *MockTransport) Set(fn func(m *MockTransport)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}
