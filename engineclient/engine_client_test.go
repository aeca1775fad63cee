package engineclient

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/flashbots/execution-bridge/common"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

type testRPCError struct{}

func (testRPCError) Error() string  { return "unknown payload" }
func (testRPCError) ErrorCode() int { return -38001 }

type testBackend struct {
	t          require.TestingT
	transports []*MockTransport
	handles    []*EngineHandle
	client     *MultiEngineClient
}

func newTestBackend(t require.TestingT, numEngines int) *testBackend {
	transports := make([]*MockTransport, numEngines)
	handles := make([]*EngineHandle, numEngines)
	for i := 0; i < numEngines; i++ {
		transports[i] = NewMockTransport()
		handles[i] = NewEngineHandle(common.TestLog, string(rune('a'+i)), transports[i])
	}

	client, err := NewMultiEngineClient(common.TestLog, handles, DefaultTimeouts)
	require.NoError(t, err)

	return &testBackend{
		t:          t,
		transports: transports,
		handles:    handles,
		client:     client,
	}
}

func testNotification(attrs bool) *ForkchoiceNotification {
	n := &ForkchoiceNotification{
		State: engine.ForkchoiceStateV1{
			HeadBlockHash:      common.TestParentHash,
			SafeBlockHash:      common.TestParentHash,
			FinalizedBlockHash: ethcommon.Hash{},
		},
	}
	if attrs {
		n.Attributes = &engine.PayloadAttributes{
			Timestamp:             1_700_000_012,
			Random:                common.TestPrevRandao,
			SuggestedFeeRecipient: common.TestFeeRecipient,
		}
	}
	return n
}

func testNewPayloadRequest() *NewPayloadRequest {
	return &NewPayloadRequest{Payload: common.TestExecutableData(common.TestParentHash, 2)}
}

func TestEngineHandleStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("starts offline", func(t *testing.T) {
		h := NewEngineHandle(common.TestLog, "a", NewMockTransport())
		require.Equal(t, StatusOffline, h.Status())
	})

	t.Run("valid answer marks synced", func(t *testing.T) {
		h := NewEngineHandle(common.TestLog, "a", NewMockTransport())
		verdict, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), time.Second)
		require.NoError(t, err)
		require.Equal(t, PayloadStatusValid, verdict.Status)
		require.Equal(t, StatusSynced, h.Status())
		require.False(t, h.LastSuccess().IsZero())
	})

	t.Run("syncing answer marks syncing without error", func(t *testing.T) {
		transport := NewMockTransport()
		transport.MockPayloadStatus = engine.PayloadStatusV1{Status: engine.SYNCING}
		h := NewEngineHandle(common.TestLog, "a", transport)
		verdict, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), time.Second)
		require.NoError(t, err)
		require.Equal(t, PayloadStatusSyncing, verdict.Status)
		require.Equal(t, StatusSyncing, h.Status())
	})

	t.Run("invalid block hash is invalid", func(t *testing.T) {
		transport := NewMockTransport()
		validationErr := "block hash mismatch"
		transport.MockPayloadStatus = engine.PayloadStatusV1{Status: "INVALID_BLOCK_HASH", ValidationError: &validationErr}
		h := NewEngineHandle(common.TestLog, "a", transport)
		verdict, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), time.Second)
		require.NoError(t, err)
		require.Equal(t, PayloadStatusInvalid, verdict.Status)
		require.Equal(t, validationErr, verdict.ValidationError)
		require.Equal(t, StatusSynced, h.Status())
	})

	t.Run("unknown status is a protocol error", func(t *testing.T) {
		transport := NewMockTransport()
		transport.MockPayloadStatus = engine.PayloadStatusV1{Status: "MAYBE"}
		h := NewEngineHandle(common.TestLog, "a", transport)
		_, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), time.Second)
		require.ErrorIs(t, err, ErrEngineProtocol)
		require.ErrorIs(t, err, ErrUnknownPayloadStatus)
	})

	t.Run("timeout marks offline", func(t *testing.T) {
		transport := NewMockTransport()
		transport.ResponseDelay = 200 * time.Millisecond
		h := NewEngineHandle(common.TestLog, "a", transport)
		h.setStatus(StatusSynced, nil)

		_, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), 10*time.Millisecond)
		require.ErrorIs(t, err, ErrEngineOffline)
		var engineErr *EngineError
		require.True(t, errors.As(err, &engineErr))
		require.True(t, engineErr.Retryable)
		require.Equal(t, StatusOffline, h.Status())
		require.NotEmpty(t, h.Info().LastError)
	})

	t.Run("transport error marks offline", func(t *testing.T) {
		transport := NewMockTransport()
		transport.MockErr = errTest
		h := NewEngineHandle(common.TestLog, "a", transport)
		h.setStatus(StatusSynced, nil)

		_, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), time.Second)
		require.ErrorIs(t, err, ErrEngineOffline)
		require.Equal(t, StatusOffline, h.Status())
	})

	t.Run("http 5xx marks offline", func(t *testing.T) {
		transport := NewMockTransport()
		transport.MockErr = rpc.HTTPError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}
		h := NewEngineHandle(common.TestLog, "a", transport)
		_, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), time.Second)
		require.ErrorIs(t, err, ErrEngineOffline)
		require.Equal(t, StatusOffline, h.Status())
	})

	t.Run("http 401 marks auth failed", func(t *testing.T) {
		transport := NewMockTransport()
		transport.MockErr = rpc.HTTPError{StatusCode: http.StatusUnauthorized, Status: "401 Unauthorized"}
		h := NewEngineHandle(common.TestLog, "a", transport)
		h.setStatus(StatusSynced, nil)

		_, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), time.Second)
		require.ErrorIs(t, err, ErrEngineAuthFailed)
		var engineErr *EngineError
		require.True(t, errors.As(err, &engineErr))
		require.False(t, engineErr.Retryable)
		var httpErr rpc.HTTPError
		require.True(t, errors.As(err, &httpErr))
		require.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
		require.Equal(t, StatusAuthFailed, h.Status())
	})

	t.Run("json-rpc error leaves status untouched", func(t *testing.T) {
		transport := NewMockTransport()
		h := NewEngineHandle(common.TestLog, "a", transport)
		h.setStatus(StatusSynced, nil)

		transport.MockErr = testRPCError{}
		_, err := h.NotifyNewPayload(ctx, testNewPayloadRequest(), time.Second)
		require.ErrorIs(t, err, ErrEngineProtocol)
		var rpcErr rpc.Error
		require.True(t, errors.As(err, &rpcErr))
		require.Equal(t, testRPCError{}.ErrorCode(), rpcErr.ErrorCode())
		require.Equal(t, StatusSynced, h.Status())
	})

	t.Run("cancelled caller leaves status untouched", func(t *testing.T) {
		transport := NewMockTransport()
		transport.ResponseDelay = time.Second
		h := NewEngineHandle(common.TestLog, "a", transport)
		h.setStatus(StatusSynced, nil)

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := h.NotifyNewPayload(cctx, testNewPayloadRequest(), time.Minute)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.Equal(t, StatusSynced, h.Status())
	})

	t.Run("status listener sees transitions", func(t *testing.T) {
		transport := NewMockTransport()
		h := NewEngineHandle(common.TestLog, "a", transport)
		var transitions [][2]EngineStatus
		h.SetStatusListener(func(name string, from, to EngineStatus) {
			require.Equal(t, "a", name)
			transitions = append(transitions, [2]EngineStatus{from, to})
		})

		require.NoError(t, h.Upcheck(ctx, time.Second))
		require.NoError(t, h.Upcheck(ctx, time.Second))
		transport.MockSyncing = true
		require.NoError(t, h.Upcheck(ctx, time.Second))

		require.Equal(t, [][2]EngineStatus{
			{StatusOffline, StatusSynced},
			{StatusSynced, StatusSyncing},
		}, transitions)
	})
}

func TestEngineHandleMethodVersions(t *testing.T) {
	ctx := context.Background()
	transport := NewMockTransport()
	h := NewEngineHandle(common.TestLog, "a", transport)

	req := testNewPayloadRequest()
	_, err := h.NotifyNewPayload(ctx, req, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, transport.NumCalls(MethodNewPayloadV2))

	root := ethcommon.HexToHash("0x03")
	req.ParentBeaconBlockRoot = &root
	_, err = h.NotifyNewPayload(ctx, req, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, transport.NumCalls(MethodNewPayloadV3))

	n := testNotification(true)
	n.Attributes.BeaconRoot = &root
	result, err := h.NotifyForkchoiceUpdated(ctx, 0, n, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, transport.NumCalls(MethodForkchoiceUpdatedV3))
	require.NotNil(t, result.Binding)

	_, err = h.GetPayload(ctx, result.Binding, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, transport.NumCalls(MethodGetPayloadV3))
	require.Equal(t, 0, transport.NumCalls(MethodGetPayloadV2))
}

func TestEngineHandleForkchoiceOrdering(t *testing.T) {
	ctx := context.Background()
	transport := NewMockTransport()
	h := NewEngineHandle(common.TestLog, "a", transport)

	_, err := h.NotifyForkchoiceUpdated(ctx, 2, testNotification(false), time.Second)
	require.NoError(t, err)

	_, err = h.NotifyForkchoiceUpdated(ctx, 1, testNotification(false), time.Second)
	require.ErrorIs(t, err, ErrForkchoiceSuperseded)

	_, err = h.NotifyForkchoiceUpdated(ctx, 2, testNotification(false), time.Second)
	require.ErrorIs(t, err, ErrForkchoiceSuperseded)

	_, err = h.NotifyForkchoiceUpdated(ctx, 3, testNotification(false), time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, transport.NumCalls(MethodForkchoiceUpdatedV2))
}

func TestEngineHandleForkchoiceAccepted(t *testing.T) {
	transport := NewMockTransport()
	transport.MockForkchoiceResponse = engine.ForkChoiceResponse{PayloadStatus: engine.PayloadStatusV1{Status: engine.ACCEPTED}}
	h := NewEngineHandle(common.TestLog, "a", transport)

	result, err := h.NotifyForkchoiceUpdated(context.Background(), 0, testNotification(false), time.Second)
	require.NoError(t, err)
	require.Equal(t, PayloadStatusSyncing, result.Verdict.Status)
	require.Nil(t, result.Binding)
}

func TestEngineHandleForkchoiceWithoutAttributes(t *testing.T) {
	transport := NewMockTransport()
	h := NewEngineHandle(common.TestLog, "a", transport)

	result, err := h.NotifyForkchoiceUpdated(context.Background(), 0, testNotification(false), time.Second)
	require.NoError(t, err)
	require.NotNil(t, transport.MockForkchoiceResponse.PayloadID)
	require.Equal(t, PayloadStatusValid, result.Verdict.Status)
	require.Nil(t, result.Binding)
}

func TestBroadcastForkchoice(t *testing.T) {
	ctx := context.Background()

	t.Run("reaches every engine exactly once regardless of status", func(t *testing.T) {
		backend := newTestBackend(t, 3)
		backend.handles[0].setStatus(StatusAuthFailed, errTest)
		backend.transports[1].MockErr = errTest
		backend.transports[2].MockForkchoiceResponse = engine.ForkChoiceResponse{PayloadStatus: engine.PayloadStatusV1{Status: engine.SYNCING}}

		result, err := backend.client.BroadcastForkchoice(ctx, testNotification(false))
		require.NoError(t, err)
		require.Equal(t, PayloadStatusValid, result.Verdict.Status)
		require.Equal(t, StatusSynced, backend.handles[0].Status())
		require.Equal(t, StatusOffline, backend.handles[1].Status())
		require.Equal(t, StatusSyncing, backend.handles[2].Status())
		for _, transport := range backend.transports {
			require.Equal(t, 1, transport.NumCalls(MethodForkchoiceUpdatedV2))
		}
	})

	t.Run("binding comes from the first valid engine", func(t *testing.T) {
		backend := newTestBackend(t, 3)
		backend.transports[0].MockErr = errTest
		id2 := engine.PayloadID{0x02}
		backend.transports[2].MockForkchoiceResponse.PayloadID = &id2

		result, err := backend.client.BroadcastForkchoice(ctx, testNotification(true))
		require.NoError(t, err)
		require.Equal(t, PayloadStatusValid, result.Verdict.Status)
		require.NotNil(t, result.Binding)
		require.Equal(t, "b", result.Binding.EngineName())
		require.Equal(t, engine.PayloadID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, result.Binding.PayloadID())
	})

	t.Run("no binding without payload attributes", func(t *testing.T) {
		backend := newTestBackend(t, 2)

		result, err := backend.client.BroadcastForkchoice(ctx, testNotification(false))
		require.NoError(t, err)
		require.Equal(t, PayloadStatusValid, result.Verdict.Status)
		require.Nil(t, result.Binding)
	})

	t.Run("first definitive answer in configuration order decides", func(t *testing.T) {
		backend := newTestBackend(t, 2)
		backend.transports[0].MockForkchoiceResponse = engine.ForkChoiceResponse{PayloadStatus: engine.PayloadStatusV1{Status: engine.INVALID}}

		result, err := backend.client.BroadcastForkchoice(ctx, testNotification(true))
		require.NoError(t, err)
		require.Equal(t, PayloadStatusInvalid, result.Verdict.Status)
		require.Nil(t, result.Binding)
	})

	t.Run("waits for slow engines", func(t *testing.T) {
		backend := newTestBackend(t, 2)
		backend.transports[1].ResponseDelay = 50 * time.Millisecond

		result, err := backend.client.BroadcastForkchoice(ctx, testNotification(false))
		require.NoError(t, err)
		require.Equal(t, PayloadStatusValid, result.Verdict.Status)
		require.Equal(t, StatusSynced, backend.handles[1].Status())
	})

	t.Run("only syncing answers", func(t *testing.T) {
		backend := newTestBackend(t, 2)
		backend.transports[0].MockErr = errTest
		backend.transports[1].MockForkchoiceResponse = engine.ForkChoiceResponse{PayloadStatus: engine.PayloadStatusV1{Status: engine.SYNCING}}

		result, err := backend.client.BroadcastForkchoice(ctx, testNotification(true))
		require.NoError(t, err)
		require.Equal(t, PayloadStatusSyncing, result.Verdict.Status)
		require.Nil(t, result.Binding)
	})

	t.Run("all engines failing", func(t *testing.T) {
		backend := newTestBackend(t, 2)
		backend.transports[0].MockErr = errTest
		backend.transports[1].MockErr = errTest

		_, err := backend.client.BroadcastForkchoice(ctx, testNotification(false))
		require.ErrorIs(t, err, ErrAllEnginesUnavailable)
	})
}

func TestRequestNewPayload(t *testing.T) {
	ctx := context.Background()

	t.Run("synced engines are asked first", func(t *testing.T) {
		backend := newTestBackend(t, 3)
		backend.handles[0].setStatus(StatusOffline, errTest)
		backend.handles[1].setStatus(StatusSyncing, nil)
		backend.handles[2].setStatus(StatusSynced, nil)

		verdict, err := backend.client.RequestNewPayload(ctx, testNewPayloadRequest())
		require.NoError(t, err)
		require.Equal(t, PayloadStatusValid, verdict.Status)
		require.Equal(t, 0, backend.transports[0].NumCalls(MethodNewPayloadV2))
		require.Equal(t, 0, backend.transports[1].NumCalls(MethodNewPayloadV2))
		require.Equal(t, 1, backend.transports[2].NumCalls(MethodNewPayloadV2))
		require.Equal(t, "c", backend.client.LastAnswerEngine())
	})

	t.Run("falls through failing engines, each at most once", func(t *testing.T) {
		backend := newTestBackend(t, 3)
		for _, h := range backend.handles {
			h.setStatus(StatusSynced, nil)
		}
		backend.transports[0].MockErr = errTest
		backend.transports[1].MockErr = errTest

		verdict, err := backend.client.RequestNewPayload(ctx, testNewPayloadRequest())
		require.NoError(t, err)
		require.Equal(t, PayloadStatusValid, verdict.Status)
		for _, transport := range backend.transports {
			require.Equal(t, 1, transport.NumCalls(MethodNewPayloadV2))
		}
		// the engines that failed are now ranked last
		require.Equal(t, StatusOffline, backend.handles[0].Status())
	})

	t.Run("auth failed engines are skipped", func(t *testing.T) {
		backend := newTestBackend(t, 2)
		backend.handles[0].setStatus(StatusAuthFailed, errTest)

		_, err := backend.client.RequestNewPayload(ctx, testNewPayloadRequest())
		require.NoError(t, err)
		require.Equal(t, 0, backend.transports[0].NumCalls(MethodNewPayloadV2))
	})

	t.Run("all engines unavailable", func(t *testing.T) {
		backend := newTestBackend(t, 2)
		backend.transports[0].MockErr = errTest
		backend.handles[1].setStatus(StatusAuthFailed, errTest)

		_, err := backend.client.RequestNewPayload(ctx, testNewPayloadRequest())
		require.ErrorIs(t, err, ErrAllEnginesUnavailable)
	})
}

func TestRequestPayload(t *testing.T) {
	ctx := context.Background()

	t.Run("only the binding's engine is asked", func(t *testing.T) {
		backend := newTestBackend(t, 3)
		backend.transports[0].MockErr = errTest

		result, err := backend.client.BroadcastForkchoice(ctx, testNotification(true))
		require.NoError(t, err)
		require.Equal(t, "b", result.Binding.EngineName())

		payload, err := backend.client.RequestPayload(ctx, result.Binding)
		require.NoError(t, err)
		require.NotNil(t, payload)
		require.Equal(t, 0, backend.transports[0].NumCalls(MethodGetPayloadV2))
		require.Equal(t, 1, backend.transports[1].NumCalls(MethodGetPayloadV2))
		require.Equal(t, 0, backend.transports[2].NumCalls(MethodGetPayloadV2))
		require.Equal(t, []engine.PayloadID{result.Binding.PayloadID()}, backend.transports[1].RequestedPayloadIDs)
	})

	t.Run("a failing bound engine is not replaced by another", func(t *testing.T) {
		backend := newTestBackend(t, 2)
		result, err := backend.client.BroadcastForkchoice(ctx, testNotification(true))
		require.NoError(t, err)

		backend.transports[0].MockMethodErr[MethodGetPayloadV2] = errTest
		_, err = backend.client.RequestPayload(ctx, result.Binding)
		require.ErrorIs(t, err, ErrEngineOffline)
		require.Equal(t, 0, backend.transports[1].NumCalls(MethodGetPayloadV2))
	})

	t.Run("bindings of another pool are rejected", func(t *testing.T) {
		backend := newTestBackend(t, 1)
		other := newTestBackend(t, 1)
		result, err := other.client.BroadcastForkchoice(ctx, testNotification(true))
		require.NoError(t, err)

		_, err = backend.client.RequestPayload(ctx, result.Binding)
		require.ErrorIs(t, err, ErrForeignPayloadBinding)
		_, err = backend.handles[0].GetPayload(ctx, result.Binding, time.Second)
		require.ErrorIs(t, err, ErrForeignPayloadBinding)
	})

	t.Run("nil binding", func(t *testing.T) {
		backend := newTestBackend(t, 1)
		_, err := backend.client.RequestPayload(ctx, nil)
		require.ErrorIs(t, err, ErrNilBinding)
	})
}

func TestUpcheckAll(t *testing.T) {
	backend := newTestBackend(t, 3)
	backend.transports[1].MockSyncing = true
	backend.transports[2].MockErr = errTest

	require.Equal(t, 2, backend.client.UpcheckAll(context.Background()))
	require.Equal(t, StatusSynced, backend.handles[0].Status())
	require.Equal(t, StatusSyncing, backend.handles[1].Status())
	require.Equal(t, StatusOffline, backend.handles[2].Status())

	infos := backend.client.Engines()
	require.Len(t, infos, 3)
	require.Equal(t, "b", infos[1].Name)
}

func TestNewMultiEngineClient(t *testing.T) {
	_, err := NewMultiEngineClient(common.TestLog, nil, DefaultTimeouts)
	require.ErrorIs(t, err, ErrNoEngines)
}
