package builderclient

import (
	"context"
	"errors"
	"testing"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/datastore"
	"github.com/stretchr/testify/require"
)

func testBidRequest() BidRequest {
	return BidRequest{
		Slot:         testSlot,
		ParentHash:   common.TestParentHash,
		Pubkey:       phase0.BLSPubKey{0x0a},
		FeeRecipient: common.TestFeeRecipient,
		Timestamp:    1_700_001_200,
		PrevRandao:   common.TestPrevRandao,
	}
}

func newTestBridge(t *testing.T, client IBuilderClient) (*Bridge, *TestBuilder, *datastore.ProposerMemoryDatastore) {
	t.Helper()
	builder, err := NewTestBuilder()
	require.NoError(t, err)
	proposers := datastore.NewProposerMemoryDatastore()
	bridge := NewBridge(BridgeOpts{
		Log:              common.TestLog,
		Client:           client,
		Domain:           builder.Domain,
		Proposers:        proposers,
		GetHeaderTimeout: 50 * time.Millisecond,
	})
	return bridge, builder, proposers
}

func TestBridgeRequestBid(t *testing.T) {
	ctx := context.Background()

	t.Run("no builder configured", func(t *testing.T) {
		bridge, _, _ := newTestBridge(t, nil)
		require.False(t, bridge.Enabled())
		require.Nil(t, bridge.RequestBid(ctx, testBidRequest()))
		require.ErrorIs(t, bridge.Status(ctx), ErrNoBuilder)
	})

	t.Run("valid bid is returned", func(t *testing.T) {
		client := &MockBuilderClient{}
		bridge, builder, _ := newTestBridge(t, client)
		bid, err := builder.SignedBid(testBidParams())
		require.NoError(t, err)
		client.MockBid = bid

		got := bridge.RequestBid(ctx, testBidRequest())
		require.Same(t, bid, got)
	})

	t.Run("builder without bid", func(t *testing.T) {
		client := &MockBuilderClient{}
		bridge, _, _ := newTestBridge(t, client)
		require.Nil(t, bridge.RequestBid(ctx, testBidRequest()))
		require.Equal(t, 1, client.NumHeaderRequests)
	})

	t.Run("builder error", func(t *testing.T) {
		client := &MockBuilderClient{MockErr: errors.New("boom")}
		bridge, _, _ := newTestBridge(t, client)
		require.Nil(t, bridge.RequestBid(ctx, testBidRequest()))
	})

	t.Run("slow builder", func(t *testing.T) {
		client := &MockBuilderClient{ResponseDelay: time.Second}
		bridge, builder, _ := newTestBridge(t, client)
		bid, err := builder.SignedBid(testBidParams())
		require.NoError(t, err)
		client.MockBid = bid

		start := time.Now()
		require.Nil(t, bridge.RequestBid(ctx, testBidRequest()))
		require.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("invalid bid is dropped", func(t *testing.T) {
		client := &MockBuilderClient{}
		bridge, builder, _ := newTestBridge(t, client)
		p := testBidParams()
		p.ParentHash = ethcommon.HexToHash("0x01")
		bid, err := builder.SignedBid(p)
		require.NoError(t, err)
		client.MockBid = bid

		require.Nil(t, bridge.RequestBid(ctx, testBidRequest()))
	})

	t.Run("registered gas limit becomes the expected gas limit", func(t *testing.T) {
		client := &MockBuilderClient{}
		bridge, builder, proposers := newTestBridge(t, client)
		req := testBidRequest()
		req.ParentGasLimit = 30_000_000

		require.NoError(t, proposers.SaveValidatorRegistration(&builderApiV1.SignedValidatorRegistration{
			Message: &builderApiV1.ValidatorRegistration{GasLimit: 36_000_000, Pubkey: req.Pubkey},
		}))

		bid, err := builder.SignedBid(testBidParams())
		require.NoError(t, err)
		client.MockBid = bid
		require.Nil(t, bridge.RequestBid(ctx, req))

		p := testBidParams()
		p.GasLimit = 30_000_000 + 30_000_000/1024 - 1
		bid, err = builder.SignedBid(p)
		require.NoError(t, err)
		client.MockBid = bid
		require.Same(t, bid, bridge.RequestBid(ctx, req))
	})
}

func TestBridgeRegisterValidators(t *testing.T) {
	ctx := context.Background()
	regs := []*builderApiV1.SignedValidatorRegistration{{
		Message: &builderApiV1.ValidatorRegistration{GasLimit: 30_000_000, Pubkey: phase0.BLSPubKey{0x0b}},
	}}

	t.Run("stored and forwarded", func(t *testing.T) {
		client := &MockBuilderClient{}
		bridge, _, proposers := newTestBridge(t, client)
		require.NoError(t, bridge.RegisterValidators(ctx, regs))
		require.Len(t, client.Registrations, 1)

		stored, err := proposers.GetValidatorRegistration(phase0.BLSPubKey{0x0b})
		require.NoError(t, err)
		require.NotNil(t, stored)
	})

	t.Run("stored without builder", func(t *testing.T) {
		bridge, _, proposers := newTestBridge(t, nil)
		require.NoError(t, bridge.RegisterValidators(ctx, regs))
		stored, err := proposers.GetValidatorRegistration(phase0.BLSPubKey{0x0b})
		require.NoError(t, err)
		require.NotNil(t, stored)
	})
}

func TestBridgeSubmitBlindedBlock(t *testing.T) {
	ctx := context.Background()
	expected := ethcommon.HexToHash("0xcc")

	t.Run("matching block hash", func(t *testing.T) {
		client := &MockBuilderClient{MockUnblinded: &UnblindedPayload{
			Version: "capella",
			Data:    []byte(`{"block_hash":"0x00000000000000000000000000000000000000000000000000000000000000cc"}`),
		}}
		bridge, _, _ := newTestBridge(t, client)
		payload, err := bridge.SubmitBlindedBlock(ctx, "capella", []byte(`{}`), expected)
		require.NoError(t, err)
		require.Equal(t, "capella", payload.Version)
	})

	t.Run("different block hash", func(t *testing.T) {
		client := &MockBuilderClient{MockUnblinded: &UnblindedPayload{
			Version: "capella",
			Data:    []byte(`{"block_hash":"0x00000000000000000000000000000000000000000000000000000000000000dd"}`),
		}}
		bridge, _, _ := newTestBridge(t, client)
		_, err := bridge.SubmitBlindedBlock(ctx, "capella", []byte(`{}`), expected)
		require.ErrorIs(t, err, ErrBlockHashMismatch)
	})

	t.Run("no builder", func(t *testing.T) {
		bridge, _, _ := newTestBridge(t, nil)
		_, err := bridge.SubmitBlindedBlock(ctx, "capella", []byte(`{}`), expected)
		require.ErrorIs(t, err, ErrNoBuilder)
	})
}
