package execution

import (
	"testing"

	"github.com/flashbots/execution-bridge/builderclient"
	"github.com/flashbots/execution-bridge/common"
	"github.com/stretchr/testify/require"
)

func testBid(t *testing.T, value uint64) *builderclient.Bid {
	t.Helper()
	builder, err := builderclient.NewTestBuilder()
	require.NoError(t, err)
	bid, err := builder.SignedBid(builderclient.TestBidParams{
		ParentHash: common.TestParentHash,
		Value:      value,
	})
	require.NoError(t, err)
	return bid
}

func newTestArbiter(t *testing.T, opts ArbiterOpts) *Arbiter {
	t.Helper()
	arbiter, err := NewArbiter(opts)
	require.NoError(t, err)
	return arbiter
}

func TestArbiterDecide(t *testing.T) {
	local := func(value uint64) *common.ExecutionPayload {
		return common.TestExecutionPayload(common.TestParentHash, 1, value)
	}

	testCases := []struct {
		name   string
		opts   ArbiterOpts
		local  *common.ExecutionPayload
		bid    uint64 // 0 means no bid
		source PayloadSource
		reason string
	}{
		{"builder pays more", ArbiterOpts{}, local(7), 10, SourceBuilder, DecisionReasonBuilderHigherValue},
		{"local pays more", ArbiterOpts{}, local(11), 10, SourceLocal, DecisionReasonLocalHigherValue},
		{"tie prefers builder by default", ArbiterOpts{}, local(10), 10, SourceBuilder, DecisionReasonBuilderTie},
		{"tie prefers local if configured", ArbiterOpts{TiePolicy: TiePreferLocal}, local(10), 10, SourceLocal, DecisionReasonLocalTie},
		{"no bid", ArbiterOpts{}, local(7), 0, SourceLocal, DecisionReasonNoBid},
		{"no local payload", ArbiterOpts{}, nil, 10, SourceBuilder, DecisionReasonBuilderOnly},
		{"force local", ArbiterOpts{ForceLocal: true}, local(7), 10, SourceLocal, DecisionReasonForceLocal},
		{"boost lets builder win", ArbiterOpts{BoostFactor: 120}, local(11), 10, SourceBuilder, DecisionReasonBuilderHigherValue},
		{"penalty lets local win", ArbiterOpts{BoostFactor: 50}, local(7), 10, SourceLocal, DecisionReasonLocalHigherValue},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			arbiter := newTestArbiter(t, tc.opts)
			var bid *builderclient.Bid
			if tc.bid > 0 {
				bid = testBid(t, tc.bid)
			}

			decision, err := arbiter.Decide(tc.local, bid)
			require.NoError(t, err)
			require.Equal(t, tc.source, decision.Source)
			require.Equal(t, tc.reason, decision.Reason)
		})
	}
}

func TestArbiterNoPayload(t *testing.T) {
	t.Run("neither side", func(t *testing.T) {
		arbiter := newTestArbiter(t, ArbiterOpts{})
		_, err := arbiter.Decide(nil, nil)
		require.ErrorIs(t, err, ErrNoPayloadAvailable)
	})

	t.Run("force local without local payload", func(t *testing.T) {
		arbiter := newTestArbiter(t, ArbiterOpts{ForceLocal: true})
		_, err := arbiter.Decide(nil, testBid(t, 10))
		require.ErrorIs(t, err, ErrNoPayloadAvailable)
	})
}

func TestArbiterForceLocalToggle(t *testing.T) {
	arbiter := newTestArbiter(t, ArbiterOpts{})
	local := common.TestExecutionPayload(common.TestParentHash, 1, 7)
	bid := testBid(t, 10)

	decision, err := arbiter.Decide(local, bid)
	require.NoError(t, err)
	require.Equal(t, SourceBuilder, decision.Source)

	arbiter.SetForceLocal(true)
	require.True(t, arbiter.ForceLocal())
	decision, err = arbiter.Decide(local, bid)
	require.NoError(t, err)
	require.Equal(t, SourceLocal, decision.Source)

	arbiter.SetForceLocal(false)
	decision, err = arbiter.Decide(local, bid)
	require.NoError(t, err)
	require.Equal(t, SourceBuilder, decision.Source)
}

func TestParseTiePolicy(t *testing.T) {
	policy, err := ParseTiePolicy("")
	require.NoError(t, err)
	require.Equal(t, TiePreferBuilder, policy)

	policy, err = ParseTiePolicy("Prefer-Local")
	require.NoError(t, err)
	require.Equal(t, TiePreferLocal, policy)

	_, err = ParseTiePolicy("coin-flip")
	require.ErrorIs(t, err, ErrUnknownTiePolicy)

	_, err = NewArbiter(ArbiterOpts{TiePolicy: "coin-flip"})
	require.ErrorIs(t, err, ErrUnknownTiePolicy)
}
