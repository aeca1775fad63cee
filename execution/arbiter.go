package execution

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flashbots/execution-bridge/builderclient"
	"github.com/flashbots/execution-bridge/common"
	"github.com/holiman/uint256"
	uberatomic "go.uber.org/atomic"
)

var ErrUnknownTiePolicy = errors.New("unknown tie policy")

// TiePolicy decides who wins when the builder bid and the local payload are worth the same
type TiePolicy string

const (
	TiePreferBuilder TiePolicy = "prefer-builder"
	TiePreferLocal   TiePolicy = "prefer-local"
)

func ParseTiePolicy(s string) (TiePolicy, error) {
	switch TiePolicy(strings.ToLower(s)) {
	case "", TiePreferBuilder:
		return TiePreferBuilder, nil
	case TiePreferLocal:
		return TiePreferLocal, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTiePolicy, s)
	}
}

// PayloadSource says where a chosen payload comes from
type PayloadSource string

const (
	SourceLocal   PayloadSource = "local"
	SourceBuilder PayloadSource = "builder"
)

const (
	DecisionReasonBuilderOnly        = "no_local_payload"
	DecisionReasonBuilderHigherValue = "builder_higher_value"
	DecisionReasonBuilderTie         = "tie_prefer_builder"
	DecisionReasonLocalHigherValue   = "local_higher_value"
	DecisionReasonLocalTie           = "tie_prefer_local"
	DecisionReasonNoBid              = "no_builder_bid"
	DecisionReasonForceLocal         = "force_local"
)

// Decision is the result of arbitration
type Decision struct {
	Source PayloadSource
	Reason string

	LocalValue   *uint256.Int
	BuilderValue *uint256.Int
	// BoostedBuilderValue is the builder value after the boost factor, the one that was compared
	BoostedBuilderValue *uint256.Int
}

type ArbiterOpts struct {
	TiePolicy TiePolicy
	// BoostFactor scales the builder value in percent before the comparison, 0 means 100
	BoostFactor uint64
	ForceLocal  bool
}

// Arbiter chooses between the local payload and a builder bid. The bid passed in must
// already be validated.
type Arbiter struct {
	tiePolicy   TiePolicy
	boostFactor *uint256.Int
	forceLocal  uberatomic.Bool
}

func NewArbiter(opts ArbiterOpts) (*Arbiter, error) {
	policy, err := ParseTiePolicy(string(opts.TiePolicy))
	if err != nil {
		return nil, err
	}
	boost := opts.BoostFactor
	if boost == 0 {
		boost = 100
	}

	a := &Arbiter{
		tiePolicy:   policy,
		boostFactor: uint256.NewInt(boost),
	}
	a.forceLocal.Store(opts.ForceLocal)
	return a, nil
}

// SetForceLocal flips the operator circuit breaker. It takes effect for the next decision.
func (a *Arbiter) SetForceLocal(forceLocal bool) {
	a.forceLocal.Store(forceLocal)
}

func (a *Arbiter) ForceLocal() bool {
	return a.forceLocal.Load()
}

func (a *Arbiter) TiePolicy() TiePolicy {
	return a.tiePolicy
}

func (a *Arbiter) boost(value *uint256.Int) *uint256.Int {
	boosted, overflow := new(uint256.Int).MulDivOverflow(value, a.boostFactor, uint256.NewInt(100))
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return boosted
}

// Decide returns the builder bid iff there is one, the override is off and the local payload is
// absent or not worth more than the boosted bid. Otherwise the local payload is used if there is one.
func (a *Arbiter) Decide(local *common.ExecutionPayload, bid *builderclient.Bid) (*Decision, error) {
	d := &Decision{}
	if local != nil {
		d.LocalValue = local.Value()
	}
	if bid != nil {
		d.BuilderValue = bid.Value()
		d.BoostedBuilderValue = a.boost(bid.Value())
	}

	switch {
	case bid != nil && a.ForceLocal():
		d.Source, d.Reason = SourceLocal, DecisionReasonForceLocal
	case bid != nil && local == nil:
		d.Source, d.Reason = SourceBuilder, DecisionReasonBuilderOnly
	case bid != nil:
		cmp := d.BoostedBuilderValue.Cmp(d.LocalValue)
		switch {
		case cmp > 0:
			d.Source, d.Reason = SourceBuilder, DecisionReasonBuilderHigherValue
		case cmp == 0 && a.tiePolicy == TiePreferBuilder:
			d.Source, d.Reason = SourceBuilder, DecisionReasonBuilderTie
		case cmp == 0:
			d.Source, d.Reason = SourceLocal, DecisionReasonLocalTie
		default:
			d.Source, d.Reason = SourceLocal, DecisionReasonLocalHigherValue
		}
	default:
		d.Source, d.Reason = SourceLocal, DecisionReasonNoBid
	}

	if d.Source == SourceLocal && local == nil {
		return nil, newRequestError(ReasonNoPayloadAvailable, errors.New(d.Reason))
	}
	return d, nil
}
