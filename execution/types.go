package execution

import (
	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/builderclient"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/database"
	"github.com/flashbots/execution-bridge/engineclient"
	"github.com/holiman/uint256"
)

// ProductionRequest asks for the payload of a slot. Either Request is a request that went through
// UpdateForkChoice with payload attributes, or Notification is a forkchoice notification with
// attributes and the fork choice step runs first.
type ProductionRequest struct {
	Request      *Request
	Notification *engineclient.ForkchoiceNotification

	Slot           uint64
	ProposerPubkey phase0.BLSPubKey
	// ProposerIndex is used to fill in a missing fee recipient from proposer preparations
	ProposerIndex *uint64
	// ParentGasLimit is zero if the parent block is unknown
	ParentGasLimit uint64
}

// ProducedPayload is the outcome of block production
type ProducedPayload struct {
	Slot     uint64
	Decision *Decision

	// Local is set whenever the local engine delivered a payload, also if the bid won
	Local            *common.ExecutionPayload
	LocalContentHash ethcommon.Hash
	Engine           string

	Bid *builderclient.Bid
}

func (p *ProducedPayload) Source() PayloadSource {
	return p.Decision.Source
}

func (p *ProducedPayload) BlockHash() ethcommon.Hash {
	if p.Decision.Source == SourceBuilder {
		return p.Bid.BlockHash()
	}
	return p.Local.BlockHash()
}

func (p *ProducedPayload) Value() *uint256.Int {
	if p.Decision.Source == SourceBuilder {
		return p.Bid.Value()
	}
	return p.Local.Value()
}

// ProposerPreparation maps a validator index to its fee recipient, as sent by the consensus client
type ProposerPreparation struct {
	ValidatorIndex uint64            `json:"validator_index,string"`
	FeeRecipient   ethcommon.Address `json:"fee_recipient"`
}

// DecisionListener is called for every completed block production. It must not block.
type DecisionListener func(entry *database.ProposalDecisionEntry)

// LayerStatus is a snapshot of the execution layer for operators
type LayerStatus struct {
	Engines        []engineclient.EngineInfo `json:"engines"`
	CacheSize      int                       `json:"cache_size"`
	CacheCapacity  int                       `json:"cache_capacity"`
	BuilderEnabled bool                      `json:"builder_enabled"`
	ForceLocal     bool                      `json:"force_local"`
	TiePolicy      TiePolicy                 `json:"tie_policy"`
}
