package builderclient

import (
	"fmt"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/consensus/misc"
	"github.com/ethereum/go-ethereum/core"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/go-boost-utils/ssz"
)

// InvalidBidError is returned for bids that must not be used. Invalid bids are dropped, never retried.
type InvalidBidError struct {
	Reason string
}

func (e *InvalidBidError) Error() string {
	return "invalid builder bid: " + e.Reason
}

func invalidBid(format string, args ...any) error {
	return &InvalidBidError{Reason: fmt.Sprintf(format, args...)}
}

// BidExpectations is what a bid must match to be eligible. Zero values of optional fields
// are not checked.
type BidExpectations struct {
	ParentHash ethcommon.Hash
	Slot       uint64
	Domain     phase0.Domain

	// BuilderPubkey pins the builder identity
	BuilderPubkey *phase0.BLSPubKey

	// Timestamp is the slot's timestamp
	Timestamp    uint64
	PrevRandao   ethcommon.Hash
	FeeRecipient ethcommon.Address

	// ParentGasLimit enables the gas limit bound check, GasLimitTarget additionally requires
	// the bid to move towards the proposer's registered gas limit
	ParentGasLimit uint64
	GasLimitTarget uint64
}

// ValidateBid checks a bid against the expectations for the slot. It returns nil or an *InvalidBidError.
func ValidateBid(bid *Bid, exp *BidExpectations) error {
	if !bid.complete() {
		return invalidBid("incomplete bid")
	}

	if bid.ParentHash() != exp.ParentHash {
		return invalidBid("parent hash %s, expected %s", bid.ParentHash(), exp.ParentHash)
	}

	if exp.Timestamp != 0 && bid.Timestamp() != exp.Timestamp {
		return invalidBid("timestamp %d does not match slot %d (expected %d)", bid.Timestamp(), exp.Slot, exp.Timestamp)
	}

	if exp.PrevRandao != (ethcommon.Hash{}) && bid.PrevRandao() != exp.PrevRandao {
		return invalidBid("prev randao %s, expected %s", bid.PrevRandao(), exp.PrevRandao)
	}

	if exp.FeeRecipient != (ethcommon.Address{}) && bid.FeeRecipient() != exp.FeeRecipient {
		return invalidBid("fee recipient %s, expected %s", bid.FeeRecipient(), exp.FeeRecipient)
	}

	if exp.BuilderPubkey != nil && bid.Pubkey() != *exp.BuilderPubkey {
		return invalidBid("unexpected builder pubkey %s", bid.Pubkey())
	}

	if bid.GasUsed() > bid.GasLimit() {
		return invalidBid("gas used %d exceeds gas limit %d", bid.GasUsed(), bid.GasLimit())
	}

	if exp.ParentGasLimit != 0 {
		if exp.GasLimitTarget != 0 {
			expected := core.CalcGasLimit(exp.ParentGasLimit, exp.GasLimitTarget)
			if bid.GasLimit() != expected {
				return invalidBid("gas limit %d, expected %d", bid.GasLimit(), expected)
			}
		} else if err := misc.VerifyGaslimit(exp.ParentGasLimit, bid.GasLimit()); err != nil {
			return invalidBid("gas limit: %s", err)
		}
	}

	if len(bid.ExtraData()) > common.MaxExtraDataBytes {
		return invalidBid("extra data is %d bytes", len(bid.ExtraData()))
	}

	if bid.NumBlobs() > common.MaxBlobsPerBlock {
		return invalidBid("%d blob commitments", bid.NumBlobs())
	}

	pubkey := bid.Pubkey()
	signature := bid.Signature()
	ok, err := ssz.VerifySignature(bid.message(), exp.Domain, pubkey[:], signature[:])
	if err != nil {
		return invalidBid("signature: %s", err)
	}
	if !ok {
		return invalidBid("signature does not verify")
	}

	return nil
}
