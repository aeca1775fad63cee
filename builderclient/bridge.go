package builderclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/datastore"
	"github.com/flashbots/execution-bridge/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultGetHeaderTimeout bounds a getHeader call when the bridge is not configured otherwise
var DefaultGetHeaderTimeout = 500 * time.Millisecond

type BridgeOpts struct {
	Log *logrus.Entry

	// Client is nil when no builder is configured
	Client IBuilderClient

	// Domain is the application-builder signing domain
	Domain        phase0.Domain
	BuilderPubkey *phase0.BLSPubKey

	// Proposers supplies registered gas limits, optional
	Proposers datastore.ProposerDatastore

	GetHeaderTimeout time.Duration

	// CheckFeeRecipient rejects bids that do not pay the proposer's fee recipient in the header
	CheckFeeRecipient bool
}

// BidRequest describes the slot a bid is requested for
type BidRequest struct {
	Slot         uint64
	ParentHash   ethcommon.Hash
	Pubkey       phase0.BLSPubKey
	FeeRecipient ethcommon.Address
	Timestamp    uint64
	PrevRandao   ethcommon.Hash

	// ParentGasLimit is zero if the parent block is unknown
	ParentGasLimit uint64
}

// Bridge fetches and validates builder bids. A missing, late, failed or invalid bid is never an
// error for the caller: the bridge reports it as no bid.
type Bridge struct {
	log  *logrus.Entry
	opts BridgeOpts
}

func NewBridge(opts BridgeOpts) *Bridge {
	if opts.GetHeaderTimeout <= 0 {
		opts.GetHeaderTimeout = DefaultGetHeaderTimeout
	}
	return &Bridge{
		log:  opts.Log.WithField("component", "builderBridge"),
		opts: opts,
	}
}

func (b *Bridge) Enabled() bool {
	return b.opts.Client != nil
}

// RequestBid asks the builder for a bid and returns it only if it is valid for the request
func (b *Bridge) RequestBid(ctx context.Context, req BidRequest) *Bid {
	if !b.Enabled() {
		metrics.RecordBuilderBid(ctx, "disabled")
		return nil
	}

	log := b.log.WithFields(logrus.Fields{
		"slot":       req.Slot,
		"parentHash": req.ParentHash.Hex(),
	})

	ctx, cancel := context.WithTimeout(ctx, b.opts.GetHeaderTimeout)
	defer cancel()

	start := time.Now()
	bid, err := b.opts.Client.GetHeader(ctx, req.Slot, req.ParentHash, req.Pubkey)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.WithField("timeout", b.opts.GetHeaderTimeout).Warn("builder did not answer in time")
			metrics.RecordBuilderBid(ctx, "timeout")
		} else {
			log.WithError(err).Warn("error getting builder header")
			metrics.RecordBuilderBid(ctx, "error")
		}
		return nil
	}
	if bid == nil {
		log.Info("builder has no bid")
		metrics.RecordBuilderBid(ctx, "no_bid")
		return nil
	}

	exp := b.expectations(req)
	if err := ValidateBid(bid, exp); err != nil {
		log.WithError(err).Warn("dropping builder bid")
		metrics.RecordBuilderBid(ctx, "invalid")
		return nil
	}

	log.WithFields(logrus.Fields{
		"blockHash":  bid.BlockHash().Hex(),
		"value":      bid.Value().Dec(),
		"durationMs": time.Since(start).Milliseconds(),
	}).Info("received builder bid")
	metrics.RecordBuilderBid(ctx, "valid")
	return bid
}

func (b *Bridge) expectations(req BidRequest) *BidExpectations {
	exp := &BidExpectations{
		ParentHash:     req.ParentHash,
		Slot:           req.Slot,
		Domain:         b.opts.Domain,
		BuilderPubkey:  b.opts.BuilderPubkey,
		Timestamp:      req.Timestamp,
		PrevRandao:     req.PrevRandao,
		ParentGasLimit: req.ParentGasLimit,
	}
	if b.opts.CheckFeeRecipient {
		exp.FeeRecipient = req.FeeRecipient
	}

	if b.opts.Proposers != nil {
		registration, err := b.opts.Proposers.GetValidatorRegistration(req.Pubkey)
		if err != nil {
			b.log.WithError(err).Warn("could not load validator registration")
		} else if registration != nil && registration.Message != nil {
			exp.GasLimitTarget = registration.Message.GasLimit
		}
	}
	return exp
}

// Status checks that the builder is reachable
func (b *Bridge) Status(ctx context.Context) error {
	if !b.Enabled() {
		return ErrNoBuilder
	}
	return b.opts.Client.Status(ctx)
}

// RegisterValidators stores the registrations and forwards them to the builder, if there is one
func (b *Bridge) RegisterValidators(ctx context.Context, registrations []*builderApiV1.SignedValidatorRegistration) error {
	if b.opts.Proposers != nil {
		if err := b.opts.Proposers.SaveValidatorRegistrations(registrations); err != nil {
			return fmt.Errorf("could not store validator registrations: %w", err)
		}
	}
	if !b.Enabled() {
		return nil
	}
	return b.opts.Client.RegisterValidators(ctx, registrations)
}

// SubmitBlindedBlock reveals the signed blinded block to the builder and returns the full payload.
// The payload must carry the block hash of the header that was signed.
func (b *Bridge) SubmitBlindedBlock(ctx context.Context, version string, signedBlindedBlock []byte, expectedBlockHash ethcommon.Hash) (*UnblindedPayload, error) {
	if !b.Enabled() {
		return nil, ErrNoBuilder
	}

	payload, err := b.opts.Client.SubmitBlindedBlock(ctx, version, signedBlindedBlock)
	if err != nil {
		return nil, err
	}

	blockHash, err := payload.BlockHash()
	if err != nil {
		return nil, err
	}
	if blockHash != expectedBlockHash {
		b.log.WithFields(logrus.Fields{
			"blockHash":         blockHash.Hex(),
			"expectedBlockHash": expectedBlockHash.Hex(),
		}).Error("builder revealed a different payload")
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrBlockHashMismatch, blockHash, expectedBlockHash)
	}
	return payload, nil
}
