// Package execution is the execution layer facade consumed by the consensus client. It drives
// payload validation, fork choice and block production across the engine pool and the builder.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/builderclient"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/database"
	"github.com/flashbots/execution-bridge/datastore"
	"github.com/flashbots/execution-bridge/engineclient"
	"github.com/flashbots/execution-bridge/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	ErrMissingLogOpt     = errors.New("log parameter is nil")
	ErrMissingEnginesOpt = errors.New("engine client is nil")
	ErrMissingCacheOpt   = errors.New("payload cache is nil")
	ErrMissingArbiterOpt = errors.New("arbiter is nil")
	ErrMissingClockOpt   = errors.New("clock is nil")
)

// ExecutionLayerOpts contains the options for the execution layer
type ExecutionLayerOpts struct {
	Log *logrus.Entry

	Engines engineclient.IMultiEngineClient
	Cache   *datastore.PayloadCache
	Arbiter *Arbiter
	Clock   common.Clock

	// Bridge is optional, without it every slot is built locally
	Bridge *builderclient.Bridge

	// Proposers holds proposer preparations, an in-memory store is used if nil
	Proposers datastore.ProposerDatastore

	// DB receives the decision log, optional
	DB database.IDatabaseService

	DefaultFeeRecipient ethcommon.Address
}

// ExecutionLayer is the single entry point of the consensus client into execution
type ExecutionLayer struct {
	opts ExecutionLayerOpts
	log  *logrus.Entry

	engines   engineclient.IMultiEngineClient
	cache     *datastore.PayloadCache
	arbiter   *Arbiter
	clock     common.Clock
	bridge    *builderclient.Bridge
	proposers datastore.ProposerDatastore
	db        database.IDatabaseService

	listenersLock sync.RWMutex
	listeners     []DecisionListener
}

func NewExecutionLayer(opts ExecutionLayerOpts) (*ExecutionLayer, error) {
	if opts.Log == nil {
		return nil, ErrMissingLogOpt
	}
	if opts.Engines == nil {
		return nil, ErrMissingEnginesOpt
	}
	if opts.Cache == nil {
		return nil, ErrMissingCacheOpt
	}
	if opts.Arbiter == nil {
		return nil, ErrMissingArbiterOpt
	}
	if opts.Clock == nil {
		return nil, ErrMissingClockOpt
	}

	proposers := opts.Proposers
	if proposers == nil {
		proposers = datastore.NewProposerMemoryDatastore()
	}
	bridge := opts.Bridge
	if bridge == nil {
		bridge = builderclient.NewBridge(builderclient.BridgeOpts{Log: opts.Log, Proposers: proposers})
	}

	return &ExecutionLayer{
		opts:      opts,
		log:       opts.Log.WithField("component", "executionLayer"),
		engines:   opts.Engines,
		cache:     opts.Cache,
		arbiter:   opts.Arbiter,
		clock:     opts.Clock,
		bridge:    bridge,
		proposers: proposers,
		db:        opts.DB,
	}, nil
}

// ValidatePayload asks the engines about a payload. An INVALID verdict is an outcome, not an error:
// the request ends in Failed(InvalidPayload) and the returned error is nil.
func (el *ExecutionLayer) ValidatePayload(ctx context.Context, req *engineclient.NewPayloadRequest) (*Request, error) {
	r := NewRequest()
	if reqErr := el.validatePayload(ctx, r, req); reqErr != nil {
		return r, reqErr
	}
	return r, nil
}

func (el *ExecutionLayer) validatePayload(ctx context.Context, r *Request, req *engineclient.NewPayloadRequest) *RequestError {
	if req == nil || req.Payload == nil {
		return r.fail(ReasonInvalidPayload, common.ErrNilPayload)
	}
	log := el.log.WithFields(logrus.Fields{
		"blockHash":   req.Payload.BlockHash.Hex(),
		"blockNumber": req.Payload.Number,
	})

	if err := r.transition(StateAwaitingValidation); err != nil {
		return r.fail(ReasonInvalidPayload, err)
	}

	verdict, err := el.engines.RequestNewPayload(ctx, req)
	if err != nil {
		log.WithError(err).Error("no engine could validate the payload")
		return r.fail(failureReason(ctx, err), err)
	}

	outcome := outcomeFromVerdict(verdict)
	r.setOutcome(outcome)
	if outcome.Status == StatusInvalid {
		log.WithField("validationError", outcome.ValidationError).Warn("payload is invalid")
		r.fail(ReasonInvalidPayload, errors.New(outcome.ValidationError))
		return nil
	}

	if err := r.transition(StateComplete); err != nil {
		return r.fail(ReasonEngineUnavailable, err)
	}
	log.WithField("status", outcome.Status).Debug("payload validated")
	return nil
}

// UpdateForkChoice broadcasts a new head to every engine. If the notification carries payload
// attributes and an engine started building, the request holds the payload binding and waits in
// AwaitingPayloadConstruction for ProduceBlock. Attributes without a fee recipient get the
// default fee recipient.
func (el *ExecutionLayer) UpdateForkChoice(ctx context.Context, n *engineclient.ForkchoiceNotification) (*Request, error) {
	return el.runForkChoice(ctx, n, nil)
}

// UpdateForkChoiceForProposer is UpdateForkChoice for a known proposer. Attributes without a fee
// recipient get the one the proposer prepared.
func (el *ExecutionLayer) UpdateForkChoiceForProposer(ctx context.Context, n *engineclient.ForkchoiceNotification, proposerIndex uint64) (*Request, error) {
	return el.runForkChoice(ctx, n, &proposerIndex)
}

func (el *ExecutionLayer) runForkChoice(ctx context.Context, n *engineclient.ForkchoiceNotification, proposerIndex *uint64) (*Request, error) {
	r := NewRequest()
	if reqErr := el.updateForkChoice(ctx, r, n, proposerIndex); reqErr != nil {
		return r, reqErr
	}
	return r, nil
}

func (el *ExecutionLayer) updateForkChoice(ctx context.Context, r *Request, n *engineclient.ForkchoiceNotification, proposerIndex *uint64) *RequestError {
	if n == nil {
		return r.fail(ReasonInvalidPayload, ErrNoForkchoice)
	}
	n = el.withFeeRecipient(n, proposerIndex)
	log := el.log.WithFields(logrus.Fields{
		"headBlockHash": n.State.HeadBlockHash.Hex(),
		"hasAttributes": n.Attributes != nil,
	})

	if err := r.transition(StateAwaitingForkChoiceAck); err != nil {
		return r.fail(ReasonInvalidPayload, err)
	}

	result, err := el.engines.BroadcastForkchoice(ctx, n)
	if err != nil {
		log.WithError(err).Error("forkchoice update failed")
		return r.fail(failureReason(ctx, err), err)
	}

	outcome := outcomeFromVerdict(result.Verdict)
	r.setOutcome(outcome)
	binding := result.Binding
	if n.Attributes == nil {
		// a payload id only means something if attributes were sent
		binding = nil
	}
	r.setForkchoice(n, binding)

	switch {
	case outcome.Status == StatusInvalid:
		log.WithField("validationError", outcome.ValidationError).Warn("forkchoice head is invalid")
		r.fail(ReasonInvalidPayload, errors.New(outcome.ValidationError))
		return nil
	case outcome.Status == StatusValid && binding != nil:
		log.WithFields(logrus.Fields{
			"payloadID": binding.PayloadID().String(),
			"engine":    binding.EngineName(),
		}).Info("payload construction started")
		if err := r.transition(StateAwaitingPayloadConstruction); err != nil {
			return r.fail(ReasonEngineUnavailable, err)
		}
	default:
		if err := r.transition(StateComplete); err != nil {
			return r.fail(ReasonEngineUnavailable, err)
		}
	}
	return nil
}

// ProduceBlock retrieves the local payload and a builder bid concurrently, lets the arbiter choose
// and returns the chosen payload. The local payload is cached whenever one was retrieved.
func (el *ExecutionLayer) ProduceBlock(ctx context.Context, p *ProductionRequest) (*ProducedPayload, error) {
	start := time.Now()
	produced, reqErr := el.produceBlock(ctx, p, start)
	if reqErr != nil {
		metrics.RecordProduceBlock(ctx, time.Since(start), string(reqErr.Reason))
		return nil, reqErr
	}
	metrics.RecordProduceBlock(ctx, time.Since(start), string(produced.Decision.Source))
	return produced, nil
}

func (el *ExecutionLayer) produceBlock(ctx context.Context, p *ProductionRequest, start time.Time) (*ProducedPayload, *RequestError) {
	if p == nil || (p.Request == nil && p.Notification == nil) {
		return nil, newRequestError(ReasonNoPayloadAvailable, ErrNoForkchoice)
	}
	log := el.log.WithField("slot", p.Slot)

	// the slot deadline bounds every engine and builder call of the production, fork choice included
	deadline := el.clock.SlotDeadline(p.Slot)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	r := p.Request
	if r == nil {
		r = NewRequest()
		if !time.Now().Before(deadline) {
			return nil, r.fail(ReasonDeadlineExceeded, deadlineError(p.Slot, deadline))
		}
		if reqErr := el.updateForkChoice(ctx, r, p.Notification, p.ProposerIndex); reqErr != nil {
			return nil, reqErr
		}
	}

	// the transition is atomic, a request is only ever produced once
	if err := r.transition(StateAwaitingPayloadRetrieval); err != nil {
		log.WithError(err).Warn("no payload is being built for this request")
		if !r.State().IsTerminal() {
			return nil, r.fail(ReasonNoPayloadAvailable, err)
		}
		return nil, newRequestError(ReasonNoPayloadAvailable, err)
	}

	if !time.Now().Before(deadline) {
		return nil, r.fail(ReasonDeadlineExceeded, deadlineError(p.Slot, deadline))
	}

	binding := r.Binding()
	n := r.Notification()

	var local *common.ExecutionPayload
	var bid *builderclient.Bid
	var g errgroup.Group
	g.Go(func() (err error) {
		local, err = el.engines.RequestPayload(ctx, binding)
		return err
	})
	g.Go(func() error {
		bid = el.bridge.RequestBid(ctx, el.bidRequest(p, n))
		return nil
	})
	localErr := g.Wait()
	if localErr != nil {
		log.WithError(localErr).Warn("could not retrieve local payload")
	}

	if !time.Now().Before(deadline) {
		return nil, r.fail(ReasonDeadlineExceeded, deadlineError(p.Slot, deadline))
	}

	var contentHash ethcommon.Hash
	if local != nil {
		hash, err := el.cache.Insert(local)
		if err != nil {
			log.WithError(err).Error("could not cache local payload")
		} else {
			contentHash = hash
		}
	}

	decision, err := el.arbiter.Decide(local, bid)
	if err != nil {
		reason := ReasonNoPayloadAvailable
		detail := err
		if localErr != nil {
			detail = localErr
			if isEngineFailure(localErr) {
				reason = ReasonEngineUnavailable
			}
		}
		return nil, r.fail(reason, detail)
	}

	if err := r.transition(StateComplete); err != nil {
		return nil, r.fail(ReasonNoPayloadAvailable, err)
	}

	produced := &ProducedPayload{
		Slot:             p.Slot,
		Decision:         decision,
		Local:            local,
		LocalContentHash: contentHash,
		Bid:              bid,
	}
	if binding != nil {
		produced.Engine = binding.EngineName()
	}

	log.WithFields(logrus.Fields{
		"source":     decision.Source,
		"reason":     decision.Reason,
		"blockHash":  produced.BlockHash().Hex(),
		"value":      produced.Value().Dec(),
		"durationMs": time.Since(start).Milliseconds(),
	}).Info("block produced")
	metrics.RecordArbiterDecision(ctx, string(decision.Source), decision.Reason)

	el.recordDecision(produced, n, time.Since(start))
	return produced, nil
}

func (el *ExecutionLayer) bidRequest(p *ProductionRequest, n *engineclient.ForkchoiceNotification) builderclient.BidRequest {
	req := builderclient.BidRequest{
		Slot:           p.Slot,
		Pubkey:         p.ProposerPubkey,
		ParentGasLimit: p.ParentGasLimit,
	}
	if n != nil {
		req.ParentHash = n.State.HeadBlockHash
		if n.Attributes != nil {
			req.Timestamp = n.Attributes.Timestamp
			req.PrevRandao = n.Attributes.Random
			req.FeeRecipient = n.Attributes.SuggestedFeeRecipient
		}
	}
	return req
}

// withFeeRecipient returns a copy of the notification with a fee recipient filled in, if the
// attributes do not name one. Without a proposer index the default fee recipient is used.
func (el *ExecutionLayer) withFeeRecipient(n *engineclient.ForkchoiceNotification, proposerIndex *uint64) *engineclient.ForkchoiceNotification {
	if n.Attributes == nil || n.Attributes.SuggestedFeeRecipient != (ethcommon.Address{}) {
		return n
	}
	feeRecipient := el.opts.DefaultFeeRecipient
	if proposerIndex != nil {
		feeRecipient = el.SuggestedFeeRecipient(*proposerIndex)
	}
	if feeRecipient == (ethcommon.Address{}) {
		return n
	}
	attrs := *n.Attributes
	attrs.SuggestedFeeRecipient = feeRecipient
	filled := *n
	filled.Attributes = &attrs
	return &filled
}

func (el *ExecutionLayer) recordDecision(produced *ProducedPayload, n *engineclient.ForkchoiceNotification, duration time.Duration) {
	entry := &database.ProposalDecisionEntry{
		Slot:        produced.Slot,
		Source:      string(produced.Decision.Source),
		Reason:      produced.Decision.Reason,
		BlockHash:   produced.BlockHash().Hex(),
		ContentHash: produced.LocalContentHash.Hex(),
		Engine:      produced.Engine,
		DurationMs:  uint64(duration.Milliseconds()),
	}
	if n != nil {
		entry.ParentHash = n.State.HeadBlockHash.Hex()
	}
	if produced.Decision.LocalValue != nil {
		entry.LocalValue = produced.Decision.LocalValue.Dec()
	}
	if produced.Bid != nil {
		entry.BuilderValue = produced.Bid.Value().Dec()
		entry.BuilderPubkey = produced.Bid.Pubkey().String()
	}

	el.listenersLock.RLock()
	for _, listener := range el.listeners {
		listener(entry)
	}
	el.listenersLock.RUnlock()

	if el.db == nil {
		return
	}
	go func() {
		err := el.db.SaveProposalDecision(entry)
		if err != nil {
			el.log.WithError(err).WithField("slot", entry.Slot).Error("failed to save proposal decision")
		}
	}()
}

// failureReason maps an engine pool error to the reason reported to the caller. Once the request
// deadline has passed every engine failure is reported as DeadlineExceeded.
func failureReason(ctx context.Context, err error) FailureReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ReasonDeadlineExceeded
	}
	return ReasonEngineUnavailable
}

func deadlineError(slot uint64, deadline time.Time) error {
	return fmt.Errorf("slot %d deadline %s has passed", slot, deadline.UTC().Format(time.RFC3339Nano))
}

func isEngineFailure(err error) bool {
	var engineErr *engineclient.EngineError
	return errors.As(err, &engineErr) ||
		errors.Is(err, engineclient.ErrAllEnginesUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// OnDecision registers a listener for completed block productions
func (el *ExecutionLayer) OnDecision(listener DecisionListener) {
	el.listenersLock.Lock()
	defer el.listenersLock.Unlock()
	el.listeners = append(el.listeners, listener)
}

// PrepareBeaconProposer stores the fee recipients of upcoming proposers
func (el *ExecutionLayer) PrepareBeaconProposer(preparations []ProposerPreparation) error {
	for _, p := range preparations {
		if err := el.proposers.SetFeeRecipient(p.ValidatorIndex, p.FeeRecipient); err != nil {
			return fmt.Errorf("could not store fee recipient for validator %d: %w", p.ValidatorIndex, err)
		}
	}
	el.log.WithField("numPreparations", len(preparations)).Debug("stored proposer preparations")
	return nil
}

// SuggestedFeeRecipient returns the prepared fee recipient of a validator, or the default one
func (el *ExecutionLayer) SuggestedFeeRecipient(validatorIndex uint64) ethcommon.Address {
	feeRecipient, found, err := el.proposers.GetFeeRecipient(validatorIndex)
	if err != nil {
		el.log.WithError(err).WithField("validatorIndex", validatorIndex).Warn("could not load fee recipient")
		return el.opts.DefaultFeeRecipient
	}
	if !found {
		return el.opts.DefaultFeeRecipient
	}
	return feeRecipient
}

func (el *ExecutionLayer) RegisterValidators(ctx context.Context, registrations []*builderApiV1.SignedValidatorRegistration) error {
	return el.bridge.RegisterValidators(ctx, registrations)
}

// SubmitBlindedBlock unblinds a builder block. The revealed payload must match expectedBlockHash.
func (el *ExecutionLayer) SubmitBlindedBlock(ctx context.Context, version string, signedBlindedBlock []byte, expectedBlockHash ethcommon.Hash) (*builderclient.UnblindedPayload, error) {
	return el.bridge.SubmitBlindedBlock(ctx, version, signedBlindedBlock, expectedBlockHash)
}

func (el *ExecutionLayer) BuilderStatus(ctx context.Context) error {
	return el.bridge.Status(ctx)
}

// CachedPayload looks up a locally built payload by content hash
func (el *ExecutionLayer) CachedPayload(contentHash ethcommon.Hash) (*common.ExecutionPayload, bool) {
	return el.cache.Get(contentHash)
}

func (el *ExecutionLayer) SetForceLocal(forceLocal bool) {
	el.log.WithField("forceLocal", forceLocal).Warn("force local override changed")
	el.arbiter.SetForceLocal(forceLocal)
}

func (el *ExecutionLayer) ForceLocal() bool {
	return el.arbiter.ForceLocal()
}

func (el *ExecutionLayer) Engines() []engineclient.EngineInfo {
	return el.engines.Engines()
}

// RecentDecisions returns the latest decisions, newest first
func (el *ExecutionLayer) RecentDecisions(limit uint64) ([]*database.ProposalDecisionEntry, error) {
	if el.db == nil {
		return []*database.ProposalDecisionEntry{}, nil
	}
	return el.db.GetRecentDecisions(limit)
}

func (el *ExecutionLayer) Status() LayerStatus {
	return LayerStatus{
		Engines:        el.engines.Engines(),
		CacheSize:      el.cache.Len(),
		CacheCapacity:  el.cache.Capacity(),
		BuilderEnabled: el.bridge.Enabled(),
		ForceLocal:     el.arbiter.ForceLocal(),
		TiePolicy:      el.arbiter.TiePolicy(),
	}
}
