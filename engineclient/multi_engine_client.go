package engineclient

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/flashbots/execution-bridge/common"
	"github.com/sirupsen/logrus"
	uberatomic "go.uber.org/atomic"
)

// IMultiEngineClient is the interface for the MultiEngineClient, which manages several execution engines under the hood
type IMultiEngineClient interface {
	// BroadcastForkchoice delivers the notification to every engine and aggregates the answers
	BroadcastForkchoice(ctx context.Context, n *ForkchoiceNotification) (*ForkchoiceResult, error)
	// RequestNewPayload asks engines one at a time, best status first, until one answers
	RequestNewPayload(ctx context.Context, req *NewPayloadRequest) (PayloadVerdict, error)
	// RequestPayload retrieves a payload from the engine that issued the binding
	RequestPayload(ctx context.Context, binding *PayloadBinding) (*common.ExecutionPayload, error)
	Engines() []EngineInfo
}

type MultiEngineClient struct {
	log      *logrus.Entry
	engines  []*EngineHandle
	timeouts Timeouts

	forkchoiceSeq    uberatomic.Uint64
	lastAnswerEngine uberatomic.String
}

func NewMultiEngineClient(log *logrus.Entry, engines []*EngineHandle, timeouts Timeouts) (*MultiEngineClient, error) {
	if len(engines) == 0 {
		return nil, ErrNoEngines
	}
	return &MultiEngineClient{
		log:      log.WithField("component", "engineClient"),
		engines:  engines,
		timeouts: timeouts,
	}, nil
}

// Handles returns the engine handles in configuration order
func (c *MultiEngineClient) Handles() []*EngineHandle {
	return c.engines
}

func (c *MultiEngineClient) Engines() []EngineInfo {
	infos := make([]EngineInfo, len(c.engines))
	for i, e := range c.engines {
		infos[i] = e.Info()
	}
	return infos
}

// OnStatusChange registers a listener on every engine
func (c *MultiEngineClient) OnStatusChange(listener StatusListener) {
	for _, e := range c.engines {
		e.SetStatusListener(listener)
	}
}

func (c *MultiEngineClient) Close() {
	for _, e := range c.engines {
		e.Close()
	}
}

type forkchoiceAnswer struct {
	result *ForkchoiceResult
	err    error
}

// BroadcastForkchoice sends the notification to every engine exactly once, regardless of its status, and
// waits for all of them. The first engine in configuration order with a definitive verdict decides the
// verdict, the payload binding comes from the first engine that answered VALID with a payload id.
func (c *MultiEngineClient) BroadcastForkchoice(ctx context.Context, n *ForkchoiceNotification) (*ForkchoiceResult, error) {
	seq := c.forkchoiceSeq.Inc()
	log := c.log.WithFields(logrus.Fields{
		"seq":           seq,
		"headBlockHash": n.State.HeadBlockHash.Hex(),
		"hasAttributes": n.Attributes != nil,
	})

	answers := make([]forkchoiceAnswer, len(c.engines))
	var wg sync.WaitGroup
	for i, e := range c.engines {
		wg.Add(1)
		go func(i int, e *EngineHandle) {
			defer wg.Done()
			result, err := e.NotifyForkchoiceUpdated(ctx, seq, n, c.timeouts.ForkchoiceUpdated)
			answers[i] = forkchoiceAnswer{result: result, err: err}
		}(i, e)
	}

	// Wait for all requests to complete...
	wg.Wait()

	var aggregated *ForkchoiceResult
	var definitiveFrom string
	numSuperseded := 0
	numAnswers := 0
	for i, answer := range answers {
		engineLog := log.WithField("engine", c.engines[i].Name())
		if answer.err != nil {
			if errors.Is(answer.err, ErrForkchoiceSuperseded) {
				numSuperseded++
			}
			engineLog.WithError(answer.err).Error("failed to deliver forkchoice")
			continue
		}
		numAnswers++

		verdict := answer.result.Verdict
		if !verdict.IsDefinitive() {
			continue
		}

		if aggregated == nil {
			aggregated = &ForkchoiceResult{Verdict: verdict}
			definitiveFrom = c.engines[i].Name()
		} else if aggregated.Verdict.Status != verdict.Status {
			engineLog.WithFields(logrus.Fields{
				"verdict":         verdict.Status,
				"decidedBy":       definitiveFrom,
				"decidingVerdict": aggregated.Verdict.Status,
			}).Warn("engines disagree on forkchoice validity")
		}

		if n.Attributes != nil && aggregated.Verdict.Status == PayloadStatusValid && verdict.Status == PayloadStatusValid &&
			aggregated.Binding == nil && answer.result.Binding != nil {
			aggregated.Binding = answer.result.Binding
		}
	}

	if numAnswers == 0 {
		if numSuperseded > 0 {
			return nil, ErrForkchoiceSuperseded
		}
		return nil, ErrAllEnginesUnavailable
	}

	if aggregated == nil {
		// only syncing answers
		return &ForkchoiceResult{Verdict: PayloadVerdict{Status: PayloadStatusSyncing}}, nil
	}

	if aggregated.Verdict.Status == PayloadStatusValid && n.Attributes != nil && aggregated.Binding == nil {
		log.Warn("no engine returned a payload id for the requested attributes")
	}
	return aggregated, nil
}

// RequestNewPayload asks engines sequentially, Synced before Syncing before Offline, in configuration order
// within each group. AuthFailed engines are skipped. The first engine that answers decides.
func (c *MultiEngineClient) RequestNewPayload(ctx context.Context, req *NewPayloadRequest) (PayloadVerdict, error) {
	log := c.log
	if req.Payload != nil {
		log = log.WithFields(logrus.Fields{
			"blockHash":   req.Payload.BlockHash.Hex(),
			"blockNumber": req.Payload.Number,
		})
	}

	for _, e := range c.enginesByStatus() {
		engineLog := log.WithField("engine", e.Name())
		verdict, err := e.NotifyNewPayload(ctx, req, c.timeouts.NewPayload)
		if err != nil {
			engineLog.WithError(err).Error("failed to submit new payload")
			if ctx.Err() != nil {
				return PayloadVerdict{}, ctx.Err()
			}
			continue
		}

		c.lastAnswerEngine.Store(e.Name())
		engineLog.WithField("verdict", verdict.Status).Debug("new payload answered")
		return verdict, nil
	}

	return PayloadVerdict{}, ErrAllEnginesUnavailable
}

// RequestPayload calls getPayload on exactly the engine recorded in the binding
func (c *MultiEngineClient) RequestPayload(ctx context.Context, binding *PayloadBinding) (*common.ExecutionPayload, error) {
	if binding == nil {
		return nil, ErrNilBinding
	}
	if !c.owns(binding.handle) {
		return nil, ErrForeignPayloadBinding
	}
	return binding.handle.GetPayload(ctx, binding, c.timeouts.GetPayload)
}

// UpcheckAll probes every engine concurrently and returns how many are reachable
func (c *MultiEngineClient) UpcheckAll(ctx context.Context) int {
	var wg sync.WaitGroup
	var numOnline uberatomic.Int64
	for _, e := range c.engines {
		wg.Add(1)
		go func(e *EngineHandle) {
			defer wg.Done()
			if err := e.Upcheck(ctx, c.timeouts.Upcheck); err != nil {
				c.log.WithField("engine", e.Name()).WithError(err).Warn("upcheck failed")
				return
			}
			numOnline.Inc()
		}(e)
	}
	wg.Wait()
	return int(numOnline.Load())
}

// LastAnswerEngine is the name of the engine that answered the most recent newPayload
func (c *MultiEngineClient) LastAnswerEngine() string {
	return c.lastAnswerEngine.Load()
}

func (c *MultiEngineClient) owns(h *EngineHandle) bool {
	for _, e := range c.engines {
		if e == h {
			return true
		}
	}
	return false
}

// enginesByStatus returns the usable engines ranked by status, stable within a status
func (c *MultiEngineClient) enginesByStatus() []*EngineHandle {
	type ranked struct {
		engine *EngineHandle
		rank   int
	}

	candidates := make([]ranked, 0, len(c.engines))
	for _, e := range c.engines {
		status := e.Status()
		if !status.IsUsable() {
			continue
		}
		candidates = append(candidates, ranked{engine: e, rank: status.rank()})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rank < candidates[j].rank
	})

	engines := make([]*EngineHandle, len(candidates))
	for i, candidate := range candidates {
		engines[i] = candidate.engine
	}
	return engines
}
