// Package server contains the operator API of the execution bridge
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/builderclient"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/database"
	"github.com/flashbots/execution-bridge/engineclient"
	"github.com/flashbots/execution-bridge/execution"
	"github.com/flashbots/go-utils/httplogger"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
	uberatomic "go.uber.org/atomic"
)

var (
	ErrMissingLogOpt        = errors.New("log parameter is nil")
	ErrMissingLayerOpt      = errors.New("execution layer is nil")
	ErrServerAlreadyStarted = errors.New("server was already started")
)

var (
	pathStatus                = "/eth/v1/bridge/status"
	pathEngines               = "/eth/v1/bridge/engines"
	pathForceLocal            = "/eth/v1/bridge/force_local"
	pathDecisions             = "/eth/v1/bridge/decisions"
	pathCachedPayload         = "/eth/v1/bridge/payloads/{hash:0x[a-fA-F0-9]{64}}"
	pathPrepareBeaconProposer = "/eth/v1/bridge/prepare_beacon_proposer"
	pathRegisterValidators    = "/eth/v1/bridge/validators"
	pathEvents                = "/eth/v1/bridge/events"
	pathMetrics               = "/metrics"

	streamEngines   = "engines"
	streamDecisions = "decisions"

	defaultDecisionsLimit = uint64(50)
	maxDecisionsLimit     = uint64(500)
)

var nilResponse = struct{}{}

type httpErrorResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ExecutionLayer is the part of execution.ExecutionLayer the operator API needs
type ExecutionLayer interface {
	Status() execution.LayerStatus
	Engines() []engineclient.EngineInfo
	SetForceLocal(forceLocal bool)
	ForceLocal() bool
	RecentDecisions(limit uint64) ([]*database.ProposalDecisionEntry, error)
	CachedPayload(contentHash ethcommon.Hash) (*common.ExecutionPayload, bool)
	BuilderStatus(ctx context.Context) error
	PrepareBeaconProposer(preparations []execution.ProposerPreparation) error
	RegisterValidators(ctx context.Context, registrations []*builderApiV1.SignedValidatorRegistration) error
	OnDecision(listener execution.DecisionListener)
}

// OperatorAPIOpts contains the options for the operator API
type OperatorAPIOpts struct {
	Log        *logrus.Entry
	ListenAddr string
	Layer      ExecutionLayer
	Timeouts   common.HTTPServerTimeouts
}

// OperatorAPI serves bridge status, the force local override, decisions and an event stream
type OperatorAPI struct {
	opts OperatorAPIOpts
	log  *logrus.Entry

	layer  ExecutionLayer
	events *sse.Server

	srv        *http.Server
	srvStarted uberatomic.Bool
}

// EngineStatusEvent is published on the engines stream
type EngineStatusEvent struct {
	Engine    string                    `json:"engine"`
	From      engineclient.EngineStatus `json:"from"`
	To        engineclient.EngineStatus `json:"to"`
	Timestamp int64                     `json:"timestamp_ms"`
}

type statusResponse struct {
	execution.LayerStatus
	Builder string `json:"builder"`
}

type forceLocalRequest struct {
	Enabled bool `json:"enabled"`
}

type forceLocalResponse struct {
	Enabled bool `json:"enabled"`
}

type cachedPayloadResponse struct {
	ContentHash ethcommon.Hash           `json:"content_hash"`
	BlockHash   ethcommon.Hash           `json:"block_hash"`
	BlockNumber uint64                   `json:"block_number,string"`
	NumTx       int                      `json:"num_tx"`
	Payload     *common.ExecutionPayload `json:"payload"`
}

// NewOperatorAPI creates a new operator API. Decisions of the execution layer are published
// on the event stream, engine status changes are published via PublishEngineStatus.
func NewOperatorAPI(opts OperatorAPIOpts) (*OperatorAPI, error) {
	if opts.Log == nil {
		return nil, ErrMissingLogOpt
	}
	if opts.Layer == nil {
		return nil, ErrMissingLayerOpt
	}

	events := sse.New()
	events.AutoReplay = false
	events.CreateStream(streamEngines)
	events.CreateStream(streamDecisions)

	api := &OperatorAPI{
		opts:   opts,
		log:    opts.Log.WithField("component", "operatorAPI"),
		layer:  opts.Layer,
		events: events,
	}
	opts.Layer.OnDecision(api.publishDecision)
	return api, nil
}

func (api *OperatorAPI) getRouter() http.Handler {
	gzip := func(h http.HandlerFunc) http.Handler {
		return gziphandler.GzipHandler(h)
	}

	r := mux.NewRouter()
	r.HandleFunc("/", api.handleRoot).Methods(http.MethodGet)
	r.Handle(pathMetrics, promhttp.Handler()).Methods(http.MethodGet)

	r.Handle(pathStatus, gzip(api.handleStatus)).Methods(http.MethodGet)
	r.Handle(pathEngines, gzip(api.handleEngines)).Methods(http.MethodGet)
	r.Handle(pathForceLocal, gzip(api.handleGetForceLocal)).Methods(http.MethodGet)
	r.Handle(pathForceLocal, gzip(api.handleSetForceLocal)).Methods(http.MethodPost)
	r.Handle(pathDecisions, gzip(api.handleDecisions)).Methods(http.MethodGet)
	r.Handle(pathCachedPayload, gzip(api.handleCachedPayload)).Methods(http.MethodGet)
	r.HandleFunc(pathPrepareBeaconProposer, api.handlePrepareBeaconProposer).Methods(http.MethodPost)
	r.HandleFunc(pathRegisterValidators, api.handleRegisterValidators).Methods(http.MethodPost)
	loggedRouter := httplogger.LoggingMiddlewareLogrus(api.log, r)

	// the logging response writer cannot flush, event streams bypass it
	root := mux.NewRouter()
	root.HandleFunc(pathEvents, api.events.ServeHTTP).Methods(http.MethodGet)
	root.PathPrefix("/").Handler(loggedRouter)
	return root
}

// StartServer starts the HTTP server for this instance
func (api *OperatorAPI) StartServer() (err error) {
	if api.srvStarted.Swap(true) {
		return ErrServerAlreadyStarted
	}

	// no write timeout, event streams are long lived
	api.srv = &http.Server{
		Addr:    api.opts.ListenAddr,
		Handler: api.getRouter(),

		ReadTimeout:       api.opts.Timeouts.Read,
		ReadHeaderTimeout: api.opts.Timeouts.ReadHeader,
		IdleTimeout:       api.opts.Timeouts.Idle,
	}

	err = api.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StopServer closes the event streams and shuts the server down gracefully
func (api *OperatorAPI) StopServer(ctx context.Context) error {
	api.events.Close()
	if api.srv == nil {
		return nil
	}
	return api.srv.Shutdown(ctx)
}

// PublishEngineStatus has the signature of engineclient.StatusListener
func (api *OperatorAPI) PublishEngineStatus(engine string, from, to engineclient.EngineStatus) {
	api.publish(streamEngines, &EngineStatusEvent{
		Engine:    engine,
		From:      from,
		To:        to,
		Timestamp: time.Now().UTC().UnixMilli(),
	})
}

func (api *OperatorAPI) publishDecision(entry *database.ProposalDecisionEntry) {
	api.publish(streamDecisions, entry)
}

func (api *OperatorAPI) publish(stream string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		api.log.WithError(err).WithField("stream", stream).Error("could not encode event")
		return
	}
	api.events.Publish(stream, &sse.Event{Data: data})
}

func (api *OperatorAPI) respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	resp := httpErrorResp{code, message}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		api.log.WithField("response", resp).WithError(err).Error("Couldn't write error response")
		http.Error(w, "", http.StatusInternalServerError)
	}
}

func (api *OperatorAPI) respondOK(w http.ResponseWriter, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		api.log.WithField("response", response).WithError(err).Error("Couldn't write OK response")
		http.Error(w, "", http.StatusInternalServerError)
	}
}

func (api *OperatorAPI) handleRoot(w http.ResponseWriter, req *http.Request) {
	api.respondOK(w, nilResponse)
}

func (api *OperatorAPI) handleStatus(w http.ResponseWriter, req *http.Request) {
	resp := statusResponse{LayerStatus: api.layer.Status(), Builder: "ok"}
	if err := api.layer.BuilderStatus(req.Context()); err != nil {
		if errors.Is(err, builderclient.ErrNoBuilder) {
			resp.Builder = "disabled"
		} else {
			api.log.WithError(err).Warn("builder status check failed")
			resp.Builder = "unavailable"
		}
	}
	api.respondOK(w, resp)
}

func (api *OperatorAPI) handleEngines(w http.ResponseWriter, req *http.Request) {
	api.respondOK(w, api.layer.Engines())
}

func (api *OperatorAPI) handleGetForceLocal(w http.ResponseWriter, req *http.Request) {
	api.respondOK(w, forceLocalResponse{Enabled: api.layer.ForceLocal()})
}

func (api *OperatorAPI) handleSetForceLocal(w http.ResponseWriter, req *http.Request) {
	var payload forceLocalRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		api.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	api.layer.SetForceLocal(payload.Enabled)
	api.log.WithFields(logrus.Fields{
		"enabled": payload.Enabled,
		"ip":      common.GetIPXForwardedFor(req),
	}).Warn("force local override set by operator")
	api.respondOK(w, forceLocalResponse{Enabled: api.layer.ForceLocal()})
}

func (api *OperatorAPI) handleDecisions(w http.ResponseWriter, req *http.Request) {
	limit := defaultDecisionsLimit
	if limitStr := req.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.ParseUint(limitStr, 10, 64)
		if err != nil {
			api.respondError(w, http.StatusBadRequest, "invalid limit argument")
			return
		}
		if limit > maxDecisionsLimit {
			api.respondError(w, http.StatusBadRequest, "maximum limit is "+strconv.FormatUint(maxDecisionsLimit, 10))
			return
		}
	}

	decisions, err := api.layer.RecentDecisions(limit)
	if err != nil {
		api.log.WithError(err).Error("error getting recent decisions")
		api.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	api.respondOK(w, decisions)
}

func (api *OperatorAPI) handleCachedPayload(w http.ResponseWriter, req *http.Request) {
	hash := ethcommon.HexToHash(mux.Vars(req)["hash"])
	payload, found := api.layer.CachedPayload(hash)
	if !found {
		api.respondError(w, http.StatusNotFound, "payload not found")
		return
	}

	api.respondOK(w, cachedPayloadResponse{
		ContentHash: hash,
		BlockHash:   payload.BlockHash(),
		BlockNumber: payload.BlockNumber(),
		NumTx:       payload.NumTx(),
		Payload:     payload,
	})
}

func (api *OperatorAPI) handlePrepareBeaconProposer(w http.ResponseWriter, req *http.Request) {
	preparations := []execution.ProposerPreparation{}
	if err := json.NewDecoder(req.Body).Decode(&preparations); err != nil {
		api.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := api.layer.PrepareBeaconProposer(preparations); err != nil {
		api.log.WithError(err).Error("could not store proposer preparations")
		api.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	api.respondOK(w, nilResponse)
}

func (api *OperatorAPI) handleRegisterValidators(w http.ResponseWriter, req *http.Request) {
	registrations := []*builderApiV1.SignedValidatorRegistration{}
	if err := json.NewDecoder(req.Body).Decode(&registrations); err != nil {
		api.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := api.layer.RegisterValidators(req.Context(), registrations); err != nil {
		api.log.WithError(err).WithField("numRegistrations", len(registrations)).Warn("could not register validators")
		api.respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	api.respondOK(w, nilResponse)
}
