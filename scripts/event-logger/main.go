package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/database"
	"github.com/flashbots/execution-bridge/server"
	"github.com/r3labs/sse/v2"
	"github.com/sirupsen/logrus"
)

var (
	bridgeURIs = common.GetEnvStrSlice("BRIDGE_URIS", []string{"http://localhost:18550"})
	log        *logrus.Entry
)

func main() {
	log = common.LogSetup(false, "info")

	log.Infof("Using bridge endpoints: %s", strings.Join(bridgeURIs, ", "))
	for _, uri := range bridgeURIs {
		client := sse.NewClient(strings.TrimRight(uri, "/") + "/eth/v1/bridge/events")
		go subscribeEngines(uri, client)
		go subscribeDecisions(uri, client)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
}

func subscribeEngines(uri string, client *sse.Client) {
	_log := log.WithField("bridge", uri)
	_log.Info("subscribeEngines")
	err := client.Subscribe("engines", func(msg *sse.Event) {
		event := new(server.EngineStatusEvent)
		if err := json.Unmarshal(msg.Data, event); err != nil {
			_log.WithError(err).Warn("could not decode engine event")
			return
		}
		_log.WithField("timestamp", time.Now().UTC().UnixMilli()).Infof("engineEvent: engine=%s / %s -> %s", event.Engine, event.From, event.To)
	})
	if err != nil {
		_log.WithError(err).Error("engines subscription ended")
	}
}

func subscribeDecisions(uri string, client *sse.Client) {
	_log := log.WithField("bridge", uri)
	_log.Info("subscribeDecisions")
	err := client.Subscribe("decisions", func(msg *sse.Event) {
		entry := new(database.ProposalDecisionEntry)
		if err := json.Unmarshal(msg.Data, entry); err != nil {
			_log.WithError(err).Warn("could not decode decision event")
			return
		}
		_log.WithField("timestamp", time.Now().UTC().UnixMilli()).Infof("decisionEvent: slot=%d / source=%s / reason=%s / block=%s", entry.Slot, entry.Source, entry.Reason, entry.BlockHash)
	})
	if err != nil {
		_log.WithError(err).Error("decisions subscription ended")
	}
}
