package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/config"
	"github.com/flashbots/execution-bridge/engineclient"
	"github.com/flashbots/execution-bridge/metrics"
	"github.com/flashbots/execution-bridge/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var shutdownTimeout = 5 * time.Second

func init() {
	rootCmd.AddCommand(runCmd)
	addCommonFlags(runCmd)
	runCmd.Flags().String("listen-addr", config.DefaultListenAddr, "listen address of the operator API")
	runCmd.Flags().String("redis-uri", config.DefaultRedisURI, "redis uri for proposer data, in-memory if empty")
	runCmd.Flags().String("db", config.DefaultPostgresDSN, "PostgreSQL DSN for the decision log, in-memory if empty")
	runCmd.Flags().Int("cache-capacity", config.DefaultPayloadCacheCapacity, "number of locally built payloads to keep")
	runCmd.Flags().Bool("force-local", config.DefaultForceLocal, "never use builder payloads")
	runCmd.Flags().String("tie-policy", config.DefaultTiePolicy, "who wins a tie between builder and local payload: prefer-builder, prefer-local")
	runCmd.Flags().Uint64("builder-boost", config.DefaultBuilderBoostFactor, "percentage the builder value is scaled by before comparing")
	runCmd.Flags().String("default-fee-recipient", config.DefaultDefaultFeeRecipient, "fee recipient for proposers without a preparation")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the execution bridge",
	Long: `Start the execution bridge: engine watchdogs and the operator API (status, engines,
force local, decisions, cached payloads, proposer preparations, validator registrations,
events and metrics).

The operator API is the only network surface. Payload validation, fork choice and block
production are not served over the network: a consensus client reaches them by embedding
the execution package (ExecutionLayer.ValidatePayload, UpdateForkChoice, ProduceBlock).`,
	PreRun: func(cmd *cobra.Command, args []string) {
		bindCommonFlags(cmd)
		_ = viper.BindPFlag(config.KeyListenAddr, cmd.Flags().Lookup("listen-addr"))
		_ = viper.BindPFlag(config.KeyRedisURI, cmd.Flags().Lookup("redis-uri"))
		_ = viper.BindPFlag(config.KeyPostgresDSN, cmd.Flags().Lookup("db"))
		_ = viper.BindPFlag(config.KeyPayloadCacheCapacity, cmd.Flags().Lookup("cache-capacity"))
		_ = viper.BindPFlag(config.KeyForceLocal, cmd.Flags().Lookup("force-local"))
		_ = viper.BindPFlag(config.KeyTiePolicy, cmd.Flags().Lookup("tie-policy"))
		_ = viper.BindPFlag(config.KeyBuilderBoostFactor, cmd.Flags().Lookup("builder-boost"))
		_ = viper.BindPFlag(config.KeyDefaultFeeRecipient, cmd.Flags().Lookup("default-fee-recipient"))
	},
	Run: func(cmd *cobra.Command, args []string) {
		log := serviceLog("run")
		log.Infof("execution-bridge %s", Version)
		log.WithFields(logrus.Fields{"config": config.GetConfig()}).Debug("configuration")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := metrics.Setup(ctx); err != nil {
			log.WithError(err).Fatal("failed to set up metrics")
		}

		stack, err := newStack(ctx, log)
		if err != nil {
			log.WithError(err).Fatal("failed to set up the bridge")
		}

		numOnline := stack.engines.UpcheckAll(ctx)
		log.Infof("%d/%d engines online", numOnline, len(stack.engines.Handles()))

		api, err := server.NewOperatorAPI(server.OperatorAPIOpts{
			Log:        log,
			ListenAddr: config.GetString(config.KeyListenAddr),
			Layer:      stack.layer,
			Timeouts:   common.HTTPServerTimeouts{
				Read:       5 * time.Second,
				ReadHeader: 2 * time.Second,
				Idle:       60 * time.Second,
			},
		})
		if err != nil {
			log.WithError(err).Fatal("failed to create the operator API")
		}
		stack.engines.OnStatusChange(api.PublishEngineStatus)

		stack.engines.StartWatchdog(ctx, engineclient.WatchdogOpts{
			Interval:       millis(config.KeyWatchdogIntervalMs),
			InitialBackoff: engineclient.DefaultWatchdogOpts.InitialBackoff,
			MaxBackoff:     engineclient.DefaultWatchdogOpts.MaxBackoff,
		})

		stack.clock.OnSlotChanged(func(slot uint64) {
			log.WithField("slot", slot).Debug("new slot")
		})

		log.Infof("operator API listening on %s", config.GetString(config.KeyListenAddr))
		go func() {
			if err := api.StartServer(); err != nil {
				log.WithError(err).Fatal("operator API failed")
			}
		}()

		exit := make(chan os.Signal, 1)
		signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
		<-exit

		log.Info("shutting down")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := api.StopServer(shutdownCtx); err != nil {
			log.WithError(err).Error("operator API shutdown failed")
		}
		stack.Close(log)
		log.Info("bye")
	},
}
