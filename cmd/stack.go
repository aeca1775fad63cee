package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/builderclient"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/config"
	"github.com/flashbots/execution-bridge/database"
	"github.com/flashbots/execution-bridge/datastore"
	"github.com/flashbots/execution-bridge/engineclient"
	"github.com/flashbots/execution-bridge/execution"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// builderRequestTimeout bounds builder calls other than getHeader
var builderRequestTimeout = 10 * time.Second

// bridgeStack is everything the bridge runs on, built from the config
type bridgeStack struct {
	engines   *engineclient.MultiEngineClient
	bridge    *builderclient.Bridge
	proposers datastore.ProposerDatastore
	db        database.IDatabaseService
	clock     *common.WallClock
	layer     *execution.ExecutionLayer

	redis *datastore.ProposerRedisDatastore
}

func addCommonFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json", config.DefaultLogJSON, "log in JSON format instead of text")
	cmd.Flags().String("loglevel", config.DefaultLogLevel, "log-level: trace, debug, info, warn/warning, error, fatal, panic")
	cmd.Flags().String("log-tag", config.DefaultLogTag, "if set, a 'tag' field will be added to all log entries")
	cmd.Flags().StringSlice("engine-uris", config.DefaultEngineURIs, "engine API endpoints, in priority order")
	cmd.Flags().String("engines-file", config.DefaultEnginesFile, "yaml file listing engine endpoints with their own jwt secrets")
	cmd.Flags().String("jwt-secret", config.DefaultJWTSecret, "hex encoded jwt secret shared by all engine-uris")
	cmd.Flags().String("jwt-secret-file", config.DefaultJWTSecretFile, "file containing the jwt secret shared by all engine-uris")
	cmd.Flags().String("builder-url", config.DefaultBuilderURL, "builder API endpoint, leave empty to build every block locally")
	cmd.Flags().String("builder-pubkey", config.DefaultBuilderPubkey, "only accept bids signed by this builder pubkey")
	cmd.Flags().String("genesis-fork-version", config.DefaultGenesisForkVersion, "genesis fork version of the network, used for the builder signing domain")
}

func bindCommonFlags(cmd *cobra.Command) {
	_ = viper.BindPFlag(config.KeyLogJSON, cmd.Flags().Lookup("json"))
	_ = viper.BindPFlag(config.KeyLogLevel, cmd.Flags().Lookup("loglevel"))
	_ = viper.BindPFlag(config.KeyLogTag, cmd.Flags().Lookup("log-tag"))
	_ = viper.BindPFlag(config.KeyEngineURIs, cmd.Flags().Lookup("engine-uris"))
	_ = viper.BindPFlag(config.KeyEnginesFile, cmd.Flags().Lookup("engines-file"))
	_ = viper.BindPFlag(config.KeyJWTSecret, cmd.Flags().Lookup("jwt-secret"))
	_ = viper.BindPFlag(config.KeyJWTSecretFile, cmd.Flags().Lookup("jwt-secret-file"))
	_ = viper.BindPFlag(config.KeyBuilderURL, cmd.Flags().Lookup("builder-url"))
	_ = viper.BindPFlag(config.KeyBuilderPubkey, cmd.Flags().Lookup("builder-pubkey"))
	_ = viper.BindPFlag(config.KeyGenesisForkVersion, cmd.Flags().Lookup("genesis-fork-version"))
}

func serviceLog(command string) *logrus.Entry {
	return common.ServiceLog(
		config.GetBool(config.KeyLogJSON),
		config.GetString(config.KeyLogLevel),
		"execution-bridge/"+command,
		Version,
		config.GetString(config.KeyLogTag),
	)
}

func millis(key string) time.Duration {
	return time.Duration(config.GetInt64(key)) * time.Millisecond
}

func engineTimeouts() engineclient.Timeouts {
	return engineclient.Timeouts{
		NewPayload:        millis(config.KeyTimeoutNewPayloadMs),
		ForkchoiceUpdated: millis(config.KeyTimeoutForkchoiceUpdatedMs),
		GetPayload:        millis(config.KeyTimeoutGetPayloadMs),
		Upcheck:           millis(config.KeyTimeoutUpcheckMs),
	}
}

func loadEngineConfigs() ([]engineclient.EngineConfig, error) {
	if path := config.GetString(config.KeyEnginesFile); path != "" {
		return config.LoadEnginesFile(path)
	}
	return config.EnginesFromURIs(
		config.GetStringSlice(config.KeyEngineURIs),
		config.GetString(config.KeyJWTSecret),
		config.GetString(config.KeyJWTSecretFile),
	)
}

func newEngines(ctx context.Context, log *logrus.Entry) (*engineclient.MultiEngineClient, error) {
	configs, err := loadEngineConfigs()
	if err != nil {
		return nil, err
	}

	handles := make([]*engineclient.EngineHandle, 0, len(configs))
	for _, cfg := range configs {
		handle, err := engineclient.NewEngineHandleFromConfig(ctx, log, cfg)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", cfg.DisplayName(), err)
		}
		log.WithField("engine", handle.Name()).Info("using execution engine")
		handles = append(handles, handle)
	}
	return engineclient.NewMultiEngineClient(log, handles, engineTimeouts())
}

func newBridge(log *logrus.Entry, proposers datastore.ProposerDatastore) (*builderclient.Bridge, error) {
	domain, err := common.ComputeBuilderDomain(config.GetString(config.KeyGenesisForkVersion))
	if err != nil {
		return nil, fmt.Errorf("builder domain: %w", err)
	}

	opts := builderclient.BridgeOpts{
		Log:               log,
		Domain:            domain,
		Proposers:         proposers,
		GetHeaderTimeout:  millis(config.KeyBuilderTimeoutMs),
		CheckFeeRecipient: config.GetBool(config.KeyBuilderCheckFeeRecipient),
	}

	if builderURL := config.GetString(config.KeyBuilderURL); builderURL != "" {
		opts.Client = builderclient.NewProdBuilderClient(log, builderURL, builderRequestTimeout)
		log.WithField("builder", builderURL).Info("using builder")
	}

	if pubkeyStr := config.GetString(config.KeyBuilderPubkey); pubkeyStr != "" {
		var pubkey phase0.BLSPubKey
		pubkey, err = common.StrToPhase0Pubkey(pubkeyStr)
		if err != nil {
			return nil, fmt.Errorf("builder pubkey: %w", err)
		}
		opts.BuilderPubkey = &pubkey
	}
	return builderclient.NewBridge(opts), nil
}

func newStack(ctx context.Context, log *logrus.Entry) (*bridgeStack, error) {
	s := &bridgeStack{}
	var err error

	s.engines, err = newEngines(ctx, log)
	if err != nil {
		return nil, err
	}

	if redisURI := config.GetString(config.KeyRedisURI); redisURI != "" {
		log.Info("storing proposer data in redis")
		s.redis, err = datastore.NewProposerRedisDatastore(redisURI, config.GetString(config.KeyRedisPrefix))
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.proposers = s.redis
	} else {
		s.proposers = datastore.NewProposerMemoryDatastore()
	}

	if dsn := config.GetString(config.KeyPostgresDSN); dsn != "" {
		log.Info("connecting to the database")
		s.db, err = database.NewDatabaseService(dsn)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
	} else {
		log.Info("no postgres dsn, keeping decisions in memory")
		s.db = &database.MockDB{}
	}

	s.bridge, err = newBridge(log, s.proposers)
	if err != nil {
		return nil, err
	}

	cache, err := datastore.NewPayloadCache(config.GetInt(config.KeyPayloadCacheCapacity))
	if err != nil {
		return nil, err
	}

	arbiter, err := execution.NewArbiter(execution.ArbiterOpts{
		TiePolicy:   execution.TiePolicy(config.GetString(config.KeyTiePolicy)),
		BoostFactor: config.GetUint64(config.KeyBuilderBoostFactor),
		ForceLocal:  config.GetBool(config.KeyForceLocal),
	})
	if err != nil {
		return nil, err
	}

	var defaultFeeRecipient ethcommon.Address
	if feeRecipient := config.GetString(config.KeyDefaultFeeRecipient); feeRecipient != "" {
		if !ethcommon.IsHexAddress(feeRecipient) {
			return nil, fmt.Errorf("invalid default fee recipient: %s", feeRecipient)
		}
		defaultFeeRecipient = ethcommon.HexToAddress(feeRecipient)
	}

	s.clock = common.NewWallClock(
		time.Unix(config.GetInt64(config.KeyGenesisTime), 0),
		time.Duration(config.GetInt64(config.KeySecondsPerSlot))*time.Second,
		config.GetUint64(config.KeySlotsPerEpoch),
	)

	s.layer, err = execution.NewExecutionLayer(execution.ExecutionLayerOpts{
		Log:                 log,
		Engines:             s.engines,
		Cache:               cache,
		Arbiter:             arbiter,
		Clock:               s.clock,
		Bridge:              s.bridge,
		Proposers:           s.proposers,
		DB:                  s.db,
		DefaultFeeRecipient: defaultFeeRecipient,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *bridgeStack) Close(log *logrus.Entry) {
	s.engines.Close()
	s.clock.Stop()
	if err := s.db.Close(); err != nil {
		log.WithError(err).Error("error closing database")
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.WithError(err).Error("error closing redis")
		}
	}
}
