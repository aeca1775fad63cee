// Package config defines the default configuration and binds to environment variables
package config

import (
	"github.com/flashbots/execution-bridge/common"
	"github.com/spf13/viper"
)

const (
	// Default values
	DefaultLogJSON     = false
	DefaultLogLevel    = "info"
	DefaultLogTag      = ""
	DefaultListenAddr  = "localhost:18550"
	DefaultRedisURI    = ""
	DefaultRedisPrefix = "mainnet"
	DefaultPostgresDSN = ""

	DefaultEnginesFile   = ""
	DefaultJWTSecret     = ""
	DefaultJWTSecretFile = ""

	DefaultBuilderURL               = ""
	DefaultBuilderPubkey            = ""
	DefaultBuilderTimeoutMs         = 500
	DefaultBuilderCheckFeeRecipient = false

	DefaultGenesisForkVersion = "0x00000000"
	DefaultGenesisTime        = 1606824023
	DefaultSecondsPerSlot     = 12
	DefaultSlotsPerEpoch      = 32

	DefaultPayloadCacheCapacity = 64

	DefaultTimeoutNewPayloadMs        = 8000
	DefaultTimeoutForkchoiceUpdatedMs = 8000
	DefaultTimeoutGetPayloadMs        = 2000
	DefaultTimeoutUpcheckMs           = 1000
	DefaultWatchdogIntervalMs         = 12000

	DefaultForceLocal          = false
	DefaultTiePolicy           = "prefer-builder"
	DefaultBuilderBoostFactor  = 100
	DefaultDefaultFeeRecipient = ""

	// Common
	KeyLogJSON     = "LogJSON"
	KeyLogLevel    = "LogLevel"
	KeyLogTag      = "LogTag"
	KeyListenAddr  = "ListenAddr"
	KeyRedisURI    = "RedisURI"
	KeyRedisPrefix = "RedisPrefix"
	KeyPostgresDSN = "PostgresDSN"

	// Engines
	KeyEngineURIs    = "EngineURIs"
	KeyEnginesFile   = "EnginesFile"
	KeyJWTSecret     = "JWTSecret"
	KeyJWTSecretFile = "JWTSecretFile"

	// Builder
	KeyBuilderURL               = "BuilderURL"
	KeyBuilderPubkey            = "BuilderPubkey"
	KeyBuilderTimeoutMs         = "BuilderTimeoutMs"
	KeyBuilderCheckFeeRecipient = "BuilderCheckFeeRecipient"

	// Chain
	KeyGenesisForkVersion = "GenesisForkVersion"
	KeyGenesisTime        = "GenesisTime"
	KeySecondsPerSlot     = "SecondsPerSlot"
	KeySlotsPerEpoch      = "SlotsPerEpoch"

	// Execution layer
	KeyPayloadCacheCapacity       = "PayloadCacheCapacity"
	KeyTimeoutNewPayloadMs        = "TimeoutNewPayloadMs"
	KeyTimeoutForkchoiceUpdatedMs = "TimeoutForkchoiceUpdatedMs"
	KeyTimeoutGetPayloadMs        = "TimeoutGetPayloadMs"
	KeyTimeoutUpcheckMs           = "TimeoutUpcheckMs"
	KeyWatchdogIntervalMs         = "WatchdogIntervalMs"

	// Arbiter
	KeyForceLocal          = "ForceLocal"
	KeyTiePolicy           = "TiePolicy"
	KeyBuilderBoostFactor  = "BuilderBoostFactor"
	KeyDefaultFeeRecipient = "DefaultFeeRecipient"

	// Database
	KeyDBTablePrefix = "DBTablePrefix"
)

var (
	DefaultEngineURIs = []string{"http://localhost:8551"}

	configEnvs = make(map[string]string)

	// values of these keys are masked in GetConfig
	sensitiveKeys = map[string]bool{
		KeyJWTSecret:   true,
		KeyPostgresDSN: true,
		KeyRedisURI:    true,
	}
)

func init() {
	// Common
	bindAndSet(KeyLogJSON, "LOG_JSON", DefaultLogJSON)
	bindAndSet(KeyLogLevel, "LOG_LEVEL", DefaultLogLevel)
	bindAndSet(KeyLogTag, "LOG_TAG", DefaultLogTag)
	bindAndSet(KeyListenAddr, "LISTEN_ADDR", DefaultListenAddr)
	bindAndSet(KeyRedisURI, "REDIS_URI", DefaultRedisURI)
	bindAndSet(KeyRedisPrefix, "REDIS_PREFIX", DefaultRedisPrefix)
	bindAndSet(KeyPostgresDSN, "POSTGRES_DSN", DefaultPostgresDSN)

	// Engines
	bindAndSet(KeyEngineURIs, "ENGINE_URIS", DefaultEngineURIs)
	bindAndSet(KeyEnginesFile, "ENGINES_FILE", DefaultEnginesFile)
	bindAndSet(KeyJWTSecret, "JWT_SECRET", DefaultJWTSecret)
	bindAndSet(KeyJWTSecretFile, "JWT_SECRET_FILE", DefaultJWTSecretFile)

	// Builder
	bindAndSet(KeyBuilderURL, "BUILDER_URL", DefaultBuilderURL)
	bindAndSet(KeyBuilderPubkey, "BUILDER_PUBKEY", DefaultBuilderPubkey)
	bindAndSet(KeyBuilderTimeoutMs, "BUILDER_TIMEOUT_MS", DefaultBuilderTimeoutMs)
	bindAndSet(KeyBuilderCheckFeeRecipient, "BUILDER_CHECK_FEE_RECIPIENT", DefaultBuilderCheckFeeRecipient)

	// Chain
	bindAndSet(KeyGenesisForkVersion, "GENESIS_FORK_VERSION", DefaultGenesisForkVersion)
	bindAndSet(KeyGenesisTime, "GENESIS_TIME", DefaultGenesisTime)
	bindAndSet(KeySecondsPerSlot, "SECONDS_PER_SLOT", DefaultSecondsPerSlot)
	bindAndSet(KeySlotsPerEpoch, "SLOTS_PER_EPOCH", DefaultSlotsPerEpoch)

	// Execution layer
	bindAndSet(KeyPayloadCacheCapacity, "PAYLOAD_CACHE_CAPACITY", DefaultPayloadCacheCapacity)
	bindAndSet(KeyTimeoutNewPayloadMs, "TIMEOUT_NEW_PAYLOAD_MS", DefaultTimeoutNewPayloadMs)
	bindAndSet(KeyTimeoutForkchoiceUpdatedMs, "TIMEOUT_FORKCHOICE_UPDATED_MS", DefaultTimeoutForkchoiceUpdatedMs)
	bindAndSet(KeyTimeoutGetPayloadMs, "TIMEOUT_GET_PAYLOAD_MS", DefaultTimeoutGetPayloadMs)
	bindAndSet(KeyTimeoutUpcheckMs, "TIMEOUT_UPCHECK_MS", DefaultTimeoutUpcheckMs)
	bindAndSet(KeyWatchdogIntervalMs, "WATCHDOG_INTERVAL_MS", DefaultWatchdogIntervalMs)

	// Arbiter
	bindAndSet(KeyForceLocal, "FORCE_LOCAL", DefaultForceLocal)
	bindAndSet(KeyTiePolicy, "TIE_POLICY", DefaultTiePolicy)
	bindAndSet(KeyBuilderBoostFactor, "BUILDER_BOOST_FACTOR", DefaultBuilderBoostFactor)
	bindAndSet(KeyDefaultFeeRecipient, "DEFAULT_FEE_RECIPIENT", DefaultDefaultFeeRecipient)

	// Database
	bindAndSet(KeyDBTablePrefix, "DB_TABLE_PREFIX", "dev")
}

func bindAndSet(key, envVariable string, defaultValue any) {
	log := common.LogSetup(viper.GetBool(KeyLogJSON), viper.GetString(KeyLogLevel))
	if err := viper.BindEnv(key, envVariable); err != nil {
		log.WithError(err).Fatalf("Failed to BindEnv: %s", envVariable)
	}
	viper.SetDefault(key, defaultValue)
	configEnvs[key] = envVariable
}

// GetConfig returns the key/values for the config, with sensitive values masked
func GetConfig() map[string]string {
	config := make(map[string]string)
	for k, v := range configEnvs {
		value := viper.GetString(k)
		if sensitiveKeys[k] && value != "" {
			value = "***"
		}
		config[v] = value
	}
	return config
}

// GetInt returns the value associated with the key as an integer.
func GetInt(key string) int { return viper.GetInt(key) }

// GetInt64 returns the value associated with the key as an integer.
func GetInt64(key string) int64 { return viper.GetInt64(key) }

// GetUint64 returns the value associated with the key as an unsigned integer.
func GetUint64(key string) uint64 { return viper.GetUint64(key) }

// GetStringSlice returns the value associated with the key as a slice of strings.
func GetStringSlice(key string) []string { return viper.GetStringSlice(key) }

// GetString returns the value associated with the key as a string.
func GetString(key string) string { return viper.GetString(key) }

// GetBool returns the value associated with the key as a boolean.
func GetBool(key string) bool { return viper.GetBool(key) }
