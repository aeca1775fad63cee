package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidRegistration = errors.New("invalid validator registration")

	redisPrefix = "execution-bridge"

	expirationTimeValidatorRegistration = time.Duration(0) // never expires
)

func connectRedis(redisURI string) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr: redisURI,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		// unable to connect to redis
		return nil, err
	}
	return redisClient, nil
}

type ProposerRedisDatastore struct {
	client *redis.Client

	keyFeeRecipients            string
	prefixValidatorRegistration string
}

func NewProposerRedisDatastore(redisURI, prefix string) (*ProposerRedisDatastore, error) {
	client, err := connectRedis(redisURI)
	if err != nil {
		return nil, err
	}

	return &ProposerRedisDatastore{
		client: client,

		keyFeeRecipients:            fmt.Sprintf("%s/%s:fee-recipients", redisPrefix, prefix),
		prefixValidatorRegistration: fmt.Sprintf("%s/%s:validator-registration", redisPrefix, prefix),
	}, nil
}

func (r *ProposerRedisDatastore) keyValidatorRegistration(pubkey phase0.BLSPubKey) string {
	return fmt.Sprintf("%s:%s", r.prefixValidatorRegistration, strings.ToLower(pubkey.String()))
}

func (r *ProposerRedisDatastore) SetFeeRecipient(validatorIndex uint64, feeRecipient ethcommon.Address) error {
	return r.client.HSet(context.Background(), r.keyFeeRecipients, strconv.FormatUint(validatorIndex, 10), feeRecipient.Hex()).Err()
}

func (r *ProposerRedisDatastore) GetFeeRecipient(validatorIndex uint64) (ethcommon.Address, bool, error) {
	value, err := r.client.HGet(context.Background(), r.keyFeeRecipients, strconv.FormatUint(validatorIndex, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return ethcommon.Address{}, false, nil
	} else if err != nil {
		return ethcommon.Address{}, false, err
	}
	if !ethcommon.IsHexAddress(value) {
		return ethcommon.Address{}, false, fmt.Errorf("%w: stored fee recipient %q", ErrInvalidRegistration, value)
	}
	return ethcommon.HexToAddress(value), true, nil
}

func (r *ProposerRedisDatastore) GetValidatorRegistration(pubkey phase0.BLSPubKey) (*builderApiV1.SignedValidatorRegistration, error) {
	registration := new(builderApiV1.SignedValidatorRegistration)
	err := r.GetObj(r.keyValidatorRegistration(pubkey), registration)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return registration, err
}

func (r *ProposerRedisDatastore) SaveValidatorRegistration(entry *builderApiV1.SignedValidatorRegistration) error {
	if entry == nil || entry.Message == nil {
		return ErrInvalidRegistration
	}
	return r.SetObj(r.keyValidatorRegistration(entry.Message.Pubkey), entry, expirationTimeValidatorRegistration)
}

func (r *ProposerRedisDatastore) SaveValidatorRegistrations(entries []*builderApiV1.SignedValidatorRegistration) error {
	for _, entry := range entries {
		err := r.SaveValidatorRegistration(entry)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *ProposerRedisDatastore) GetObj(key string, obj any) (err error) {
	value, err := r.client.Get(context.Background(), key).Result()
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(value), obj)
}

func (r *ProposerRedisDatastore) SetObj(key string, value any, expiration time.Duration) (err error) {
	marshalledValue, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return r.client.Set(context.Background(), key, marshalledValue, expiration).Err()
}

func (r *ProposerRedisDatastore) Close() error {
	return r.client.Close()
}
