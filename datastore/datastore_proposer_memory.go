package datastore

import (
	"sync"

	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

type ProposerMemoryDatastore struct {
	registrations map[phase0.BLSPubKey]*builderApiV1.SignedValidatorRegistration
	feeRecipients map[uint64]ethcommon.Address
	requestCount  map[string]int
	mu            sync.RWMutex
}

func NewProposerMemoryDatastore() *ProposerMemoryDatastore {
	return &ProposerMemoryDatastore{
		registrations: make(map[phase0.BLSPubKey]*builderApiV1.SignedValidatorRegistration),
		feeRecipients: make(map[uint64]ethcommon.Address),
		requestCount:  make(map[string]int),
	}
}

func (ds *ProposerMemoryDatastore) SetFeeRecipient(validatorIndex uint64, feeRecipient ethcommon.Address) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.requestCount["SetFeeRecipient"]++
	ds.feeRecipients[validatorIndex] = feeRecipient
	return nil
}

func (ds *ProposerMemoryDatastore) GetFeeRecipient(validatorIndex uint64) (ethcommon.Address, bool, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.requestCount["GetFeeRecipient"]++
	feeRecipient, ok := ds.feeRecipients[validatorIndex]
	return feeRecipient, ok, nil
}

// GetValidatorRegistration returns the validator registration for the given pubkey. If not found then it returns (nil, nil).
func (ds *ProposerMemoryDatastore) GetValidatorRegistration(pubkey phase0.BLSPubKey) (*builderApiV1.SignedValidatorRegistration, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.requestCount["GetValidatorRegistration"]++
	return ds.registrations[pubkey], nil
}

func (ds *ProposerMemoryDatastore) SaveValidatorRegistration(entry *builderApiV1.SignedValidatorRegistration) error {
	if entry == nil || entry.Message == nil {
		return ErrInvalidRegistration
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.requestCount["SaveValidatorRegistration"]++
	ds.registrations[entry.Message.Pubkey] = entry
	return nil
}

func (ds *ProposerMemoryDatastore) SaveValidatorRegistrations(entries []*builderApiV1.SignedValidatorRegistration) error {
	for _, entry := range entries {
		if err := ds.SaveValidatorRegistration(entry); err != nil {
			return err
		}
	}
	return nil
}

// GetRequestCount returns the number of Request made to a method
func (ds *ProposerMemoryDatastore) GetRequestCount(method string) int {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.requestCount[method]
}
