// Package datastore provides the payload cache and the proposer data stores
package datastore

import (
	builderApiV1 "github.com/attestantio/go-builder-client/api/v1"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ProposerDatastore keeps what proposers told us about themselves: the fee recipient per
// validator index (prepareBeaconProposer) and the builder registration per pubkey.
type ProposerDatastore interface {
	SetFeeRecipient(validatorIndex uint64, feeRecipient ethcommon.Address) error
	// GetFeeRecipient returns false if no fee recipient was prepared for the index
	GetFeeRecipient(validatorIndex uint64) (ethcommon.Address, bool, error)

	// GetValidatorRegistration returns (nil, nil) if the pubkey never registered
	GetValidatorRegistration(pubkey phase0.BLSPubKey) (*builderApiV1.SignedValidatorRegistration, error)
	SaveValidatorRegistration(entry *builderApiV1.SignedValidatorRegistration) error
	SaveValidatorRegistrations(entries []*builderApiV1.SignedValidatorRegistration) error
}
