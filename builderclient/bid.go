package builderclient

import (
	"encoding/json"
	"fmt"
	"strings"

	builderApiCapella "github.com/attestantio/go-builder-client/api/capella"
	builderApiDeneb "github.com/attestantio/go-builder-client/api/deneb"
	builderSpec "github.com/attestantio/go-builder-client/spec"
	"github.com/attestantio/go-eth2-client/spec"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	"github.com/buger/jsonparser"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type hashRootObject interface {
	HashTreeRoot() ([32]byte, error)
}

// Bid is a signed builder bid for a single slot. Only capella and deneb bids are understood.
type Bid struct {
	Signed *builderSpec.VersionedSignedBuilderBid
}

// parseBid decodes a getHeader response body, using the version field to pick the container
func parseBid(body []byte) (*Bid, error) {
	version, err := jsonparser.GetString(body, "version")
	if err != nil {
		return nil, fmt.Errorf("%w: missing version: %w", ErrInvalidResponse, err)
	}
	data, _, _, err := jsonparser.Get(body, "data")
	if err != nil {
		return nil, fmt.Errorf("%w: missing data: %w", ErrInvalidResponse, err)
	}

	signed := new(builderSpec.VersionedSignedBuilderBid)
	switch strings.ToLower(version) {
	case spec.DataVersionCapella.String():
		signed.Version = spec.DataVersionCapella
		signed.Capella = new(builderApiCapella.SignedBuilderBid)
		err = json.Unmarshal(data, signed.Capella)
	case spec.DataVersionDeneb.String():
		signed.Version = spec.DataVersionDeneb
		signed.Deneb = new(builderApiDeneb.SignedBuilderBid)
		err = json.Unmarshal(data, signed.Deneb)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedVersion, version)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}
	return &Bid{Signed: signed}, nil
}

func (b *Bid) Version() spec.DataVersion {
	return b.Signed.Version
}

// complete reports whether every field validation reads is present
func (b *Bid) complete() bool {
	if b == nil || b.Signed == nil {
		return false
	}
	switch b.Signed.Version {
	case spec.DataVersionCapella:
		c := b.Signed.Capella
		return c != nil && c.Message != nil && c.Message.Header != nil && c.Message.Value != nil
	case spec.DataVersionDeneb:
		d := b.Signed.Deneb
		return d != nil && d.Message != nil && d.Message.Header != nil && d.Message.Value != nil
	default:
		return false
	}
}

// message is the signed part of the bid
func (b *Bid) message() hashRootObject {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Message
	}
	return b.Signed.Capella.Message
}

func (b *Bid) Signature() phase0.BLSSignature {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Signature
	}
	return b.Signed.Capella.Signature
}

func (b *Bid) Pubkey() phase0.BLSPubKey {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Message.Pubkey
	}
	return b.Signed.Capella.Message.Pubkey
}

func (b *Bid) Value() *uint256.Int {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Message.Value
	}
	return b.Signed.Capella.Message.Value
}

func (b *Bid) ParentHash() ethcommon.Hash {
	if b.Signed.Version == spec.DataVersionDeneb {
		return ethcommon.Hash(b.Signed.Deneb.Message.Header.ParentHash)
	}
	return ethcommon.Hash(b.Signed.Capella.Message.Header.ParentHash)
}

func (b *Bid) BlockHash() ethcommon.Hash {
	if b.Signed.Version == spec.DataVersionDeneb {
		return ethcommon.Hash(b.Signed.Deneb.Message.Header.BlockHash)
	}
	return ethcommon.Hash(b.Signed.Capella.Message.Header.BlockHash)
}

func (b *Bid) BlockNumber() uint64 {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Message.Header.BlockNumber
	}
	return b.Signed.Capella.Message.Header.BlockNumber
}

func (b *Bid) Timestamp() uint64 {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Message.Header.Timestamp
	}
	return b.Signed.Capella.Message.Header.Timestamp
}

func (b *Bid) PrevRandao() ethcommon.Hash {
	if b.Signed.Version == spec.DataVersionDeneb {
		return ethcommon.Hash(b.Signed.Deneb.Message.Header.PrevRandao)
	}
	return ethcommon.Hash(b.Signed.Capella.Message.Header.PrevRandao)
}

func (b *Bid) FeeRecipient() ethcommon.Address {
	if b.Signed.Version == spec.DataVersionDeneb {
		return ethcommon.Address(b.Signed.Deneb.Message.Header.FeeRecipient)
	}
	return ethcommon.Address(b.Signed.Capella.Message.Header.FeeRecipient)
}

func (b *Bid) GasLimit() uint64 {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Message.Header.GasLimit
	}
	return b.Signed.Capella.Message.Header.GasLimit
}

func (b *Bid) GasUsed() uint64 {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Message.Header.GasUsed
	}
	return b.Signed.Capella.Message.Header.GasUsed
}

func (b *Bid) ExtraData() []byte {
	if b.Signed.Version == spec.DataVersionDeneb {
		return b.Signed.Deneb.Message.Header.ExtraData
	}
	return b.Signed.Capella.Message.Header.ExtraData
}

// NumBlobs is the number of blob commitments in the bid, always zero before deneb
func (b *Bid) NumBlobs() int {
	if b.Signed.Version == spec.DataVersionDeneb {
		return len(b.Signed.Deneb.Message.BlobKZGCommitments)
	}
	return 0
}
