package builderclient

import (
	"encoding/json"

	builderApiCapella "github.com/attestantio/go-builder-client/api/capella"
	builderApiDeneb "github.com/attestantio/go-builder-client/api/deneb"
	builderSpec "github.com/attestantio/go-builder-client/spec"
	"github.com/attestantio/go-eth2-client/spec"
	"github.com/attestantio/go-eth2-client/spec/bellatrix"
	consensuscapella "github.com/attestantio/go-eth2-client/spec/capella"
	"github.com/attestantio/go-eth2-client/spec/deneb"
	"github.com/attestantio/go-eth2-client/spec/phase0"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/go-boost-utils/bls"
	"github.com/flashbots/go-boost-utils/ssz"
	"github.com/holiman/uint256"
)

// TestBidParams describes a bid built by TestBuilder.SignedBid. Zero gas values get defaults.
type TestBidParams struct {
	Version      spec.DataVersion
	ParentHash   ethcommon.Hash
	BlockHash    ethcommon.Hash
	BlockNumber  uint64
	Timestamp    uint64
	PrevRandao   ethcommon.Hash
	FeeRecipient ethcommon.Address
	GasLimit     uint64
	GasUsed      uint64
	ExtraData    []byte
	NumBlobs     int
	Value        uint64
}

// TestBuilder is a builder identity used to sign bids in tests
type TestBuilder struct {
	SecretKey *bls.SecretKey
	Pubkey    phase0.BLSPubKey
	Domain    phase0.Domain
}

func NewTestBuilder() (*TestBuilder, error) {
	sk, pk, err := bls.GenerateNewKeypair()
	if err != nil {
		return nil, err
	}
	domain, err := common.ComputeBuilderDomain("0x00000000")
	if err != nil {
		return nil, err
	}

	var pubkey phase0.BLSPubKey
	copy(pubkey[:], bls.PublicKeyToBytes(pk))
	return &TestBuilder{SecretKey: sk, Pubkey: pubkey, Domain: domain}, nil
}

// SignedBid builds and signs a bid with the builder's key
func (b *TestBuilder) SignedBid(p TestBidParams) (*Bid, error) {
	if p.GasLimit == 0 {
		p.GasLimit = 30_000_000
	}
	if p.GasUsed == 0 {
		p.GasUsed = 21_000
	}
	if p.ExtraData == nil {
		p.ExtraData = []byte{}
	}

	signed := &builderSpec.VersionedSignedBuilderBid{Version: p.Version}
	switch p.Version {
	case spec.DataVersionDeneb:
		commitments := make([]deneb.KZGCommitment, p.NumBlobs)
		for i := range commitments {
			commitments[i][0] = byte(i + 1)
		}
		msg := &builderApiDeneb.BuilderBid{
			Header: &deneb.ExecutionPayloadHeader{
				ParentHash:    phase0.Hash32(p.ParentHash),
				FeeRecipient:  bellatrix.ExecutionAddress(p.FeeRecipient),
				PrevRandao:    [32]byte(p.PrevRandao),
				BlockNumber:   p.BlockNumber,
				GasLimit:      p.GasLimit,
				GasUsed:       p.GasUsed,
				Timestamp:     p.Timestamp,
				ExtraData:     p.ExtraData,
				BaseFeePerGas: uint256.NewInt(7),
				BlockHash:     phase0.Hash32(p.BlockHash),
			},
			BlobKZGCommitments: commitments,
			Value:              uint256.NewInt(p.Value),
			Pubkey:             b.Pubkey,
		}
		sig, err := ssz.SignMessage(msg, b.Domain, b.SecretKey)
		if err != nil {
			return nil, err
		}
		signed.Deneb = &builderApiDeneb.SignedBuilderBid{Message: msg, Signature: sig}
	default:
		signed.Version = spec.DataVersionCapella
		msg := &builderApiCapella.BuilderBid{
			Header: &consensuscapella.ExecutionPayloadHeader{
				ParentHash:   phase0.Hash32(p.ParentHash),
				FeeRecipient: bellatrix.ExecutionAddress(p.FeeRecipient),
				PrevRandao:   [32]byte(p.PrevRandao),
				BlockNumber:  p.BlockNumber,
				GasLimit:     p.GasLimit,
				GasUsed:      p.GasUsed,
				Timestamp:    p.Timestamp,
				ExtraData:    p.ExtraData,
				BlockHash:    phase0.Hash32(p.BlockHash),
			},
			Value:  uint256.NewInt(p.Value),
			Pubkey: b.Pubkey,
		}
		sig, err := ssz.SignMessage(msg, b.Domain, b.SecretKey)
		if err != nil {
			return nil, err
		}
		signed.Capella = &builderApiCapella.SignedBuilderBid{Message: msg, Signature: sig}
	}
	return &Bid{Signed: signed}, nil
}

// MarshalGetHeaderResponse encodes a bid the way a builder answers getHeader
func MarshalGetHeaderResponse(bid *Bid) ([]byte, error) {
	var data any = bid.Signed.Capella
	if bid.Signed.Version == spec.DataVersionDeneb {
		data = bid.Signed.Deneb
	}
	return json.Marshal(struct {
		Version string `json:"version"`
		Data    any    `json:"data"`
	}{
		Version: bid.Signed.Version.String(),
		Data:    data,
	})
}
