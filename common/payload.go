package common

import (
	"math/big"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

// ExecutionPayload is a payload built by an execution engine, together with the
// value the engine declared for it and the blobs that belong to it.
type ExecutionPayload struct {
	Payload     *engine.ExecutableData `json:"execution_payload"`
	BlockValue  *uint256.Int           `json:"block_value"`
	BlobsBundle *engine.BlobsBundleV1  `json:"blobs_bundle,omitempty"`
}

// payloadBody is the RLP shape a content hash is computed over. Optional
// fields are flattened so that the encoding is a pure function of the body.
type payloadBody struct {
	ParentHash    ethcommon.Hash
	FeeRecipient  ethcommon.Address
	StateRoot     ethcommon.Hash
	ReceiptsRoot  ethcommon.Hash
	LogsBloom     []byte
	Random        ethcommon.Hash
	Number        uint64
	GasLimit      uint64
	GasUsed       uint64
	Timestamp     uint64
	ExtraData     []byte
	BaseFeePerGas *big.Int
	BlockHash     ethcommon.Hash
	Transactions  [][]byte
	Withdrawals   []*types.Withdrawal
	BlobGasUsed   uint64
	ExcessBlobGas uint64
}

// NewExecutionPayload converts a getPayload response into an ExecutionPayload
func NewExecutionPayload(envelope *engine.ExecutionPayloadEnvelope) (*ExecutionPayload, error) {
	if envelope == nil || envelope.ExecutionPayload == nil {
		return nil, ErrNilPayload
	}

	value := new(uint256.Int)
	if envelope.BlockValue != nil {
		var overflow bool
		value, overflow = uint256.FromBig(envelope.BlockValue)
		if overflow {
			return nil, ErrIncorrectLength
		}
	}

	return &ExecutionPayload{
		Payload:     envelope.ExecutionPayload,
		BlockValue:  value,
		BlobsBundle: envelope.BlobsBundle,
	}, nil
}

// ContentHash is the keccak256 hash of the RLP encoded payload body. Two payloads
// with identical bodies have the same content hash regardless of their declared value.
func (p *ExecutionPayload) ContentHash() (ethcommon.Hash, error) {
	if p == nil || p.Payload == nil {
		return ethcommon.Hash{}, ErrNilPayload
	}

	data := p.Payload
	body := payloadBody{
		ParentHash:    data.ParentHash,
		FeeRecipient:  data.FeeRecipient,
		StateRoot:     data.StateRoot,
		ReceiptsRoot:  data.ReceiptsRoot,
		LogsBloom:     data.LogsBloom,
		Random:        data.Random,
		Number:        data.Number,
		GasLimit:      data.GasLimit,
		GasUsed:       data.GasUsed,
		Timestamp:     data.Timestamp,
		ExtraData:     data.ExtraData,
		BaseFeePerGas: data.BaseFeePerGas,
		BlockHash:     data.BlockHash,
		Transactions:  data.Transactions,
		Withdrawals:   data.Withdrawals,
	}
	if data.BlobGasUsed != nil {
		body.BlobGasUsed = *data.BlobGasUsed
	}
	if data.ExcessBlobGas != nil {
		body.ExcessBlobGas = *data.ExcessBlobGas
	}

	enc, err := rlp.EncodeToBytes(&body)
	if err != nil {
		return ethcommon.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

func (p *ExecutionPayload) BlockHash() ethcommon.Hash {
	if p == nil || p.Payload == nil {
		return ethcommon.Hash{}
	}
	return p.Payload.BlockHash
}

func (p *ExecutionPayload) ParentHash() ethcommon.Hash {
	if p == nil || p.Payload == nil {
		return ethcommon.Hash{}
	}
	return p.Payload.ParentHash
}

func (p *ExecutionPayload) BlockNumber() uint64 {
	if p == nil || p.Payload == nil {
		return 0
	}
	return p.Payload.Number
}

func (p *ExecutionPayload) NumTx() int {
	if p == nil || p.Payload == nil {
		return 0
	}
	return len(p.Payload.Transactions)
}

// Value returns the declared block value, zero if the engine did not declare one
func (p *ExecutionPayload) Value() *uint256.Int {
	if p == nil || p.BlockValue == nil {
		return new(uint256.Int)
	}
	return p.BlockValue
}
