package common

import (
	"math/big"

	"github.com/ethereum/go-ethereum/beacon/engine"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// TestLog is used to log information in the test methods
var TestLog = logrus.WithField("testing", true)

var (
	TestParentHash   = ethcommon.HexToHash("0xbd3291854dc822b7ec585925cda0e18f06af28fa2886e15f52d52dd4b6f94ed6")
	TestPrevRandao   = ethcommon.HexToHash("0x9962816e9d0a39fd4c80935338a741dc916d1545694e41eb5a505e1a3098f9e4")
	TestFeeRecipient = ethcommon.HexToAddress("0xdb65fEd33dc262Fe09D9a2Ba8F80b329BA25f941")
)

// TestExecutableData returns a deterministic executable payload. Different
// numbers yield different block hashes and therefore different content hashes.
func TestExecutableData(parentHash ethcommon.Hash, number uint64) *engine.ExecutableData {
	var blockHash ethcommon.Hash
	blockHash[0] = 0xbb
	new(big.Int).SetUint64(number).FillBytes(blockHash[24:])

	return &engine.ExecutableData{
		ParentHash:    parentHash,
		FeeRecipient:  TestFeeRecipient,
		StateRoot:     ethcommon.HexToHash("0x01"),
		ReceiptsRoot:  ethcommon.HexToHash("0x02"),
		LogsBloom:     make([]byte, 256),
		Random:        TestPrevRandao,
		Number:        number,
		GasLimit:      30_000_000,
		GasUsed:       21_000,
		Timestamp:     1_700_000_000 + number*12,
		ExtraData:     []byte{},
		BaseFeePerGas: big.NewInt(7),
		BlockHash:     blockHash,
		Transactions:  [][]byte{{0x02, byte(number)}},
		Withdrawals:   []*types.Withdrawal{},
	}
}

// TestExecutionPayload wraps TestExecutableData with a declared block value in wei
func TestExecutionPayload(parentHash ethcommon.Hash, number, value uint64) *ExecutionPayload {
	return &ExecutionPayload{
		Payload:    TestExecutableData(parentHash, number),
		BlockValue: uint256.NewInt(value),
	}
}
