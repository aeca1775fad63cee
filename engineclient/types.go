package engineclient

import (
	"github.com/ethereum/go-ethereum/beacon/engine"
	"github.com/ethereum/go-ethereum/common"
)

const (
	MethodNewPayloadV2        = "engine_newPayloadV2"
	MethodNewPayloadV3        = "engine_newPayloadV3"
	MethodForkchoiceUpdatedV2 = "engine_forkchoiceUpdatedV2"
	MethodForkchoiceUpdatedV3 = "engine_forkchoiceUpdatedV3"
	MethodGetPayloadV2        = "engine_getPayloadV2"
	MethodGetPayloadV3        = "engine_getPayloadV3"
	MethodSyncing             = "eth_syncing"

	// older engines may still answer INVALID_BLOCK_HASH, it is treated as INVALID
	statusInvalidBlockHash = "INVALID_BLOCK_HASH"
)

// PayloadStatus is the verdict of an engine on a payload or a forkchoice head
type PayloadStatus string

const (
	PayloadStatusValid    PayloadStatus = "VALID"
	PayloadStatusInvalid  PayloadStatus = "INVALID"
	PayloadStatusSyncing  PayloadStatus = "SYNCING"
	PayloadStatusAccepted PayloadStatus = "ACCEPTED"
)

// PayloadVerdict is a normalised engine payload status
type PayloadVerdict struct {
	Status          PayloadStatus `json:"status"`
	LatestValidHash *common.Hash  `json:"latest_valid_hash,omitempty"`
	ValidationError string        `json:"validation_error,omitempty"`
}

// IsDefinitive is true for verdicts that settle the validity of a payload
func (v PayloadVerdict) IsDefinitive() bool {
	return v.Status == PayloadStatusValid || v.Status == PayloadStatusInvalid
}

func newPayloadVerdict(s engine.PayloadStatusV1) (PayloadVerdict, error) {
	verdict := PayloadVerdict{LatestValidHash: s.LatestValidHash}
	if s.ValidationError != nil {
		verdict.ValidationError = *s.ValidationError
	}

	switch s.Status {
	case engine.VALID:
		verdict.Status = PayloadStatusValid
	case engine.INVALID, statusInvalidBlockHash:
		verdict.Status = PayloadStatusInvalid
	case engine.SYNCING:
		verdict.Status = PayloadStatusSyncing
	case engine.ACCEPTED:
		verdict.Status = PayloadStatusAccepted
	default:
		return verdict, ErrUnknownPayloadStatus
	}
	return verdict, nil
}

// NewPayloadRequest is a payload submitted for validation. ParentBeaconBlockRoot selects engine_newPayloadV3.
type NewPayloadRequest struct {
	Payload               *engine.ExecutableData
	VersionedHashes       []common.Hash
	ParentBeaconBlockRoot *common.Hash
}

func (r *NewPayloadRequest) method() (string, []interface{}) {
	if r.ParentBeaconBlockRoot != nil {
		hashes := r.VersionedHashes
		if hashes == nil {
			hashes = []common.Hash{}
		}
		return MethodNewPayloadV3, []interface{}{r.Payload, hashes, r.ParentBeaconBlockRoot}
	}
	return MethodNewPayloadV2, []interface{}{r.Payload}
}

// ForkchoiceNotification is a new view of the chain head. Attributes, if present, request payload construction.
type ForkchoiceNotification struct {
	State      engine.ForkchoiceStateV1
	Attributes *engine.PayloadAttributes
}

func (n *ForkchoiceNotification) payloadVersion() int {
	if n.Attributes != nil && n.Attributes.BeaconRoot != nil {
		return 3
	}
	return 2
}

func (n *ForkchoiceNotification) method() string {
	if n.payloadVersion() == 3 {
		return MethodForkchoiceUpdatedV3
	}
	return MethodForkchoiceUpdatedV2
}

// ForkchoiceResult is the answer to a forkchoice notification. Binding is set when the
// engine started building a payload.
type ForkchoiceResult struct {
	Verdict PayloadVerdict
	Binding *PayloadBinding
}

// PayloadBinding ties a payload id to the engine that issued it. It can only be
// redeemed against that engine, which makes misrouting getPayload impossible.
type PayloadBinding struct {
	handle  *EngineHandle
	id      engine.PayloadID
	version int
}

func (b *PayloadBinding) PayloadID() engine.PayloadID {
	return b.id
}

func (b *PayloadBinding) EngineName() string {
	return b.handle.Name()
}

func (b *PayloadBinding) method() string {
	if b.version == 3 {
		return MethodGetPayloadV3
	}
	return MethodGetPayloadV2
}

// EngineInfo is a snapshot of an engine's state for reporting
type EngineInfo struct {
	Name        string       `json:"name"`
	Status      EngineStatus `json:"status"`
	LastSuccess int64        `json:"last_success_ms,omitempty"`
	LastError   string       `json:"last_error,omitempty"`
}
