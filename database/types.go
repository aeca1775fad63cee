package database

import (
	"time"
)

// ProposalDecisionEntry records which payload was handed out for a slot and why.
// Values are in wei, empty if that side had no candidate.
type ProposalDecisionEntry struct {
	ID         uint64    `db:"id"          json:"id,string"`
	InsertedAt time.Time `db:"inserted_at" json:"inserted_at"`

	Slot        uint64 `db:"slot"         json:"slot,string"`
	Source      string `db:"source"       json:"source"`
	Reason      string `db:"reason"       json:"reason"`
	ParentHash  string `db:"parent_hash"  json:"parent_hash"`
	BlockHash   string `db:"block_hash"   json:"block_hash"`
	ContentHash string `db:"content_hash" json:"content_hash,omitempty"`

	LocalValue    string `db:"local_value"    json:"local_value,omitempty"`
	BuilderValue  string `db:"builder_value"  json:"builder_value,omitempty"`
	BuilderPubkey string `db:"builder_pubkey" json:"builder_pubkey,omitempty"`

	Engine     string `db:"engine"      json:"engine,omitempty"`
	DurationMs uint64 `db:"duration_ms" json:"duration_ms,string"`
}
