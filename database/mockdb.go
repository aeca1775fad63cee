package database

import (
	"sync"
	"time"
)

// MockDB keeps decisions in memory. It backs tests and runs without a postgres DSN.
type MockDB struct {
	mu        sync.Mutex
	decisions []*ProposalDecisionEntry

	MockErr error
}

func (db *MockDB) SaveProposalDecision(entry *ProposalDecisionEntry) error {
	if db.MockErr != nil {
		return db.MockErr
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	stored := *entry
	stored.ID = uint64(len(db.decisions)) + 1
	stored.InsertedAt = time.Now().UTC()
	db.decisions = append(db.decisions, &stored)
	return nil
}

func (db *MockDB) GetRecentDecisions(limit uint64) ([]*ProposalDecisionEntry, error) {
	if db.MockErr != nil {
		return nil, db.MockErr
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	entries := []*ProposalDecisionEntry{}
	for i := len(db.decisions) - 1; i >= 0 && uint64(len(entries)) < limit; i-- {
		entry := *db.decisions[i]
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (db *MockDB) GetNumDecisions() (uint64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return uint64(len(db.decisions)), nil
}

func (db *MockDB) Close() error {
	return nil
}
