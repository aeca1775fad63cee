// Package database exposes the postgres database
package database

import (
	"github.com/flashbots/execution-bridge/database/migrations"
	"github.com/flashbots/execution-bridge/database/vars"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
)

type IDatabaseService interface {
	SaveProposalDecision(entry *ProposalDecisionEntry) error
	GetRecentDecisions(limit uint64) ([]*ProposalDecisionEntry, error)
	GetNumDecisions() (uint64, error)
	Close() error
}

type DatabaseService struct {
	DB *sqlx.DB
}

func NewDatabaseService(dsn string) (*DatabaseService, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.DB.SetMaxOpenConns(10)
	db.DB.SetMaxIdleConns(4)
	db.DB.SetConnMaxIdleTime(0)

	migrate.SetTable(vars.TableMigrations)
	_, err = migrate.Exec(db.DB, "postgres", migrations.Migrations, migrate.Up)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DatabaseService{
		DB: db,
	}, nil
}

func (s *DatabaseService) Close() error {
	return s.DB.Close()
}

func (s *DatabaseService) SaveProposalDecision(entry *ProposalDecisionEntry) error {
	query := `INSERT INTO ` + vars.TableProposalDecision + `
		(slot, source, reason, parent_hash, block_hash, content_hash, local_value, builder_value, builder_pubkey, engine, duration_ms)
	VALUES
		(:slot, :source, :reason, :parent_hash, :block_hash, :content_hash, CAST(NULLIF(:local_value, '') AS numeric), CAST(NULLIF(:builder_value, '') AS numeric), :builder_pubkey, :engine, :duration_ms)`
	_, err := s.DB.NamedExec(query, entry)
	return err
}

func (s *DatabaseService) GetRecentDecisions(limit uint64) ([]*ProposalDecisionEntry, error) {
	entries := []*ProposalDecisionEntry{}
	fields := `id, inserted_at, slot, source, reason, parent_hash, block_hash, content_hash,
		COALESCE(CAST(local_value AS text), '') AS local_value, COALESCE(CAST(builder_value AS text), '') AS builder_value,
		builder_pubkey, engine, duration_ms`

	nstmt, err := s.DB.PrepareNamed(`SELECT ` + fields + ` FROM ` + vars.TableProposalDecision + ` ORDER BY id DESC LIMIT :limit`)
	if err != nil {
		return nil, err
	}
	defer nstmt.Close()

	err = nstmt.Select(&entries, map[string]interface{}{"limit": limit})
	return entries, err
}

func (s *DatabaseService) GetNumDecisions() (uint64, error) {
	var count uint64
	err := s.DB.QueryRow("SELECT COUNT(*) FROM " + vars.TableProposalDecision).Scan(&count)
	return count, err
}
