package migrations

import (
	"github.com/flashbots/execution-bridge/database/vars"
	migrate "github.com/rubenv/sql-migrate"
)

var Migration002DecisionBlockHashIndex = &migrate.Migration{
	Id: "002-decision-block-hash-index",
	Up: []string{`
		CREATE INDEX CONCURRENTLY IF NOT EXISTS ` + vars.TableProposalDecision + `_blockhash_idx ON ` + vars.TableProposalDecision + `("block_hash");
	`},
	Down: []string{},

	DisableTransactionUp:   true, // cannot create index concurrently inside a transaction
	DisableTransactionDown: true,
}
