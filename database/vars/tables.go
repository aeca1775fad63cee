// Package vars contains the database variables such as dynamic table names
package vars

import "github.com/flashbots/execution-bridge/common"

var (
	tableBase = common.GetEnv("DB_TABLE_PREFIX", "dev")

	TableMigrations       = tableBase + "_migrations"
	TableProposalDecision = tableBase + "_proposal_decision"
)
