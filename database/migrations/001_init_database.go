package migrations

import (
	"github.com/flashbots/execution-bridge/database/vars"
	migrate "github.com/rubenv/sql-migrate"
)

var Migration001InitDatabase = &migrate.Migration{
	Id: "001-init-database",
	Up: []string{`
		CREATE TABLE IF NOT EXISTS ` + vars.TableProposalDecision + ` (
			id          bigserial PRIMARY KEY,
			inserted_at timestamp NOT NULL default current_timestamp,

			slot           bigint NOT NULL,
			source         varchar(16) NOT NULL,
			reason         text NOT NULL,
			parent_hash    varchar(66) NOT NULL,
			block_hash     varchar(66) NOT NULL,
			content_hash   varchar(66) NOT NULL,
			local_value    NUMERIC(48, 0),
			builder_value  NUMERIC(48, 0),
			builder_pubkey varchar(98) NOT NULL,
			engine         text NOT NULL,
			duration_ms    bigint NOT NULL
		);

		CREATE INDEX IF NOT EXISTS ` + vars.TableProposalDecision + `_slot_idx ON ` + vars.TableProposalDecision + `("slot");
	`},
	Down: []string{`
		DROP TABLE IF EXISTS ` + vars.TableProposalDecision + `;
	`},
}
