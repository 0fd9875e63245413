// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"context"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/bucketsync/core/pkg/db"
)

// DataTablePrefix is prepended to a row's object_type to name the table
// that holds its materialized local copy.
const DataTablePrefix = "ps_data__"

// UntypedTable holds materialized rows whose object_type has no
// corresponding ps_data_<type> table.
const UntypedTable = "ps_untyped"

// dataTableName returns the internal table name for a given object
// type, quoted as an ANSI-SQL identifier.
func dataTableName(objectType string) string {
	return pq.QuoteIdentifier(DataTablePrefix + objectType)
}

// quoteLiteral quotes a SQL string literal. The escaping rules
// (doubling embedded quote characters) are identical between Postgres
// and SQLite, so the same ANSI-SQL helper serves both.
func quoteLiteral(s string) string {
	return pq.QuoteLiteral(s)
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS ps_buckets (
	name TEXT PRIMARY KEY,
	last_applied_op INTEGER NOT NULL DEFAULT 0,
	last_op INTEGER NOT NULL DEFAULT 0,
	target_op INTEGER NOT NULL DEFAULT 0,
	add_checksum INTEGER NOT NULL DEFAULT 0,
	pending_delete INTEGER NOT NULL DEFAULT 0,
	count_at_last INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ps_oplog (
	bucket TEXT NOT NULL,
	op_id INTEGER NOT NULL,
	op INTEGER NOT NULL,
	row_type TEXT,
	row_id TEXT,
	key TEXT,
	data TEXT,
	hash INTEGER NOT NULL,
	superseded INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (bucket, op_id)
);

CREATE INDEX IF NOT EXISTS ps_oplog_row_idx ON ps_oplog (row_type, row_id);
CREATE INDEX IF NOT EXISTS ps_oplog_key_idx ON ps_oplog (bucket, key);
CREATE INDEX IF NOT EXISTS ps_oplog_superseded_idx ON ps_oplog (bucket, superseded);

CREATE TABLE IF NOT EXISTS ps_untyped (
	type TEXT NOT NULL,
	id TEXT NOT NULL,
	data TEXT NOT NULL,
	PRIMARY KEY (type, id)
);

CREATE TABLE IF NOT EXISTS ps_crud (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	data TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ps_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// CreateSchema creates the engine's internal tables if they do not
// already exist. It is idempotent and safe to call on every startup.
func CreateSchema(ctx context.Context, conn db.DB) error {
	for _, stmt := range strings.Split(schemaDDL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating internal schema: %w", err)
		}
	}
	return nil
}

// EnsureDataTable creates the ps_data_<type> table for objectType if it
// does not exist yet. Rows are stored as an opaque JSON blob alongside
// their id, the same shallow shape the original sync_local materializer
// writes into typed tables.
func EnsureDataTable(ctx context.Context, conn db.DB, objectType string) error {
	stmt := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, data TEXT)",
		dataTableName(objectType),
	)
	_, err := conn.ExecContext(ctx, stmt)
	return err
}
