// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/bucketsync/core/pkg/db"
)

// localBucketName is the sentinel bucket whose rows are always
// considered "caught up" for the purposes of CanUpdateLocal, even
// while it carries a target_op ahead of last_op.
const localBucketName = "$local"

// CanUpdateLocal reports whether it is safe to run SyncLocal: the CRUD
// upload queue must be empty, and no active, non-$local bucket may be
// behind its own target_op.
func CanUpdateLocal(ctx context.Context, conn db.DB) (bool, error) {
	var crudCount int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ps_crud").Scan(&crudCount); err != nil {
		return false, StorageError{Op: "count_crud", Err: err}
	}
	if crudCount > 0 {
		return false, nil
	}

	var behind int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ps_buckets
		 WHERE target_op > last_op AND name != ? AND pending_delete = 0`,
		localBucketName,
	).Scan(&behind)
	if err != nil {
		return false, StorageError{Op: "count_behind_buckets", Err: err}
	}

	return behind == 0, nil
}

// SyncLocal folds every bucket's applied operations into the typed
// ps_data_<type> (or ps_untyped) tables, replacing or deleting each row
// according to whether any live PUT for its key remains across all
// buckets. It is a caller error to invoke SyncLocal when
// CanUpdateLocal would return false; SyncLocal does not re-check it.
//
// SyncLocal never creates a ps_data_<type> table itself: a row_type is
// only materialized into its typed table if that table already exists
// (created ahead of time via EnsureDataTable, typically when the host
// registers its schema); every other row_type falls back to
// ps_untyped.
func SyncLocal(ctx context.Context, conn db.DB, clock clockwork.Clock, logger Logger) error {
	if logger == nil {
		logger = NewNoopLogger()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	typedRowTypes, err := existingDataTableRowTypes(ctx, conn)
	if err != nil {
		return err
	}

	for _, rowType := range typedRowTypes {
		if err := materializeRowType(ctx, conn, rowType); err != nil {
			return err
		}
	}

	if err := materializeUntyped(ctx, conn, typedRowTypes); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "UPDATE ps_buckets SET last_applied_op = last_op"); err != nil {
		return StorageError{Op: "touch_last_applied", Err: err}
	}

	if _, err := conn.ExecContext(ctx,
		"INSERT INTO ps_kv (key, value) VALUES ('last_synced_at', ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value",
		clock.Now().UTC().Format("2006-01-02 15:04:05"),
	); err != nil {
		return StorageError{Op: "record_last_synced_at", Err: err}
	}

	logger.LogSyncLocal(true, "applied")
	return nil
}

// existingDataTableRowTypes returns the row_type for every ps_data_<type>
// table that already exists, i.e. the set of row_types this pass may
// materialize into a typed table rather than falling back to
// ps_untyped. It does not consult ps_oplog: a table that exists but
// currently has no matching rows is simply a no-op for
// materializeRowType.
func existingDataTableRowTypes(ctx context.Context, conn db.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx,
		"SELECT substr(name, ?) FROM sqlite_master WHERE type = 'table' AND name LIKE ?",
		len(DataTablePrefix)+1, DataTablePrefix+"%",
	)
	if err != nil {
		return nil, StorageError{Op: "list_data_tables", Err: err}
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, StorageError{Op: "scan_data_table", Err: err}
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// materializeRowType folds every row_id of a given row_type across all
// buckets: if any live (non-superseded, op=PUT) row for that key
// remains, its most recent data replaces the local copy; otherwise the
// local copy is deleted.
func materializeRowType(ctx context.Context, conn db.DB, rowType string) error {
	rows, err := conn.QueryContext(ctx,
		`SELECT row_id,
		        MAX(CASE WHEN op = ? THEN op_id END) AS put_op_id
		 FROM ps_oplog
		 WHERE row_type = ? AND op_id <= (SELECT MAX(last_op) FROM ps_buckets)
		 GROUP BY row_id`,
		int(OpPut), rowType,
	)
	if err != nil {
		return StorageError{Op: "group_row_ids", Err: err}
	}

	type pending struct {
		rowID   string
		putOpID sql.NullInt64
	}
	var items []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.rowID, &p.putOpID); err != nil {
			rows.Close()
			return StorageError{Op: "scan_group", Err: err}
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return StorageError{Op: "group_row_ids", Err: err}
	}

	table := dataTableName(rowType)

	for _, item := range items {
		if !item.putOpID.Valid {
			if _, err := conn.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), item.rowID); err != nil {
				return StorageError{Op: "delete_data_row", Err: err}
			}
			continue
		}

		var data []byte
		err := conn.QueryRowContext(ctx,
			"SELECT data FROM ps_oplog WHERE row_type = ? AND row_id = ? AND op_id = ? AND op = ?",
			rowType, item.rowID, item.putOpID.Int64, int(OpPut),
		).Scan(&data)
		if err != nil {
			return StorageError{Op: "read_put_data", Err: err}
		}

		if _, err := conn.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?) ON CONFLICT (id) DO UPDATE SET data = excluded.data", table),
			item.rowID, data,
		); err != nil {
			return StorageError{Op: "upsert_data_row", Err: err}
		}
	}

	return nil
}

// materializeUntyped performs the same fold as materializeRowType for
// oplog rows whose row_type does not correspond to any existing
// ps_data_<type> table, landing them in ps_untyped keyed by (type, id).
func materializeUntyped(ctx context.Context, conn db.DB, typedRowTypes []string) error {
	typed := make(map[string]bool, len(typedRowTypes))
	for _, t := range typedRowTypes {
		typed[t] = true
	}

	rows, err := conn.QueryContext(ctx,
		`SELECT row_type, row_id,
		        MAX(CASE WHEN op = ? THEN op_id END) AS put_op_id
		 FROM ps_oplog
		 WHERE row_type IS NOT NULL
		 GROUP BY row_type, row_id`,
		int(OpPut),
	)
	if err != nil {
		return StorageError{Op: "group_untyped_rows", Err: err}
	}

	type pending struct {
		rowType string
		rowID   string
		putOpID sql.NullInt64
	}
	var items []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.rowType, &p.rowID, &p.putOpID); err != nil {
			rows.Close()
			return StorageError{Op: "scan_untyped_group", Err: err}
		}
		if typed[p.rowType] {
			continue
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return StorageError{Op: "group_untyped_rows", Err: err}
	}

	for _, item := range items {
		if !item.putOpID.Valid {
			if _, err := conn.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE type = ? AND id = ?", UntypedTable),
				item.rowType, item.rowID,
			); err != nil {
				return StorageError{Op: "delete_untyped_row", Err: err}
			}
			continue
		}

		var data []byte
		err := conn.QueryRowContext(ctx,
			"SELECT data FROM ps_oplog WHERE row_type = ? AND row_id = ? AND op_id = ? AND op = ?",
			item.rowType, item.rowID, item.putOpID.Int64, int(OpPut),
		).Scan(&data)
		if err != nil {
			return StorageError{Op: "read_untyped_put_data", Err: err}
		}

		if _, err := conn.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (type, id, data) VALUES (?, ?, ?) ON CONFLICT (type, id) DO UPDATE SET data = excluded.data", UntypedTable),
			item.rowType, item.rowID, data,
		); err != nil {
			return StorageError{Op: "upsert_untyped_row", Err: err}
		}
	}

	return nil
}
