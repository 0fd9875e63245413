// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bucketsync/core/pkg/db"
)

// DBAction is a single parameterized SQL statement run against the
// embedded store, composed into higher-level oplog operations.
type DBAction interface {
	ID() string
	Execute(context.Context) error
}

// ensureBucketAction inserts a ps_buckets row for name if one does not
// already exist, leaving an existing row untouched.
type ensureBucketAction struct {
	conn db.DB
	name string
}

func NewEnsureBucketAction(conn db.DB, name string) *ensureBucketAction {
	return &ensureBucketAction{conn: conn, name: name}
}

func (a *ensureBucketAction) ID() string { return "ensure_bucket_" + a.name }

func (a *ensureBucketAction) Execute(ctx context.Context) error {
	_, err := a.conn.ExecContext(ctx,
		"INSERT INTO ps_buckets (name) VALUES (?) ON CONFLICT (name) DO NOTHING",
		a.name,
	)
	return err
}

// supersedeAction marks any live oplog row sharing (bucket, key) as
// superseded, rewriting it to a zero-payload REMOVE. The row keeps its
// hash; compactSupersededRows later folds that hash into add_checksum
// and deletes the row.
type supersedeAction struct {
	conn   db.DB
	bucket string
	key    string
}

func NewSupersedeAction(conn db.DB, bucket, key string) *supersedeAction {
	return &supersedeAction{conn: conn, bucket: bucket, key: key}
}

func (a *supersedeAction) ID() string { return "supersede_" + a.bucket + "_" + a.key }

func (a *supersedeAction) Execute(ctx context.Context) error {
	_, err := a.conn.ExecContext(ctx,
		`UPDATE ps_oplog
		 SET superseded = 1, op = ?, data = NULL
		 WHERE bucket = ? AND key = ? AND superseded = 0`,
		int(OpRemove), a.bucket, a.key,
	)
	return err
}

// insertOpAction writes one operation row into ps_oplog.
type insertOpAction struct {
	conn    db.DB
	bucket  string
	opID    int64
	kind    OpKind
	key     *string
	rowType *string
	rowID   *string
	data    []byte
	hash    int32
}

func NewInsertOpAction(conn db.DB, bucket string, opID int64, kind OpKind, key, rowType, rowID *string, data []byte, hash int32) *insertOpAction {
	return &insertOpAction{conn: conn, bucket: bucket, opID: opID, kind: kind, key: key, rowType: rowType, rowID: rowID, data: data, hash: hash}
}

func (a *insertOpAction) ID() string {
	return fmt.Sprintf("insert_op_%s_%d", a.bucket, a.opID)
}

func (a *insertOpAction) Execute(ctx context.Context) error {
	_, err := a.conn.ExecContext(ctx,
		`INSERT INTO ps_oplog (bucket, op_id, op, key, row_type, row_id, data, hash, superseded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		a.bucket, a.opID, int(a.kind), a.key, a.rowType, a.rowID, a.data, a.hash,
	)
	return err
}

// bumpTargetOpAction raises a bucket's target_op, as issued by a MOVE.
type bumpTargetOpAction struct {
	conn   db.DB
	bucket string
	target int64
}

func NewBumpTargetOpAction(conn db.DB, bucket string, target int64) *bumpTargetOpAction {
	return &bumpTargetOpAction{conn: conn, bucket: bucket, target: target}
}

func (a *bumpTargetOpAction) ID() string { return "bump_target_" + a.bucket }

func (a *bumpTargetOpAction) Execute(ctx context.Context) error {
	_, err := a.conn.ExecContext(ctx,
		"UPDATE ps_buckets SET target_op = MAX(target_op, ?) WHERE name = ?",
		a.target, a.bucket,
	)
	return err
}

// setLastOpAction records the highest op_id applied to a bucket in
// this ingestion batch.
type setLastOpAction struct {
	conn   db.DB
	bucket string
	opID   int64
}

func NewSetLastOpAction(conn db.DB, bucket string, opID int64) *setLastOpAction {
	return &setLastOpAction{conn: conn, bucket: bucket, opID: opID}
}

func (a *setLastOpAction) ID() string { return "set_last_op_" + a.bucket }

func (a *setLastOpAction) Execute(ctx context.Context) error {
	_, err := a.conn.ExecContext(ctx,
		"UPDATE ps_buckets SET last_op = MAX(last_op, ?) WHERE name = ?",
		a.opID, a.bucket,
	)
	return err
}

// addChecksumAction folds a delta into a bucket's running checksum.
type addChecksumAction struct {
	conn   db.DB
	bucket string
	delta  int32
}

func NewAddChecksumAction(conn db.DB, bucket string, delta int32) *addChecksumAction {
	return &addChecksumAction{conn: conn, bucket: bucket, delta: delta}
}

func (a *addChecksumAction) ID() string { return "add_checksum_" + a.bucket }

func (a *addChecksumAction) Execute(ctx context.Context) error {
	_, err := a.conn.ExecContext(ctx,
		"UPDATE ps_buckets SET add_checksum = add_checksum + ? WHERE name = ?",
		a.delta, a.bucket,
	)
	return err
}

// clearBucketAction implements a CLEAR operation: every PUT/REMOVE row
// in the bucket is rewritten to a zero-payload REMOVE, last_applied_op
// resets to zero so the next sync_local pass re-derives the bucket's
// rows from scratch, and add_checksum is reset to the CLEAR op's own
// hash (the new baseline for the bucket going forward). The rewritten
// rows are left live (superseded = 0): they must survive this batch's
// compaction pass so the next sync_local still sees a REMOVE for every
// key the bucket previously held and deletes the corresponding local
// row.
type clearBucketAction struct {
	conn   db.DB
	bucket string
	hash   int32
}

func NewClearBucketAction(conn db.DB, bucket string, hash int32) *clearBucketAction {
	return &clearBucketAction{conn: conn, bucket: bucket, hash: hash}
}

func (a *clearBucketAction) ID() string { return "clear_" + a.bucket }

func (a *clearBucketAction) Execute(ctx context.Context) error {
	if _, err := a.conn.ExecContext(ctx,
		`UPDATE ps_oplog SET op = ?, data = NULL, hash = 0
		 WHERE bucket = ? AND op IN (?, ?)`,
		int(OpRemove), a.bucket, int(OpPut), int(OpRemove),
	); err != nil {
		return err
	}

	_, err := a.conn.ExecContext(ctx,
		"UPDATE ps_buckets SET last_applied_op = 0, add_checksum = ? WHERE name = ?",
		a.hash, a.bucket,
	)
	return err
}

// compactBucketAction deletes superseded rows from a bucket's oplog,
// reclaiming space for keys that have since been overwritten or
// removed. It does not touch add_checksum: compactSupersededRows folds
// the superseded rows' hashes into add_checksum before running it.
type compactBucketAction struct {
	conn   db.DB
	bucket string
}

func NewCompactBucketAction(conn db.DB, bucket string) *compactBucketAction {
	return &compactBucketAction{conn: conn, bucket: bucket}
}

func (a *compactBucketAction) ID() string { return "compact_" + a.bucket }

func (a *compactBucketAction) Execute(ctx context.Context) error {
	_, err := a.conn.ExecContext(ctx,
		"DELETE FROM ps_oplog WHERE bucket = ? AND superseded = 1",
		a.bucket,
	)
	return err
}

// renameBucketForDeletionAction renames a bucket to a UUID sentinel so
// new operations never land in a bucket that is on its way out, and
// marks it pending_delete so DeletePendingBuckets can reap it once
// every queued op has been applied locally.
type renameBucketForDeletionAction struct {
	conn     db.DB
	bucket   string
	sentinel string
}

func NewRenameBucketForDeletionAction(conn db.DB, bucket string) *renameBucketForDeletionAction {
	return &renameBucketForDeletionAction{conn: conn, bucket: bucket, sentinel: uuid.NewString()}
}

func (a *renameBucketForDeletionAction) ID() string { return "rename_for_delete_" + a.bucket }

func (a *renameBucketForDeletionAction) Sentinel() string { return a.sentinel }

func (a *renameBucketForDeletionAction) Execute(ctx context.Context) error {
	if _, err := a.conn.ExecContext(ctx,
		"UPDATE ps_oplog SET bucket = ? WHERE bucket = ?",
		a.sentinel, a.bucket,
	); err != nil {
		return err
	}

	_, err := a.conn.ExecContext(ctx,
		"UPDATE ps_buckets SET name = ?, pending_delete = 1 WHERE name = ?",
		a.sentinel, a.bucket,
	)
	return err
}

// deletePendingBucketsAction permanently removes buckets marked
// pending_delete once they have no operations left to apply locally.
type deletePendingBucketsAction struct {
	conn db.DB
}

func NewDeletePendingBucketsAction(conn db.DB) *deletePendingBucketsAction {
	return &deletePendingBucketsAction{conn: conn}
}

func (a *deletePendingBucketsAction) ID() string { return "delete_pending_buckets" }

func (a *deletePendingBucketsAction) Execute(ctx context.Context) error {
	rows, err := a.conn.QueryContext(ctx,
		`SELECT name FROM ps_buckets
		 WHERE pending_delete = 1 AND last_applied_op = last_op AND last_op >= target_op`,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, name := range names {
		if _, err := a.conn.ExecContext(ctx, "DELETE FROM ps_oplog WHERE bucket = ?", name); err != nil {
			return err
		}
		if _, err := a.conn.ExecContext(ctx, "DELETE FROM ps_buckets WHERE name = ?", name); err != nil {
			return err
		}
	}
	return nil
}

// clearRemoveOpsAction deletes REMOVE rows that have already been
// applied locally (op_id <= last_applied_op) and are no longer needed
// to answer "has this key been removed" for any not-yet-applied
// operation, folding their checksum into add_checksum first.
type clearRemoveOpsAction struct {
	conn   db.DB
	bucket string
}

func NewClearRemoveOpsAction(conn db.DB, bucket string) *clearRemoveOpsAction {
	return &clearRemoveOpsAction{conn: conn, bucket: bucket}
}

func (a *clearRemoveOpsAction) ID() string { return "clear_remove_ops_" + a.bucket }

// ExecuteCounting runs the action and returns the number of rows
// removed, for logging.
func (a *clearRemoveOpsAction) ExecuteCounting(ctx context.Context) (int, error) {
	row := a.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(hash), 0), COUNT(*) FROM ps_oplog
		 WHERE bucket = ? AND op = ? AND op_id <= (SELECT last_applied_op FROM ps_buckets WHERE name = ?)`,
		a.bucket, int(OpRemove), a.bucket,
	)

	var sum int64
	var count int
	if err := row.Scan(&sum, &count); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	if _, err := a.conn.ExecContext(ctx,
		"UPDATE ps_buckets SET add_checksum = add_checksum + ? WHERE name = ?",
		int32(sum), a.bucket,
	); err != nil {
		return 0, err
	}

	if _, err := a.conn.ExecContext(ctx,
		`DELETE FROM ps_oplog
		 WHERE bucket = ? AND op = ? AND op_id <= (SELECT last_applied_op FROM ps_buckets WHERE name = ?)`,
		a.bucket, int(OpRemove), a.bucket,
	); err != nil {
		return 0, err
	}

	return count, nil
}

func (a *clearRemoveOpsAction) Execute(ctx context.Context) error {
	_, err := a.ExecuteCounting(ctx)
	return err
}

// quoteIdent exposes ANSI-SQL identifier quoting for callers outside
// this file that build raw SQL for the dynamic ps_data_<type> tables.
func quoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}
