// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"context"

	"github.com/bucketsync/core/pkg/db"
)

// DeleteBucket marks bucket for deletion: it is renamed to a UUID
// sentinel and flagged pending_delete, so no new operation batch can
// address it, while its still-unapplied rows remain available to
// sync_local until DeletePendingBuckets reaps it.
func DeleteBucket(ctx context.Context, conn db.DB, logger Logger, bucket string) error {
	if logger == nil {
		logger = NewNoopLogger()
	}

	row := conn.QueryRowContext(ctx, "SELECT 1 FROM ps_buckets WHERE name = ?", bucket)
	var exists int
	if err := row.Scan(&exists); err != nil {
		return BucketDoesNotExistError{Bucket: bucket}
	}

	action := NewRenameBucketForDeletionAction(conn, bucket)
	if err := action.Execute(ctx); err != nil {
		return StorageError{Op: "delete_bucket", Err: err}
	}

	logger.LogBucketDeleted(bucket, action.Sentinel())
	return nil
}

// DeletePendingBuckets permanently removes buckets that were marked
// pending_delete and have no operations left to apply locally.
func DeletePendingBuckets(ctx context.Context, conn db.DB, logger Logger) error {
	if logger == nil {
		logger = NewNoopLogger()
	}

	countBefore, err := pendingBucketCount(ctx, conn)
	if err != nil {
		return StorageError{Op: "count_pending", Err: err}
	}

	if err := NewDeletePendingBucketsAction(conn).Execute(ctx); err != nil {
		return StorageError{Op: "delete_pending_buckets", Err: err}
	}

	countAfter, err := pendingBucketCount(ctx, conn)
	if err != nil {
		return StorageError{Op: "count_pending", Err: err}
	}

	if reaped := countBefore - countAfter; reaped > 0 {
		logger.LogBucketsReaped(reaped)
	}
	return nil
}

func pendingBucketCount(ctx context.Context, conn db.DB) (int, error) {
	row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ps_buckets WHERE pending_delete = 1")
	var count int
	err := row.Scan(&count)
	return count, err
}

// ClearRemoveOps garbage-collects REMOVE rows that have already been
// applied locally, across every active (non pending-delete) bucket.
// Each bucket may be committed independently of the others: a caller
// driving this from a long-running maintenance loop is free to run it
// one bucket per transaction rather than holding a single transaction
// open for every bucket in the store.
func ClearRemoveOps(ctx context.Context, conn db.DB, logger Logger) error {
	if logger == nil {
		logger = NewNoopLogger()
	}

	rows, err := conn.QueryContext(ctx, "SELECT name FROM ps_buckets WHERE pending_delete = 0")
	if err != nil {
		return StorageError{Op: "list_active_buckets", Err: err}
	}

	var buckets []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return StorageError{Op: "scan_bucket", Err: err}
		}
		buckets = append(buckets, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return StorageError{Op: "list_active_buckets", Err: err}
	}

	for _, bucket := range buckets {
		if err := ClearRemoveOpsForBucket(ctx, conn, logger, bucket); err != nil {
			return err
		}
	}

	return nil
}

// ActiveBucketNames returns every bucket not marked pending_delete, for
// callers that want to drive ClearRemoveOpsForBucket one transaction
// per bucket.
func ActiveBucketNames(ctx context.Context, conn db.DB) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "SELECT name FROM ps_buckets WHERE pending_delete = 0")
	if err != nil {
		return nil, StorageError{Op: "list_active_buckets", Err: err}
	}
	defer rows.Close()

	var buckets []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, StorageError{Op: "scan_bucket", Err: err}
		}
		buckets = append(buckets, name)
	}
	return buckets, rows.Err()
}

// ClearRemoveOpsForBucket garbage-collects applied REMOVE rows for a
// single bucket.
func ClearRemoveOpsForBucket(ctx context.Context, conn db.DB, logger Logger, bucket string) error {
	if logger == nil {
		logger = NewNoopLogger()
	}

	action := NewClearRemoveOpsAction(conn, bucket)
	count, err := action.ExecuteCounting(ctx)
	if err != nil {
		return StorageError{Op: "clear_remove_ops", Err: err}
	}
	if count > 0 {
		logger.LogRemoveOpsCleared(bucket, count)
	}
	return nil
}
