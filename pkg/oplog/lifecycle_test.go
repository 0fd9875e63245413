// SPDX-License-Identifier: Apache-2.0

package oplog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketsync/core/pkg/db"
	"github.com/bucketsync/core/pkg/oplog"
	"github.com/bucketsync/core/pkg/testutils"
)

func TestDeleteBucketRenamesAndMarksPendingDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "bucket-a", []oplog.RawOp{
			{OpID: 1, Op: "PUT", ObjectType: "todos", ObjectID: "1", Checksum: 1, Data: []byte(`{}`)},
		}))

		require.NoError(t, oplog.DeleteBucket(ctx, conn, nil, "bucket-a"))

		var count int
		row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ps_buckets WHERE name = 'bucket-a'")
		require.NoError(t, row.Scan(&count))
		assert.Zero(t, count, "the original name no longer resolves to a bucket row")

		row = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ps_buckets WHERE pending_delete = 1")
		require.NoError(t, row.Scan(&count))
		assert.Equal(t, 1, count)
	})
}

func TestDeleteBucketUnknownBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		err := oplog.DeleteBucket(ctx, conn, nil, "does-not-exist")
		require.Error(t, err)
		assert.IsType(t, oplog.BucketDoesNotExistError{}, err)
	})
}

func TestDeletePendingBucketsReapsOnlyFullyAppliedBuckets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "bucket-a", []oplog.RawOp{
			{OpID: 1, Op: "PUT", ObjectType: "todos", ObjectID: "1", Checksum: 1, Data: []byte(`{}`)},
		}))
		require.NoError(t, oplog.DeleteBucket(ctx, conn, nil, "bucket-a"))

		// last_applied_op is still 0 < last_op, so the bucket is not
		// eligible for reaping yet.
		require.NoError(t, oplog.DeletePendingBuckets(ctx, conn, nil))

		var count int
		row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ps_buckets WHERE pending_delete = 1")
		require.NoError(t, row.Scan(&count))
		assert.Equal(t, 1, count, "not yet fully applied, so not reaped")

		_, err := conn.ExecContext(ctx, "UPDATE ps_buckets SET last_applied_op = last_op WHERE pending_delete = 1")
		require.NoError(t, err)

		require.NoError(t, oplog.DeletePendingBuckets(ctx, conn, nil))

		row = conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ps_buckets WHERE pending_delete = 1")
		require.NoError(t, row.Scan(&count))
		assert.Zero(t, count, "fully applied pending-delete bucket is reaped")
	})
}

func TestClearRemoveOpsForBucketDeletesAppliedRemoves(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "bucket-a", []oplog.RawOp{
			{OpID: 1, Op: "REMOVE", ObjectType: "todos", ObjectID: "1", Checksum: 3},
		}))
		_, err := conn.ExecContext(ctx, "UPDATE ps_buckets SET last_applied_op = last_op WHERE name = 'bucket-a'")
		require.NoError(t, err)

		require.NoError(t, oplog.ClearRemoveOpsForBucket(ctx, conn, nil, "bucket-a"))

		var count int
		row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ps_oplog WHERE bucket = 'bucket-a'")
		require.NoError(t, row.Scan(&count))
		assert.Zero(t, count)

		var checksum int
		row = conn.QueryRowContext(ctx, "SELECT add_checksum FROM ps_buckets WHERE name = 'bucket-a'")
		require.NoError(t, row.Scan(&checksum))
		assert.Equal(t, 3, checksum)
	})
}
