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

func TestCanUpdateLocalFalseWhenCrudQueueNonEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		_, err := conn.ExecContext(ctx, "INSERT INTO ps_crud (data) VALUES ('{}')")
		require.NoError(t, err)

		ok, err := oplog.CanUpdateLocal(ctx, conn)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCanUpdateLocalFalseWhenBucketBehindTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "bucket-a", []oplog.RawOp{
			{OpID: 1, Op: "MOVE", Data: []byte(`{"target":"5"}`)},
		}))

		ok, err := oplog.CanUpdateLocal(ctx, conn)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestCanUpdateLocalIgnoresLocalBucketTarget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "$local", []oplog.RawOp{
			{OpID: 1, Op: "MOVE", Data: []byte(`{"target":"5"}`)},
		}))

		ok, err := oplog.CanUpdateLocal(ctx, conn)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestSyncLocalMaterializesLiveRowAcrossBuckets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.EnsureDataTable(ctx, conn, "todos"))

		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "bucket-a", []oplog.RawOp{
			{OpID: 1, Op: "PUT", ObjectType: "todos", ObjectID: "1", Checksum: 1, Data: []byte(`{"title":"from-a"}`)},
		}))
		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "bucket-b", []oplog.RawOp{
			{OpID: 1, Op: "REMOVE", ObjectType: "todos", ObjectID: "1", Checksum: 1},
		}))

		require.NoError(t, oplog.SyncLocal(ctx, conn, nil, nil))

		var data string
		row := conn.QueryRowContext(ctx, `SELECT data FROM "ps_data__todos" WHERE id = ?`, "1")
		require.NoError(t, row.Scan(&data))
		assert.JSONEq(t, `{"title":"from-a"}`, data, "a live PUT in bucket-a keeps the row visible despite bucket-b removing it")
	})
}

func TestSyncLocalDeletesRowWithNoLivePut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.EnsureDataTable(ctx, conn, "todos"))

		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "bucket-a", []oplog.RawOp{
			{OpID: 1, Op: "PUT", ObjectType: "todos", ObjectID: "1", Checksum: 1, Data: []byte(`{"title":"a"}`)},
			{OpID: 2, Op: "REMOVE", ObjectType: "todos", ObjectID: "1", Checksum: 1},
		}))

		require.NoError(t, oplog.SyncLocal(ctx, conn, nil, nil))

		var count int
		row := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM "ps_data__todos" WHERE id = ?`, "1")
		require.NoError(t, row.Scan(&count))
		assert.Zero(t, count)
	})
}

func TestSyncLocalFallsBackToUntypedWithoutDataTable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		// No EnsureDataTable call: "notes" has no ps_data__notes table,
		// so the row must land in ps_untyped instead.
		require.NoError(t, oplog.InsertBucketOperations(ctx, conn, nil, "bucket-a", []oplog.RawOp{
			{OpID: 1, Op: "PUT", ObjectType: "notes", ObjectID: "1", Checksum: 1, Data: []byte(`{"body":"hi"}`)},
		}))

		require.NoError(t, oplog.SyncLocal(ctx, conn, nil, nil))

		var data string
		row := conn.QueryRowContext(ctx, "SELECT data FROM ps_untyped WHERE type = ? AND id = ?", "notes", "1")
		require.NoError(t, row.Scan(&data))
		assert.JSONEq(t, `{"body":"hi"}`, data)
	})
}

func TestSyncLocalRecordsLastSyncedAt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.SyncLocal(ctx, conn, nil, nil))

		var value string
		row := conn.QueryRowContext(ctx, "SELECT value FROM ps_kv WHERE key = 'last_synced_at'")
		require.NoError(t, row.Scan(&value))
		assert.NotEmpty(t, value)
	})
}
