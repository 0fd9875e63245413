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

func TestInsertOperationDispatchesEachBucket(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	payload := []byte(`{
		"buckets": [
			{"bucket": "bucket-a", "data": [
				{"op_id": "1", "op": "PUT", "object_type": "todos", "object_id": "1", "checksum": 1, "data": {"title":"a"}}
			]},
			{"bucket": "bucket-b", "data": [
				{"op_id": "1", "op": "PUT", "object_type": "todos", "object_id": "2", "checksum": 2, "data": {"title":"b"}}
			]}
		]
	}`)

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		require.NoError(t, oplog.InsertOperation(ctx, conn, nil, payload))

		var count int
		row := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM ps_buckets")
		require.NoError(t, row.Scan(&count))
		assert.Equal(t, 2, count)
	})
}

func TestInsertOperationRejectsMissingBuckets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		err := oplog.InsertOperation(ctx, conn, nil, []byte(`{}`))
		require.Error(t, err)
		assert.IsType(t, oplog.MalformedInputError{}, err)
	})
}

func TestInsertOperationRejectsUnknownOpInSchema(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	payload := []byte(`{
		"buckets": [
			{"bucket": "bucket-a", "data": [
				{"op_id": "1", "op": "BOGUS"}
			]}
		]
	}`)

	testutils.WithOplogDB(t, func(conn *db.RDB) {
		err := oplog.InsertOperation(ctx, conn, nil, payload)
		require.Error(t, err)
		assert.IsType(t, oplog.MalformedInputError{}, err)
	})
}
