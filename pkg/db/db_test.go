// SPDX-License-Identifier: Apache-2.0

package db_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketsync/core/pkg/db"
	"github.com/bucketsync/core/pkg/testutils"
)

func TestExecContextAndQueryContext(t *testing.T) {
	t.Parallel()

	testutils.WithDB(t, func(conn *db.RDB) {
		ctx := context.Background()

		_, err := conn.ExecContext(ctx, "CREATE TABLE greeting (id INTEGER PRIMARY KEY, msg TEXT)")
		require.NoError(t, err)

		_, err = conn.ExecContext(ctx, "INSERT INTO greeting(id, msg) VALUES (1, 'hello')")
		require.NoError(t, err)

		rows, err := conn.QueryContext(ctx, "SELECT COUNT(*) FROM greeting")
		require.NoError(t, err)

		var count int
		err = db.ScanFirstValue(rows, &count)
		assert.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestWithRetryableTransactionCommits(t *testing.T) {
	t.Parallel()

	testutils.WithDB(t, func(conn *db.RDB) {
		ctx := context.Background()

		_, err := conn.ExecContext(ctx, "CREATE TABLE greeting (id INTEGER PRIMARY KEY, msg TEXT)")
		require.NoError(t, err)

		err = conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, "INSERT INTO greeting(id, msg) VALUES (1, 'hello')")
			return err
		})
		require.NoError(t, err)

		rows, err := conn.QueryContext(ctx, "SELECT COUNT(*) FROM greeting")
		require.NoError(t, err)

		var count int
		require.NoError(t, db.ScanFirstValue(rows, &count))
		assert.Equal(t, 1, count)
	})
}

func TestWithRetryableTransactionRollsBackOnError(t *testing.T) {
	t.Parallel()

	testutils.WithDB(t, func(conn *db.RDB) {
		ctx := context.Background()

		_, err := conn.ExecContext(ctx, "CREATE TABLE greeting (id INTEGER PRIMARY KEY, msg TEXT)")
		require.NoError(t, err)

		err = conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "INSERT INTO greeting(id, msg) VALUES (1, 'hello')"); err != nil {
				return err
			}
			return assert.AnError
		})
		require.Error(t, err)

		rows, err := conn.QueryContext(ctx, "SELECT COUNT(*) FROM greeting")
		require.NoError(t, err)

		var count int
		require.NoError(t, db.ScanFirstValue(rows, &count))
		assert.Equal(t, 0, count)
	})
}
