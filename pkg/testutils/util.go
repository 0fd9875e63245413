// SPDX-License-Identifier: Apache-2.0

package testutils

import (
	"context"
	sqldb "database/sql"
	"fmt"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/bucketsync/core/pkg/db"
	"github.com/bucketsync/core/pkg/engine"
	"github.com/bucketsync/core/pkg/oplog"
)

// OpenDB opens a fresh, private in-memory SQLite database for use by
// a single test.
func OpenDB(t *testing.T) *sqldb.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", randomDBName())

	conn, err := sqldb.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	// A single connection keeps the in-memory database from being
	// dropped between uses and from racing with itself.
	conn.SetMaxOpenConns(1)

	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Fatalf("closing in-memory database: %v", err)
		}
	})

	return conn
}

// WithDB opens a private in-memory database with no schema applied,
// for tests of pkg/db itself.
func WithDB(t *testing.T, fn func(conn *db.RDB)) {
	t.Helper()
	fn(&db.RDB{DB: OpenDB(t)})
}

// WithOplogDB opens a private in-memory database with the engine's
// internal schema already applied.
func WithOplogDB(t *testing.T, fn func(conn *db.RDB)) {
	t.Helper()

	rdb := &db.RDB{DB: OpenDB(t)}
	if err := oplog.CreateSchema(context.Background(), rdb); err != nil {
		t.Fatalf("creating schema: %v", err)
	}
	fn(rdb)
}

// WithEngine builds an Engine backed by a private in-memory database
// and a FakeClock pinned to a fixed instant, so materializer tests
// never depend on wall-clock time.
func WithEngine(t *testing.T, fn func(e *engine.Engine, clock *clockwork.FakeClock)) {
	t.Helper()
	ctx := context.Background()

	clock := clockwork.NewFakeClock()
	reg := prometheus.NewRegistry()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", randomDBName())
	e, err := engine.New(ctx, dsn, engine.WithClock(clock), engine.WithMetricsRegisterer(reg))
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() {
		if err := e.Close(); err != nil {
			t.Fatalf("closing engine: %v", err)
		}
	})

	if err := e.Init(ctx); err != nil {
		t.Fatalf("initializing engine: %v", err)
	}

	fn(e, clock)
}
