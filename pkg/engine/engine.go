// SPDX-License-Identifier: Apache-2.0

// Package engine wires the oplog core up to a concrete embedded SQL
// store, clock, logger and metrics, and runs each top-level operation
// inside its own transaction.
package engine

import (
	"context"
	sqldb "database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/bucketsync/core/pkg/db"
	"github.com/bucketsync/core/pkg/oplog"
)

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the clock used for last_synced_at timestamps,
// primarily for deterministic tests.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger overrides the engine's logger.
func WithLogger(logger oplog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetricsRegisterer registers the engine's metrics against reg
// instead of prometheus.DefaultRegisterer.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) { e.metrics = NewMetrics(reg) }
}

// defaultMetrics is registered against prometheus.DefaultRegisterer at
// most once per process and shared by every Engine built without
// WithMetricsRegisterer.
var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// Engine is the top-level entry point for a local oplog store.
type Engine struct {
	conn    *db.RDB
	clock   clockwork.Clock
	logger  oplog.Logger
	metrics *Metrics
}

// New opens dsn with the modernc.org/sqlite driver and returns an
// Engine ready to have Init called on it.
func New(ctx context.Context, dsn string, opts ...Option) (*Engine, error) {
	sqlDB, err := sqldb.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening embedded store: %w", err)
	}
	// A shared, single-connection pool avoids each *sql.DB connection
	// seeing its own private in-memory database.
	sqlDB.SetMaxOpenConns(1)

	e := &Engine{
		conn:   &db.RDB{DB: sqlDB},
		clock:  clockwork.NewRealClock(),
		logger: oplog.NewNoopLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.metrics == nil {
		defaultMetricsOnce.Do(func() { defaultMetrics = NewMetrics(prometheus.DefaultRegisterer) })
		e.metrics = defaultMetrics
	}

	return e, nil
}

// Init creates the engine's internal tables if they do not exist yet.
func (e *Engine) Init(ctx context.Context) error {
	return oplog.CreateSchema(ctx, e.conn)
}

// Close releases the underlying database connection.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// Ingest validates and applies one operation-batch payload, one bucket
// at a time, inside a single retryable transaction.
func (e *Engine) Ingest(ctx context.Context, payload []byte) error {
	timer := prometheus.NewTimer(e.metrics.IngestDuration)
	defer timer.ObserveDuration()

	err := e.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sqldb.Tx) error {
		return oplog.InsertOperation(ctx, &db.TxDB{Tx: tx}, e.logger, payload)
	})
	if err != nil {
		return err
	}

	e.metrics.BatchesIngested.Inc()

	var env oplog.Envelope
	if err := json.Unmarshal(payload, &env); err == nil {
		for _, packet := range env.Buckets {
			e.metrics.OperationsIngested.Add(float64(len(packet.Data)))
		}
	}
	return nil
}

// SyncLocal materializes every bucket's applied operations into local
// tables, but only if CanUpdateLocal reports it is safe to do so. It
// reports whether materialization actually ran.
func (e *Engine) SyncLocal(ctx context.Context) (bool, error) {
	var applied bool
	err := e.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sqldb.Tx) error {
		txConn := &db.TxDB{Tx: tx}

		ok, err := oplog.CanUpdateLocal(ctx, txConn)
		if err != nil {
			return err
		}
		if !ok {
			e.logger.LogSyncLocal(false, "not safe to update local state")
			return nil
		}

		if err := oplog.SyncLocal(ctx, txConn, e.clock, e.logger); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		e.metrics.SyncLocalRuns.Inc()
	} else {
		e.metrics.SyncLocalSkipped.Inc()
	}
	return applied, nil
}

// DeleteBucket marks bucket for deletion.
func (e *Engine) DeleteBucket(ctx context.Context, bucket string) error {
	return e.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sqldb.Tx) error {
		return oplog.DeleteBucket(ctx, &db.TxDB{Tx: tx}, e.logger, bucket)
	})
}

// DeletePendingBuckets permanently reaps buckets marked for deletion
// whose operations have all been applied locally.
func (e *Engine) DeletePendingBuckets(ctx context.Context) error {
	var reaped int
	err := e.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sqldb.Tx) error {
		const countPending = "SELECT COUNT(*) FROM ps_buckets WHERE pending_delete = 1"
		var before, after int
		if err := tx.QueryRowContext(ctx, countPending).Scan(&before); err != nil {
			return err
		}
		if err := oplog.DeletePendingBuckets(ctx, &db.TxDB{Tx: tx}, e.logger); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, countPending).Scan(&after); err != nil {
			return err
		}
		reaped = before - after
		return nil
	})
	if err == nil {
		e.metrics.BucketsReaped.Add(float64(reaped))
	}
	return err
}

// ClearRemoveOps garbage-collects applied REMOVE rows, one bucket per
// transaction so a large store is never held under a single long-lived
// write lock.
func (e *Engine) ClearRemoveOps(ctx context.Context) error {
	buckets, err := oplog.ActiveBucketNames(ctx, e.conn)
	if err != nil {
		return err
	}

	for _, bucket := range buckets {
		err := e.conn.WithRetryableTransaction(ctx, func(ctx context.Context, tx *sqldb.Tx) error {
			return oplog.ClearRemoveOpsForBucket(ctx, &db.TxDB{Tx: tx}, e.logger, bucket)
		})
		if err != nil {
			return fmt.Errorf("clearing remove ops for bucket %q: %w", bucket, err)
		}
	}

	return nil
}

// Status reports the running checksum and op range of every known
// bucket, for the status CLI command and the serve HTTP endpoint.
type BucketStatus struct {
	Name          string
	LastOp        int64
	LastAppliedOp int64
	TargetOp      int64
	AddChecksum   int32
	PendingDelete bool
}

func (e *Engine) Status(ctx context.Context) ([]BucketStatus, error) {
	rows, err := e.conn.QueryContext(ctx,
		"SELECT name, last_op, last_applied_op, target_op, add_checksum, pending_delete FROM ps_buckets ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BucketStatus
	for rows.Next() {
		var s BucketStatus
		var pendingDelete int
		if err := rows.Scan(&s.Name, &s.LastOp, &s.LastAppliedOp, &s.TargetOp, &s.AddChecksum, &pendingDelete); err != nil {
			return nil, err
		}
		s.PendingDelete = pendingDelete != 0
		out = append(out, s)
	}
	return out, rows.Err()
}
