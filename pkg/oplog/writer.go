// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"context"
	"encoding/json"

	"github.com/bucketsync/core/pkg/db"
)

// InsertBucketOperations applies one bucket's worth of operations, in
// array order, within the caller's transaction. Each PUT/REMOVE
// supersedes any prior live row sharing the same (bucket, key); a MOVE
// raises the bucket's target_op; a CLEAR rewrites every live PUT/REMOVE
// row to a zero-payload REMOVE and is never itself persisted as a row.
// Superseded rows are compacted away at the end of the batch, after
// their checksum contribution has been folded into add_checksum.
func InsertBucketOperations(ctx context.Context, conn db.DB, logger Logger, bucket string, ops []RawOp) error {
	if logger == nil {
		logger = NewNoopLogger()
	}

	logger.LogIngestStart(bucket, len(ops))

	if err := NewEnsureBucketAction(conn, bucket).Execute(ctx); err != nil {
		return StorageError{Op: "ensure_bucket", Err: err}
	}

	var lastOp int64

	for _, raw := range ops {
		kind, ok := raw.Kind()
		if !ok {
			return UnknownOperationError{Bucket: bucket, OpID: raw.OpID, Op: raw.Op}
		}

		if raw.OpID > lastOp {
			lastOp = raw.OpID
		}

		switch kind {
		case OpClear:
			if err := NewClearBucketAction(conn, bucket, raw.Checksum).Execute(ctx); err != nil {
				return StorageError{Op: "clear", Err: err}
			}
			logger.LogClear(bucket, raw.OpID)

		case OpMove:
			target, hasTarget, err := parseMoveTarget(raw.Data)
			if err != nil {
				return MalformedInputError{Reason: err.Error()}
			}
			if hasTarget {
				if err := NewBumpTargetOpAction(conn, bucket, target).Execute(ctx); err != nil {
					return StorageError{Op: "bump_target", Err: err}
				}
			}
			if err := NewInsertOpAction(conn, bucket, raw.OpID, kind, nil, nil, nil, nil, raw.Checksum).Execute(ctx); err != nil {
				return StorageError{Op: "insert_move", Err: err}
			}

		case OpPut, OpRemove:
			key := compositeKey(raw)
			if key != nil {
				if err := NewSupersedeAction(conn, bucket, *key).Execute(ctx); err != nil {
					return StorageError{Op: "supersede", Err: err}
				}
			}

			var data []byte
			if kind == OpPut {
				data = []byte(raw.Data)
			}

			var rowType, rowID *string
			if raw.ObjectType != "" {
				rowType = &raw.ObjectType
			}
			if raw.ObjectID != "" {
				rowID = &raw.ObjectID
			}

			if err := NewInsertOpAction(conn, bucket, raw.OpID, kind, key, rowType, rowID, data, raw.Checksum).Execute(ctx); err != nil {
				return StorageError{Op: "insert_op", Err: err}
			}
		}
	}

	if lastOp > 0 {
		if err := NewSetLastOpAction(conn, bucket, lastOp).Execute(ctx); err != nil {
			return StorageError{Op: "set_last_op", Err: err}
		}
	}

	if err := compactSupersededRows(ctx, conn, bucket); err != nil {
		return err
	}

	logger.LogIngestComplete(bucket, lastOp)
	return nil
}

// compactSupersededRows folds the checksum of every superseded row in
// bucket into add_checksum, then deletes them. It must run after all
// supersede actions for the batch so the fold sees every row marked
// superseded by this batch, not just the ones seen so far.
func compactSupersededRows(ctx context.Context, conn db.DB, bucket string) error {
	row := conn.QueryRowContext(ctx,
		"SELECT COALESCE(SUM(hash), 0) FROM ps_oplog WHERE bucket = ? AND superseded = 1",
		bucket,
	)

	var sum int64
	if err := row.Scan(&sum); err != nil {
		return StorageError{Op: "sum_superseded", Err: err}
	}

	if sum != 0 {
		if err := NewAddChecksumAction(conn, bucket, int32(sum)).Execute(ctx); err != nil {
			return StorageError{Op: "add_checksum", Err: err}
		}
	}

	if err := NewCompactBucketAction(conn, bucket).Execute(ctx); err != nil {
		return StorageError{Op: "compact", Err: err}
	}

	return nil
}

// compositeKey builds the (bucket-local) supersession key for a
// PUT/REMOVE row: object_type + "/" + object_id + "/" + subkey. When
// object_type or object_id is absent the row cannot be matched for
// supersession; it returns nil rather than an empty-string key so it
// never collides with another row missing the same fields.
func compositeKey(raw RawOp) *string {
	if raw.ObjectType == "" || raw.ObjectID == "" {
		return nil
	}

	subkey := "null"
	if raw.Subkey.IsSpecified() && !raw.Subkey.IsNull() {
		v, _ := raw.Subkey.Get()
		subkey = v
	}

	key := raw.ObjectType + "/" + raw.ObjectID + "/" + subkey
	return &key
}

// parseMoveTarget decodes the optional target_op carried by a MOVE
// operation's data field. A MOVE with no data (or an object with no
// "target" key) is valid and contributes only its checksum weight; the
// second return value reports whether a target was present at all.
func parseMoveTarget(data json.RawMessage) (int64, bool, error) {
	if len(data) == 0 {
		return 0, false, nil
	}

	var m moveData
	if err := json.Unmarshal(data, &m); err != nil {
		return 0, false, err
	}
	if m.Target == nil {
		return 0, false, nil
	}
	return int64(*m.Target), true, nil
}
