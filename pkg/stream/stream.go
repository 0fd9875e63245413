// SPDX-License-Identifier: Apache-2.0

// Package stream parses the lines of the upstream sync protocol that
// the oplog engine's caller forwards to it. Parsing a line is a pure
// function with no side effects: the engine decides separately what,
// if anything, to do with the result.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/bucketsync/core/pkg/oplog"
)

// LineKind identifies which shape a streaming sync line took.
type LineKind string

const (
	LineCheckpoint         LineKind = "checkpoint"
	LineCheckpointDiff     LineKind = "checkpoint_diff"
	LineCheckpointComplete LineKind = "checkpoint_complete"
	LineTokenExpiresIn     LineKind = "token_expires_in"
	LineData               LineKind = "data"
	LineKeepalive          LineKind = "keepalive"
)

// Checkpoint describes the bucket state the server expects the client
// to reach.
type Checkpoint struct {
	LastOpID string          `json:"last_op_id"`
	Buckets  json.RawMessage `json:"buckets,omitempty"`
}

// CheckpointDiff is an incremental update to a previously received
// checkpoint.
type CheckpointDiff struct {
	LastOpID       string          `json:"last_op_id"`
	UpdatedBuckets json.RawMessage `json:"updated_buckets,omitempty"`
	RemovedBuckets []string        `json:"removed_buckets,omitempty"`
}

// SyncLine is the parsed, typed result of one line of the sync stream.
type SyncLine struct {
	Kind LineKind

	Checkpoint         *Checkpoint
	CheckpointDiff     *CheckpointDiff
	TokenExpiresInSecs int
	Data               *oplog.BucketPacket
}

type rawLine struct {
	Checkpoint         *Checkpoint         `json:"checkpoint,omitempty"`
	CheckpointDiff     *CheckpointDiff     `json:"checkpoint_diff,omitempty"`
	CheckpointComplete *struct {
		LastOpID string `json:"last_op_id"`
	} `json:"checkpoint_complete,omitempty"`
	TokenExpiresIn *int                 `json:"token_expires_in,omitempty"`
	Data           *oplog.BucketPacket  `json:"data,omitempty"`
	Keepalive      *struct{}            `json:"keepalive,omitempty"`
}

// ParseSyncLine decodes one line of the streaming sync protocol into a
// typed SyncLine. It performs no side effects and does not touch the
// oplog store; the caller is responsible for feeding a LineData result
// into oplog.InsertBucketOperations.
func ParseSyncLine(line []byte) (SyncLine, error) {
	var raw rawLine
	if err := json.Unmarshal(line, &raw); err != nil {
		return SyncLine{}, fmt.Errorf("parsing sync line: %w", err)
	}

	switch {
	case raw.Checkpoint != nil:
		return SyncLine{Kind: LineCheckpoint, Checkpoint: raw.Checkpoint}, nil
	case raw.CheckpointDiff != nil:
		return SyncLine{Kind: LineCheckpointDiff, CheckpointDiff: raw.CheckpointDiff}, nil
	case raw.CheckpointComplete != nil:
		return SyncLine{Kind: LineCheckpointComplete}, nil
	case raw.TokenExpiresIn != nil:
		return SyncLine{Kind: LineTokenExpiresIn, TokenExpiresInSecs: *raw.TokenExpiresIn}, nil
	case raw.Data != nil:
		return SyncLine{Kind: LineData, Data: raw.Data}, nil
	case raw.Keepalive != nil:
		return SyncLine{Kind: LineKeepalive}, nil
	default:
		return SyncLine{}, fmt.Errorf("sync line matches no known shape")
	}
}
