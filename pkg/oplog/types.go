// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"encoding/json"
	"strconv"

	"github.com/oapi-codegen/nullable"
)

// OpKind is the operation code carried by a single oplog entry, as sent
// over the wire by the sync service.
type OpKind int

const (
	OpMove   OpKind = 2
	OpPut    OpKind = 3
	OpRemove OpKind = 4
	OpClear  OpKind = 1
)

func (k OpKind) String() string {
	switch k {
	case OpMove:
		return "MOVE"
	case OpPut:
		return "PUT"
	case OpRemove:
		return "REMOVE"
	case OpClear:
		return "CLEAR"
	default:
		return "UNKNOWN"
	}
}

// RawOp is a single operation as it arrives in a bucket's operation
// array, before it is written to ps_oplog.
type RawOp struct {
	OpID       int64                    `json:"op_id,string"`
	Op         string                   `json:"op"`
	ObjectType string                   `json:"object_type,omitempty"`
	ObjectID   string                   `json:"object_id,omitempty"`
	Checksum   int32                    `json:"checksum"`
	Data       json.RawMessage          `json:"data,omitempty"`
	Subkey     nullable.Nullable[string] `json:"subkey,omitempty"`
}

// Kind maps the wire-level op string to an OpKind, defaulting to the
// zero value for anything unrecognised so callers can reject it
// explicitly rather than silently mis-happening.
func (r RawOp) Kind() (OpKind, bool) {
	switch r.Op {
	case "PUT":
		return OpPut, true
	case "REMOVE":
		return OpRemove, true
	case "MOVE":
		return OpMove, true
	case "CLEAR":
		return OpClear, true
	default:
		return 0, false
	}
}

// moveData is the shape of the "data" field on a MOVE operation: it
// carries the new target_op for the bucket. The field is optional (a
// MOVE with no data contributes only its checksum weight) and is
// accepted as either a JSON number or a numeric string.
type moveData struct {
	Target *flexibleInt64 `json:"target"`
}

// flexibleInt64 decodes a JSON number or a numeric JSON string into an
// int64, matching the upstream sync service's cast(... as integer)
// leniency.
type flexibleInt64 int64

func (f *flexibleInt64) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexibleInt64(v)
		return nil
	}

	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexibleInt64(n)
	return nil
}

// BucketPacket is the set of operations destined for a single bucket in
// one ingestion batch.
type BucketPacket struct {
	Bucket string  `json:"bucket"`
	Data   []RawOp `json:"data"`
}

// Envelope is the top-level shape of an inbound operation batch. Only
// "buckets" is used by ingestion; has_more/after/next_after describe
// pagination of the upstream sync stream and are not the concern of
// the local oplog, so they are accepted but ignored here.
type Envelope struct {
	Buckets []BucketPacket `json:"buckets"`
}
