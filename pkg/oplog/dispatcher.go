// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/bucketsync/core/pkg/db"
)

// InsertOperation validates and decodes a raw operation-batch envelope,
// then dispatches each bucket's operations to InsertBucketOperations in
// the order the envelope lists them. has_more/after/next_after on the
// envelope describe pagination of the upstream sync stream and play no
// role at this layer; they are accepted and ignored.
func InsertOperation(ctx context.Context, conn db.DB, logger Logger, payload []byte) error {
	raw, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return MalformedInputError{Reason: fmt.Sprintf("invalid JSON: %s", err)}
	}

	if err := ValidateEnvelope(raw); err != nil {
		return err
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return MalformedInputError{Reason: err.Error()}
	}

	for _, packet := range env.Buckets {
		if err := InsertBucketOperations(ctx, conn, logger, packet.Bucket, packet.Data); err != nil {
			return err
		}
	}

	return nil
}
