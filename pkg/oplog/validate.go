// SPDX-License-Identifier: Apache-2.0

package oplog

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchemaDoc describes the shape InsertOperation accepts, ahead
// of decoding it into Envelope. Validating the envelope up front turns
// a malformed batch into a single, well-described MalformedInputError
// rather than a confusing decode failure deep inside the dispatcher.
const envelopeSchemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["buckets"],
	"properties": {
		"buckets": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["bucket", "data"],
				"properties": {
					"bucket": {"type": "string"},
					"data": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["op_id", "op"],
							"properties": {
								"op_id": {"type": "string"},
								"op": {"type": "string", "enum": ["PUT", "REMOVE", "MOVE", "CLEAR"]},
								"object_type": {"type": "string"},
								"object_id": {"type": "string"},
								"checksum": {"type": "integer"}
							}
						}
					}
				}
			}
		}
	}
}`

const envelopeSchemaURL = "bucketsync://schema/envelope.json"

var (
	envelopeSchema     *jsonschema.Schema
	envelopeSchemaOnce sync.Once
	envelopeSchemaErr  error
)

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(envelopeSchemaDoc)))
		if err != nil {
			envelopeSchemaErr = fmt.Errorf("parsing envelope schema: %w", err)
			return
		}

		c := jsonschema.NewCompiler()
		if err := c.AddResource(envelopeSchemaURL, doc); err != nil {
			envelopeSchemaErr = fmt.Errorf("registering envelope schema: %w", err)
			return
		}

		sch, err := c.Compile(envelopeSchemaURL)
		if err != nil {
			envelopeSchemaErr = fmt.Errorf("compiling envelope schema: %w", err)
			return
		}
		envelopeSchema = sch
	})
	return envelopeSchema, envelopeSchemaErr
}

// ValidateEnvelope checks that raw, a parsed (but not yet structurally
// typed) JSON value, matches the operation-batch envelope shape.
func ValidateEnvelope(raw any) error {
	sch, err := compiledEnvelopeSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(raw); err != nil {
		return MalformedInputError{Reason: err.Error()}
	}
	return nil
}
