// SPDX-License-Identifier: Apache-2.0

package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bucketsync/core/pkg/stream"
)

func TestParseSyncLineCheckpoint(t *testing.T) {
	t.Parallel()

	line, err := stream.ParseSyncLine([]byte(`{"checkpoint": {"last_op_id": "10"}}`))
	require.NoError(t, err)
	assert.Equal(t, stream.LineCheckpoint, line.Kind)
	require.NotNil(t, line.Checkpoint)
	assert.Equal(t, "10", line.Checkpoint.LastOpID)
}

func TestParseSyncLineData(t *testing.T) {
	t.Parallel()

	line, err := stream.ParseSyncLine([]byte(`{"data": {"bucket": "bucket-a", "data": []}}`))
	require.NoError(t, err)
	assert.Equal(t, stream.LineData, line.Kind)
	require.NotNil(t, line.Data)
	assert.Equal(t, "bucket-a", line.Data.Bucket)
}

func TestParseSyncLineKeepalive(t *testing.T) {
	t.Parallel()

	line, err := stream.ParseSyncLine([]byte(`{"keepalive": {}}`))
	require.NoError(t, err)
	assert.Equal(t, stream.LineKeepalive, line.Kind)
}

func TestParseSyncLineTokenExpiresIn(t *testing.T) {
	t.Parallel()

	line, err := stream.ParseSyncLine([]byte(`{"token_expires_in": 120}`))
	require.NoError(t, err)
	assert.Equal(t, stream.LineTokenExpiresIn, line.Kind)
	assert.Equal(t, 120, line.TokenExpiresInSecs)
}

func TestParseSyncLineUnknownShape(t *testing.T) {
	t.Parallel()

	_, err := stream.ParseSyncLine([]byte(`{"something_else": true}`))
	require.Error(t, err)
}
