package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMergeMetadataKeepsExistingKeys(t *testing.T) {
	existing := json.RawMessage(`{"reprocessed_at":"2026-08-01T10:00:00Z","retry_attempt":2}`)

	merged, err := MergeMetadata(existing, map[string]any{
		MetaError:    "embedding api timeout",
		MetaFailedAt: "2026-08-02T08:30:00Z",
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))

	require.Equal(t, "embedding api timeout", got[MetaError])
	require.Equal(t, "2026-08-02T08:30:00Z", got[MetaFailedAt])
	require.Equal(t, "2026-08-01T10:00:00Z", got["reprocessed_at"])
	require.Equal(t, float64(2), got[MetaRetryAttempt])
}

func TestMergeMetadataSupersedesPatchedKeys(t *testing.T) {
	existing := json.RawMessage(`{"retry_attempt":1,"error":"old"}`)

	merged, err := MergeMetadata(existing, map[string]any{
		MetaRetryAttempt: 2,
		MetaError:        "new",
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	require.Equal(t, float64(2), got[MetaRetryAttempt])
	require.Equal(t, "new", got[MetaError])
}

func TestMergeMetadataEmptyExisting(t *testing.T) {
	merged, err := MergeMetadata(nil, map[string]any{MetaRequeuedBy: "operator"})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(merged, &got))
	require.Equal(t, map[string]any{MetaRequeuedBy: "operator"}, got)
}

func TestFileMetadataRetryAttempt(t *testing.T) {
	f := &FileMetadata{}
	require.Equal(t, 0, f.RetryAttempt())

	f.Metadata = json.RawMessage(`{"retry_attempt":3}`)
	require.Equal(t, 3, f.RetryAttempt())
}

func TestFileMetadataFailedAt(t *testing.T) {
	f := &FileMetadata{}
	require.True(t, f.FailedAt().IsZero())

	f.Metadata = json.RawMessage(`{"failed_at":"2026-08-02T08:30:00Z"}`)
	want, _ := time.Parse(time.RFC3339, "2026-08-02T08:30:00Z")
	require.Equal(t, want, f.FailedAt())
}
