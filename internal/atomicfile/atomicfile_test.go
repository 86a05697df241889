package atomicfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type payload struct {
	OperationMode string `json:"operation_mode"`
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "global_state.json")
	require.NoError(t, WriteJSON(path, payload{OperationMode: "MANUAL"}))

	var got payload
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "MANUAL", got.OperationMode)
}

func TestReadJSONMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	var got payload
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReadJSONMalformedFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, Write(path, []byte("{not json")))
	var got payload
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestWriteJSONReplaceIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override_state.json")
	require.NoError(t, WriteJSON(path, payload{OperationMode: "AUTOMATIC"}))
	require.NoError(t, WriteJSON(path, payload{OperationMode: "AUTOMATIC"}))

	var got payload
	ok, err := ReadJSON(path, &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "AUTOMATIC", got.OperationMode)
}
