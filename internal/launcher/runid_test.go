package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteAndWaitForRunIDReadsExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteRunID(dir, 42))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, err := WaitForRunID(ctx, dir, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestWaitForRunIDBlocksUntilWritten(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var id int64
	var err error
	go func() {
		id, err = WaitForRunID(ctx, dir, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, WriteRunID(dir, 7))

	<-done
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
}

func TestWaitForRunIDRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := WaitForRunID(ctx, dir, 5*time.Millisecond)
	require.Error(t, err)
}

func TestRunIDFilePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteRunID(dir, 1))
	_, err := os.Stat(filepath.Join(dir, RunIDFileName))
	require.NoError(t, err)
}
