package persist

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KeckObservatory/mktl-go/pkg/message"
)

func TestEnqueueCoalescesLastWriterWinsWithinWindow(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFlusher(dir, "uuid-1", time.Hour, nil)
	require.NoError(t, err)

	f.Enqueue("ra", &message.Payload{Value: 1.0, Time: 1}, nil)
	f.Enqueue("ra", &message.Payload{Value: 2.0, Time: 2}, nil)

	n, err := f.Flush()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries, err := Replay(dir, "uuid-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ra", entries[0].Key)
	assert.InDelta(t, 2.0, entries[0].Payload.Value, 0.0001)
}

func TestFlushWritesBulkCompanionFile(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFlusher(dir, "uuid-2", time.Hour, nil)
	require.NoError(t, err)

	f.Enqueue("spectrum", &message.Payload{Value: nil, Time: 5, Bulk: true, Shape: []int{3}, Dtype: "float64"}, []byte{1, 2, 3})
	_, err = f.Flush()
	require.NoError(t, err)

	entries, err := Replay(dir, "uuid-2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Payload.Bulk)
	assert.Equal(t, []byte{1, 2, 3}, entries[0].Bulk)
}

func TestReplayOnEmptyDirectoryReturnsNoEntries(t *testing.T) {
	dir := t.TempDir()
	entries, err := Replay(dir, "never-persisted")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStopPerformsFinalFlush(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFlusher(dir, "uuid-3", time.Hour, nil)
	require.NoError(t, err)

	stop := f.Start()
	f.Enqueue("dec", &message.Payload{Value: 9.0, Time: 1}, nil)
	stop()

	entries, err := Replay(dir, "uuid-3")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dec", entries[0].Key)

	path := filepath.Join(dir, "daemon", "persist", "uuid-3", "dec")
	assert.FileExists(t, path)
}
