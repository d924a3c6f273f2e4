package fifo

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestWriteReadMonotonicIDs(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(Config{Path: filepath.Join(dir, "test.fifo")}, testLogger())
	require.NoError(t, err)
	defer f.Close()

	for i := 0; i < 50; i++ {
		id, err := f.Write([]byte(fmt.Sprintf("payload-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), id)
	}

	var lastID uint64
	for i := 0; i < 50; i++ {
		item, err := f.Read(0)
		require.NoError(t, err)
		assert.Greater(t, item.ID, lastID, "read must return strictly increasing ids")
		lastID = item.ID
	}

	_, err = f.Read(0)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestReadNeverReturnsAckedItem(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(Config{Path: filepath.Join(dir, "test.fifo")}, testLogger())
	require.NoError(t, err)
	defer f.Close()

	for i := 0; i < 10; i++ {
		_, err := f.Write([]byte(fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}

	require.NoError(t, f.Ack(5))

	item, err := f.Read(0)
	require.NoError(t, err)
	assert.Greater(t, item.ID, uint64(5), "read must never return an id <= the ack high-water mark")
}

func TestBlockingReadUnblocksOnWrite(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(Config{Path: filepath.Join(dir, "test.fifo")}, testLogger())
	require.NoError(t, err)
	defer f.Close()

	result := make(chan *Item, 1)
	errs := make(chan error, 1)
	go func() {
		item, err := f.Read(2 * time.Second)
		if err != nil {
			errs <- err
			return
		}
		result <- item
	}()

	time.Sleep(50 * time.Millisecond)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case item := <-result:
		assert.Equal(t, "hello", string(item.Payload))
	case err := <-errs:
		t.Fatalf("unexpected read error: %v", err)
	case <-time.After(time.Second):
		t.Fatal("blocking read did not unblock on write")
	}
}

func TestReadTimeoutWhenNothingWritten(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(Config{Path: filepath.Join(dir, "test.fifo")}, testLogger())
	require.NoError(t, err)
	defer f.Close()

	start := time.Now()
	_, err = f.Read(100 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "durable.fifo")

	f, err := Open(Config{Path: path, SpillCapacity: 1}, testLogger())
	require.NoError(t, err)

	var ids []uint64
	for i := 0; i < 20; i++ {
		id, err := f.Write([]byte(fmt.Sprintf("msg-%d", i)))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, f.Ack(ids[9])) // ack the first 10
	require.NoError(t, f.Flush(0))
	require.NoError(t, f.Close())

	// Simulate restart: reopen the same file.
	f2, err := Open(Config{Path: path, SpillCapacity: 1}, testLogger())
	require.NoError(t, err)
	defer f2.Close()

	var got []string
	for {
		item, err := f2.Read(0)
		if err == ErrEmpty {
			break
		}
		require.NoError(t, err)
		got = append(got, string(item.Payload))
	}

	require.Len(t, got, 10, "only the 10 unacked records should survive a reopen")
	for i, payload := range got {
		assert.Equal(t, fmt.Sprintf("msg-%d", i+10), payload)
	}
}

func TestAckFullDrainTruncatesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drain.fifo")

	f, err := Open(Config{Path: path, SpillCapacity: 1}, testLogger())
	require.NoError(t, err)

	var last uint64
	for i := 0; i < 5; i++ {
		last, err = f.Write([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, f.Flush(0))
	require.NoError(t, f.Ack(last))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(mainHeaderSize), info.Size(), "fully-acked fifo truncates back to just the header")

	require.NoError(t, f.Close())
}

func TestWriteAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	f, err := Open(Config{Path: filepath.Join(dir, "closed.fifo")}, testLogger())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = f.Write([]byte("x"))
	assert.Error(t, err)
}
