package dbinsert

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infologger/pkg/record"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newTestRecord(message string) *record.Record {
	r := record.NewRecord()
	r.SetString(record.FieldSeverity, "I")
	r.SetString(record.FieldHostname, "host01")
	r.SetString(record.FieldRolename, "role01")
	r.SetInt(record.FieldPID, 42)
	r.SetString(record.FieldMessage, message)
	return r
}

func TestWorkerInsertsRecordsOnceReady(t *testing.T) {
	dsn := "file::memory:?cache=shared&_busy_timeout=5000"
	setup, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer setup.Close()
	_, err = setup.Exec(CreateTableSQL("messages"))
	require.NoError(t, err)

	w := New(Config{Name: "w1", DSN: dsn, ReconnectFloor: time.Millisecond}, testLogger())
	require.NoError(t, w.Start())
	defer w.Stop()

	batch := &record.Batch{Records: []*record.Record{newTestRecord("hello")}}
	assert.True(t, w.Enqueue(batch))

	require.Eventually(t, func() bool {
		var n int
		setup.Get(&n, "SELECT COUNT(*) FROM messages")
		return n == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerSplitsMessageOnFormFeed(t *testing.T) {
	dsn := "file::memory:?cache=shared&_busy_timeout=5000"
	setup, err := sqlx.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer setup.Close()
	_, err = setup.Exec(CreateTableSQL("messages"))
	require.NoError(t, err)

	w := New(Config{Name: "w2", DSN: dsn, ReconnectFloor: time.Millisecond}, testLogger())
	require.NoError(t, w.Start())
	defer w.Stop()

	batch := &record.Batch{Records: []*record.Record{newTestRecord("line one\fline two\fline three")}}
	assert.True(t, w.Enqueue(batch))

	require.Eventually(t, func() bool {
		var n int
		setup.Get(&n, "SELECT COUNT(*) FROM messages WHERE hostname = 'host01'")
		return n == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueFullQueueReturnsFalse(t *testing.T) {
	w := New(Config{Name: "w3", DSN: "file::memory:", QueueSize: 1}, testLogger())
	batch := &record.Batch{Records: []*record.Record{newTestRecord("x")}}
	require.True(t, w.Enqueue(batch))
	assert.False(t, w.Enqueue(batch), "second batch should be rejected once the queue is full")
}
