package stats

import (
	"bufio"
	"net"
	"testing"
	"time"

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

func newTestRecord(severity string) *record.Record {
	r := record.NewRecord()
	r.SetString(record.FieldSeverity, severity)
	r.SetString(record.FieldHostname, "host01")
	r.SetString(record.FieldMessage, "hello")
	return r
}

func TestBuiltinIndexKeysResolveAllCombinations(t *testing.T) {
	keys := builtinIndexKeys()
	require.Len(t, keys, 16)
	assert.Equal(t, "severity", keys[0].name)
	assert.Equal(t, "hostname-pid", keys[4].name)
	assert.Equal(t, "run-detector-severity-level", keys[10].name)
}

func TestJoinFieldValuesSkipsIncompleteCombination(t *testing.T) {
	r := newTestRecord("I")
	sevIdx := record.MustFindField("severity")
	runIdx := record.MustFindField("run")

	v, ok := joinFieldValues(r, []int{sevIdx})
	require.True(t, ok)
	assert.Equal(t, "I", v)

	_, ok = joinFieldValues(r, []int{runIdx})
	assert.False(t, ok, "run is undefined on this record")
}

func TestStatsPublishesDumpToSubscriber(t *testing.T) {
	s := New(Config{
		ListenAddr:      "127.0.0.1:0",
		PublishInterval: 20 * time.Millisecond,
		WindowInterval:  time.Hour,
		ProbeInterval:   10 * time.Millisecond,
	}, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.True(t, s.Enqueue(&record.Batch{Records: []*record.Record{newTestRecord("I"), newTestRecord("E")}}))

	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(30 * time.Millisecond)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "totalMessages 2")
	assert.Contains(t, line, "severity {")
}

func TestRotateClosesAndEvictsWindows(t *testing.T) {
	s := New(Config{WindowInterval: time.Second, History: 2 * time.Second}, testLogger())
	s.rotate(100)
	require.Len(t, s.windows, 1)
	assert.Equal(t, int64(100), s.windows[0].timeBegin)
	assert.Equal(t, int64(101), s.windows[0].timeEnd)

	s.rotate(101)
	require.Len(t, s.windows, 2)
	assert.Equal(t, int64(101), s.windows[0].timeEnd, "previous window closed at rotation time")

	s.rotate(105)
	for _, w := range s.windows {
		assert.GreaterOrEqual(t, w.timeEnd, int64(105)-2)
	}
}
