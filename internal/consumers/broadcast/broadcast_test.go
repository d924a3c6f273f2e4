package broadcast

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

func newTestRecord(msg string) *record.Record {
	r := record.NewRecord()
	r.SetString(record.FieldSeverity, "I")
	r.SetString(record.FieldHostname, "host01")
	r.SetString(record.FieldMessage, msg)
	return r
}

func TestBroadcastDeliversToSubscriber(t *testing.T) {
	b := New(Config{ListenAddr: "127.0.0.1:0", ProbeInterval: 10 * time.Millisecond}, testLogger())
	require.NoError(t, b.Start())
	defer b.Stop()

	conn, err := net.Dial("tcp", b.Addr())
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond) // let accept loop place the slot

	assert.True(t, b.Enqueue(&record.Batch{Records: []*record.Record{newTestRecord("hello")}}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "hello")
}

func TestBroadcastClosesOverflowConnections(t *testing.T) {
	b := New(Config{ListenAddr: "127.0.0.1:0", MaxTxClients: 1, ProbeInterval: 10 * time.Millisecond}, testLogger())
	require.NoError(t, b.Start())
	defer b.Stop()

	conn1, err := net.Dial("tcp", b.Addr())
	require.NoError(t, err)
	defer conn1.Close()

	time.Sleep(50 * time.Millisecond)

	conn2, err := net.Dial("tcp", b.Addr())
	require.NoError(t, err)
	defer conn2.Close()

	conn2.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn2.Read(buf)
	assert.Error(t, err, "overflow connection should be closed by the server")
}

func TestBroadcastDropsSlotOnSubscriberEOF(t *testing.T) {
	b := New(Config{ListenAddr: "127.0.0.1:0", ProbeInterval: 10 * time.Millisecond}, testLogger())
	require.NoError(t, b.Start())
	defer b.Stop()

	conn, err := net.Dial("tcp", b.Addr())
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	conn.Close()

	require.Eventually(t, func() bool {
		for _, c := range b.subs.Slots() {
			if c != nil {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}
