package collector

import (
	"fmt"
	"net"
	"path/filepath"
	"sync"
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

type fakeSink struct {
	mu       sync.Mutex
	messages [][]byte
}

func (f *fakeSink) EnqueueMessage(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), payload...)
	f.messages = append(f.messages, cp)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func startCollector(t *testing.T, cfg Config, sink MessageSink) *Collector {
	t.Helper()
	c := New(cfg, sink, testLogger())
	go c.Serve()
	t.Cleanup(func() { c.Stop() })
	require.Eventually(t, func() bool { return c.listener != nil }, time.Second, 5*time.Millisecond)
	return c
}

func TestCollectorForwardsCompleteLines(t *testing.T) {
	sink := &fakeSink{}
	path := filepath.Join(t.TempDir(), "collector.sock")
	startCollector(t, Config{SocketName: path}, sink)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	fmt.Fprintf(conn, "line one\nline two\n")

	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "line one", string(sink.messages[0]))
	assert.Equal(t, "line two", string(sink.messages[1]))
}

func TestCollectorDropsPartialLineAtDisconnect(t *testing.T) {
	sink := &fakeSink{}
	path := filepath.Join(t.TempDir(), "collector.sock")
	startCollector(t, Config{SocketName: path}, sink)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)

	fmt.Fprintf(conn, "complete\nleftover without newline")
	conn.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "only the complete line should be forwarded")
}

func TestCollectorClosesConnectionsBeyondCap(t *testing.T) {
	sink := &fakeSink{}
	path := filepath.Join(t.TempDir(), "collector.sock")
	startCollector(t, Config{SocketName: path, MaxClients: 1}, sink)

	conn1, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn1.Close()

	conn2, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn2.Close()

	buf := make([]byte, 1)
	conn2.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn2.Read(buf)
	assert.Error(t, err, "connection beyond the cap should be closed immediately")
}
