package server

import (
	"bufio"
	"fmt"
	"net"
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

func startTestServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	cfg.ListenAddr = "127.0.0.1:0"
	s := New(cfg, testLogger())

	ready := make(chan string, 1)
	go func() {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		require.NoError(t, err)
		s.listener = ln
		ready <- ln.Addr().String()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.acceptsWg.Add(1)
			go s.handleConn(c)
		}
	}()
	addr := <-ready
	t.Cleanup(func() { s.Stop() })
	return s, addr
}

func dialAndHandshake(t *testing.T, addr string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	fmt.Fprintf(conn, "INI probe-client CanBeProxy\n")
	r := bufio.NewReader(conn)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "READY\n", line)
	return conn, r
}

func TestHandshakeSendsReady(t *testing.T) {
	_, addr := startTestServer(t, Config{})
	conn, _ := dialAndHandshake(t, addr)
	defer conn.Close()
}

func TestFramedBatchDeliveredToInbox(t *testing.T) {
	s, addr := startTestServer(t, Config{})
	conn, _ := dialAndHandshake(t, addr)
	defer conn.Close()

	payload := "hello world"
	fmt.Fprintf(conn, "File src01 1 1 %d\n", len(payload))
	conn.Write([]byte(payload))
	fmt.Fprintf(conn, "END\n")

	batch, ok := s.GetBatch(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, "src01", batch.ID.Source)
	assert.Equal(t, uint64(1), batch.ID.Minor)
	assert.Equal(t, uint64(1), batch.ID.Major)
	assert.Equal(t, payload, string(batch.Payload))
}

func TestAckBatchRoundTrip(t *testing.T) {
	s, addr := startTestServer(t, Config{})
	conn, r := dialAndHandshake(t, addr)
	defer conn.Close()

	payload := "x"
	fmt.Fprintf(conn, "File src01 5 2 %d\n", len(payload))
	conn.Write([]byte(payload))
	fmt.Fprintf(conn, "END\n")

	batch, ok := s.GetBatch(2 * time.Second)
	require.True(t, ok)

	s.AckBatch(batch.ID)

	ackLine, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ACK 5 2\n", ackLine)
}

func TestAckBatchDroppedWhenConnectionGone(t *testing.T) {
	s, addr := startTestServer(t, Config{})
	conn, _ := dialAndHandshake(t, addr)

	payload := "x"
	fmt.Fprintf(conn, "File src01 1 1 %d\n", len(payload))
	conn.Write([]byte(payload))
	fmt.Fprintf(conn, "END\n")

	batch, ok := s.GetBatch(2 * time.Second)
	require.True(t, ok)

	conn.Close()
	time.Sleep(50 * time.Millisecond)

	assert.NotPanics(t, func() { s.AckBatch(batch.ID) })
}

func TestInboxFullDropsBatch(t *testing.T) {
	s, addr := startTestServer(t, Config{InboxCapacity: 1})
	conn, _ := dialAndHandshake(t, addr)
	defer conn.Close()

	for i := 0; i < 3; i++ {
		fmt.Fprintf(conn, "File src01 %d 1 1\nx", i+1)
		fmt.Fprintf(conn, "END\n")
	}

	time.Sleep(100 * time.Millisecond)
	_, ok := s.GetBatch(0)
	assert.True(t, ok, "at least the first batch should have been buffered")
}
