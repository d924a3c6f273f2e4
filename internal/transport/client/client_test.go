package client

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infologger/pkg/fifo"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// fakeServer accepts exactly one connection, completes the INI/READY
// handshake, then hands the raw connection to the test for further
// scripting.
func fakeServer(t *testing.T) (addr string, nextConn func() net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	connCh := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		_, _ = r.ReadString('\n') // INI line
		_, _ = conn.Write([]byte("READY\n"))
		connCh <- conn
	}()

	return ln.Addr().String(), func() net.Conn {
		select {
		case c := <-connCh:
			return c
		case <-time.After(2 * time.Second):
			t.Fatal("server never accepted a connection")
			return nil
		}
	}
}

func newTestClient(t *testing.T, addr string) (*Client, *fifo.FIFO) {
	t.Helper()
	dir := t.TempDir()
	batchFifo, err := fifo.Open(fifo.Config{Path: filepath.Join(dir, "batch.fifo")}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { batchFifo.Close() })

	c := New(Config{
		ClientName:  "test-client",
		ServerAddr:  addr,
		ReadTimeout: 10 * time.Millisecond,
	}, batchFifo, nil, testLogger())
	return c, batchFifo
}

func TestHandshakeReachesConnected(t *testing.T) {
	addr, nextConn := fakeServer(t)
	c, _ := newTestClient(t, addr)

	require.NoError(t, c.Start())
	defer c.Stop()

	serverConn := nextConn()
	defer serverConn.Close()

	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)
}

func TestEnqueueBatchIsTransmittedAndAcked(t *testing.T) {
	addr, nextConn := fakeServer(t)
	c, batchFifo := newTestClient(t, addr)

	require.NoError(t, c.Start())
	defer c.Stop()

	serverConn := nextConn()
	defer serverConn.Close()

	require.Eventually(t, c.IsConnected, 2*time.Second, 10*time.Millisecond)

	ok, err := c.EnqueueBatch("test-client", 1, 1, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, ok)

	r := bufio.NewReader(serverConn)
	header, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, header, "File test-client 1 1 5")

	buf := make([]byte, 5)
	_, err = readFull(r, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	end, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "END\n", end)

	_, err = serverConn.Write([]byte("ACK 1 1\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return c.QueueFree() == c.config.WindowSize
	}, 2*time.Second, 10*time.Millisecond)

	_ = batchFifo
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
