package subscriberset

import (
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

func TestAcceptPlacesConnectionInSlot(t *testing.T) {
	s := New("test", Config{ListenAddr: "127.0.0.1:0", ProbeInterval: 10 * time.Millisecond}, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		for _, c := range s.Slots() {
			if c != nil {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestOverflowConnectionClosed(t *testing.T) {
	s := New("test", Config{ListenAddr: "127.0.0.1:0", MaxClients: 1, ProbeInterval: 10 * time.Millisecond}, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	conn1, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn1.Close()

	time.Sleep(50 * time.Millisecond)

	conn2, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn2.Close()

	conn2.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err = conn2.Read(buf)
	assert.Error(t, err)
}

func TestFanOutDeliversToSlot(t *testing.T) {
	s := New("test", Config{ListenAddr: "127.0.0.1:0", ProbeInterval: 10 * time.Millisecond}, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	s.FanOut([]byte("hello\n"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(buf[:n]))
}

func TestDropsSlotOnSubscriberEOF(t *testing.T) {
	s := New("test", Config{ListenAddr: "127.0.0.1:0", ProbeInterval: 10 * time.Millisecond}, testLogger())
	require.NoError(t, s.Start())
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	require.Eventually(t, func() bool {
		for _, c := range s.Slots() {
			if c != nil {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)
}
