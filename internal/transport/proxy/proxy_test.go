package proxy

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infologger/internal/transport/client"
	"infologger/internal/transport/server"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func TestNewBuildsUpstreamAndDownstream(t *testing.T) {
	dir := t.TempDir()
	p, err := New(Config{
		Name:         "proxy-1",
		UpstreamAddr: "127.0.0.1:0",
		ListenAddr:   "127.0.0.1:0",
		SpillDir:     dir,
	}, testLogger())
	require.NoError(t, err)
	require.NotNil(t, p.upstream)
	require.NotNil(t, p.downstream)
	defer p.relayQueue.Close()
}

func TestAckTrackerStoreAndResolve(t *testing.T) {
	tr := newAckTracker()
	id := server.BatchID{SenderIndex: 7}
	id.Source = "dcs01"
	id.Minor = 3
	id.Major = 1
	tr.store(id)

	got, ok := tr.resolve(client.AckedBatch{Source: "dcs01", MinID: 3, MajID: 1})
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = tr.resolve(client.AckedBatch{Source: "dcs01", MinID: 3, MajID: 1})
	assert.False(t, ok, "resolve consumes the entry")
}
