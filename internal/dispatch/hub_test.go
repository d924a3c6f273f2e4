package dispatch

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"infologger/internal/transport/server"
	"infologger/pkg/record"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

type fakeConsumer struct {
	name     string
	capacity int

	mu      sync.Mutex
	batches []*record.Batch
}

func newFakeConsumer(name string, capacity int) *fakeConsumer {
	return &fakeConsumer{name: name, capacity: capacity}
}

func (f *fakeConsumer) Name() string { return f.name }

func (f *fakeConsumer) Enqueue(batch *record.Batch) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) >= f.capacity {
		return false
	}
	f.batches = append(f.batches, batch)
	return true
}

func (f *fakeConsumer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func startServerForHub(t *testing.T) *server.Server {
	t.Helper()
	s := server.New(server.Config{ListenAddr: "127.0.0.1:0"}, testLogger())
	go s.Serve()
	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)
	t.Cleanup(func() { s.Stop() })
	return s
}

func sendRawBatch(t *testing.T, addr string, payload string) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	fmt.Fprintf(conn, "INI probe CanBeProxy\n")
	r := bufio.NewReader(conn)
	_, err = r.ReadString('\n')
	require.NoError(t, err)
	fmt.Fprintf(conn, "File src01 1 1 %d\n%sEND\n", len(payload), payload)
	time.Sleep(50 * time.Millisecond)
}

func TestHubFansOutAndAcks(t *testing.T) {
	s := startServerForHub(t)

	consumerA := newFakeConsumer("a", 10)
	consumerB := newFakeConsumer("b", 10)
	audit := NewAuditLog(AuditLogConfig{}, testLogger())
	require.NoError(t, audit.Start())
	defer audit.Stop()

	hub := New(Config{PollTimeout: 20 * time.Millisecond}, s, []Consumer{consumerA, consumerB}, nil, audit, testLogger())
	require.NoError(t, hub.Start())
	defer hub.Stop()

	payload := "*1.4#I#0#1700000000.0#host#role#42#user#sys#fac#det#part#7#0#0#src#hello\n"
	sendRawBatch(t, s.Addr().String(), payload)

	require.Eventually(t, func() bool { return consumerA.count() == 1 && consumerB.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	batch := consumerA.batches[0]
	assert.Equal(t, "src01", batch.ID.Source)
	assert.Len(t, batch.Records, 1)
}

func TestHubIsolatesFullConsumerQueue(t *testing.T) {
	s := startServerForHub(t)

	full := newFakeConsumer("full", 0)
	roomy := newFakeConsumer("roomy", 10)
	audit := NewAuditLog(AuditLogConfig{}, testLogger())
	require.NoError(t, audit.Start())
	defer audit.Stop()

	hub := New(Config{PollTimeout: 20 * time.Millisecond}, s, []Consumer{full, roomy}, nil, audit, testLogger())
	require.NoError(t, hub.Start())
	defer hub.Stop()

	payload := "*1.4#I#0#1700000000.0#host#role#42#user#sys#fac#det#part#7#0#0#src#hello\n"
	sendRawBatch(t, s.Addr().String(), payload)

	require.Eventually(t, func() bool { return roomy.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, full.count())
	assert.Eventually(t, func() bool { return audit.Counts()["full"] == 1 }, time.Second, 10*time.Millisecond)
}

func TestDBPoolRoundRobinDropsAfterPasses(t *testing.T) {
	s := startServerForHub(t)

	dbA := newFakeConsumer("dbA", 0)
	dbB := newFakeConsumer("dbB", 0)
	audit := NewAuditLog(AuditLogConfig{}, testLogger())
	require.NoError(t, audit.Start())
	defer audit.Stop()

	hub := New(Config{PollTimeout: 20 * time.Millisecond, DBPasses: 2, DBRetryWait: time.Millisecond}, s, nil, []Consumer{dbA, dbB}, audit, testLogger())
	require.NoError(t, hub.Start())
	defer hub.Stop()

	payload := "*1.4#I#0#1700000000.0#host#role#42#user#sys#fac#det#part#7#0#0#src#hello\n"
	sendRawBatch(t, s.Addr().String(), payload)

	require.Eventually(t, func() bool { return audit.Counts()["db_pool"] == 1 }, 2*time.Second, 10*time.Millisecond)
}
