package kafka

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
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

// fakeProducer implements the producer interface without dialing a
// broker: every message handed to Input() is recorded and immediately
// echoed back on Successes().
type fakeProducer struct {
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
	sent      chan *sarama.ProducerMessage
	failNext  bool
}

func newFakeProducer() *fakeProducer {
	fp := &fakeProducer{
		input:     make(chan *sarama.ProducerMessage, 16),
		successes: make(chan *sarama.ProducerMessage, 16),
		errors:    make(chan *sarama.ProducerError, 16),
		sent:      make(chan *sarama.ProducerMessage, 16),
	}
	go fp.loop()
	return fp
}

func (fp *fakeProducer) loop() {
	for msg := range fp.input {
		fp.sent <- msg
		if fp.failNext {
			fp.errors <- &sarama.ProducerError{Msg: msg, Err: assertError{}}
			continue
		}
		fp.successes <- msg
	}
}

type assertError struct{}

func (assertError) Error() string { return "fake producer error" }

func (fp *fakeProducer) Input() chan<- *sarama.ProducerMessage    { return fp.input }
func (fp *fakeProducer) Successes() <-chan *sarama.ProducerMessage { return fp.successes }
func (fp *fakeProducer) Errors() <-chan *sarama.ProducerError      { return fp.errors }
func (fp *fakeProducer) Close() error {
	close(fp.input)
	return nil
}

func newTestRecord(hostname string) *record.Record {
	r := record.NewRecord()
	r.SetString(record.FieldHostname, hostname)
	r.SetString(record.FieldSeverity, "I")
	r.SetString(record.FieldMessage, "hello")
	return r
}

func TestPublishSendsEachRecordToProducer(t *testing.T) {
	fp := newFakeProducer()
	c := newWithProducer(Config{Name: "kafka", Topic: "infologger"}, fp, testLogger())
	require.NoError(t, c.Start())
	defer c.Stop()

	ok := c.Enqueue(&record.Batch{Records: []*record.Record{newTestRecord("host-a"), newTestRecord("host-b")}})
	require.True(t, ok)

	var got []*sarama.ProducerMessage
	for i := 0; i < 2; i++ {
		select {
		case msg := <-fp.sent:
			got = append(got, msg)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for published message")
		}
	}

	assert.Len(t, got, 2)
	keys := map[string]bool{}
	for _, msg := range got {
		k, _ := msg.Key.Encode()
		keys[string(k)] = true
		assert.Equal(t, "infologger", msg.Topic)
	}
	assert.True(t, keys["host-a"])
	assert.True(t, keys["host-b"])
}

func TestPublishCountsSendAtHandoffRegardlessOfLaterProducerError(t *testing.T) {
	fp := newFakeProducer()
	fp.failNext = true
	c := newWithProducer(Config{Name: "kafka", Topic: "infologger"}, fp, testLogger())
	// publish() is called directly (no Start()) so the test can read
	// fp.sent/fp.errors itself without racing handleProducerResponses
	// for the same channels.
	c.publish(&record.Batch{Records: []*record.Record{newTestRecord("host-a")}})

	select {
	case <-fp.sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for send")
	}
	select {
	case <-fp.errors:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error propagation")
	}
	// the consumer counts a record as published once handed to the
	// async producer, independent of the producer's later verdict.
	assert.Equal(t, int64(1), c.publishedCount)
}

func TestRecordToJSONOmitsUndefinedFields(t *testing.T) {
	r := newTestRecord("host-a")
	b, err := recordToJSON(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"hostname":"host-a"`)
	assert.NotContains(t, string(b), "pid")
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	fp := newFakeProducer()
	c := newWithProducer(Config{Name: "kafka", Topic: "infologger", QueueSize: 1}, fp, testLogger())

	b := &record.Batch{Records: []*record.Record{newTestRecord("host-a")}}
	require.True(t, c.Enqueue(b))
	assert.False(t, c.Enqueue(b))
}
