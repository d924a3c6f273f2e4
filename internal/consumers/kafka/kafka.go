// Package kafka implements the InfoLogger Kafka republish consumer
// (SPEC_FULL.md domain-stack expansion): every decoded record is
// marshalled to JSON and produced to a configured topic, partitioned by
// hostname so all of one machine's messages land on the same partition.
// Best-effort, like every other fan-out consumer (§4.6): a full queue
// increments the hub's per-consumer drop counter, a record that cannot be
// marshalled or handed to the producer increments this consumer's own
// drop counter, and an asynchronous producer error is only logged; there
// is never a retry or a dead-letter queue.
package kafka

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"infologger/internal/tracing"
	"infologger/pkg/circuit"
	"infologger/pkg/errors"
	"infologger/pkg/record"
)

// Config configures the Kafka consumer.
type Config struct {
	Name         string
	Brokers      []string
	Topic        string
	SASLUser     string
	SASLPassword string
	Compression  string // none|gzip|snappy|lz4|zstd
	QueueSize    int    // default 1024
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "kafka"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// producer is the slice of sarama.AsyncProducer the consumer depends on,
// narrowed so tests can substitute a fake without dialing a broker.
type producer interface {
	Input() chan<- *sarama.ProducerMessage
	Successes() <-chan *sarama.ProducerMessage
	Errors() <-chan *sarama.ProducerError
	Close() error
}

// Consumer is a dispatch.Consumer: republishes every record of every
// batch it receives to Kafka, independently of every other consumer.
type Consumer struct {
	config  Config
	logger  *logrus.Logger
	tracer  *tracing.Provider
	breaker *circuit.Breaker
	prod    producer

	queue chan *record.Batch

	publishedCount int64
	droppedCount   int64

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Consumer backed by a real sarama.AsyncProducer.
func New(cfg Config, logger *logrus.Logger) (*Consumer, error) {
	cfg.setDefaults()
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka consumer: no topic configured")
	}

	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.Return.Errors = true
	saramaCfg.Producer.Partitioner = sarama.NewHashPartitioner

	switch strings.ToLower(cfg.Compression) {
	case "gzip":
		saramaCfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaCfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaCfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaCfg.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaCfg.Producer.Compression = sarama.CompressionNone
	}

	if cfg.SASLUser != "" {
		saramaCfg.Net.SASL.Enable = true
		saramaCfg.Net.SASL.User = cfg.SASLUser
		saramaCfg.Net.SASL.Password = cfg.SASLPassword
		saramaCfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		saramaCfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgSCRAMClient{HashGeneratorFcn: scramSHA256}
		}
	}

	p, err := sarama.NewAsyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: new producer: %w", err)
	}
	return newWithProducer(cfg, p, logger), nil
}

func newWithProducer(cfg Config, p producer, logger *logrus.Logger) *Consumer {
	cfg.setDefaults()
	return &Consumer{
		config: cfg,
		logger: logger,
		prod:   p,
		breaker: circuit.NewBreaker(circuit.BreakerConfig{
			Name:             "kafka_" + cfg.Name,
			FailureThreshold: 10,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
		}, logger),
		queue:  make(chan *record.Batch, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// SetTracer attaches a tracer spanning each published record; a
// never-set tracer leaves the consumer untraced.
func (c *Consumer) SetTracer(tracer *tracing.Provider) {
	c.tracer = tracer
}

func (c *Consumer) Name() string { return c.config.Name }

// Enqueue is the dispatch.Consumer hook: the hub's only interaction with
// this consumer.
func (c *Consumer) Enqueue(batch *record.Batch) bool {
	select {
	case c.queue <- batch:
		return true
	default:
		return false
	}
}

// Start launches the batch-process loop and the producer-response drain
// loop (required once Producer.Return.Successes/Errors are enabled, or
// the producer's internal channels fill and block every future send).
func (c *Consumer) Start() error {
	c.wg.Add(2)
	go c.processLoop()
	go c.handleProducerResponses()
	return nil
}

// Stop drains in-flight work and closes the underlying producer, logging
// final counters.
func (c *Consumer) Stop() error {
	close(c.stopCh)
	c.wg.Wait()

	err := c.prod.Close()
	c.logger.WithFields(logrus.Fields{
		"component": "kafka_consumer",
		"name":      c.config.Name,
		"published": atomic.LoadInt64(&c.publishedCount),
		"dropped":   atomic.LoadInt64(&c.droppedCount),
	}).Info("kafka consumer stopped")
	return err
}

func (c *Consumer) processLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case batch := <-c.queue:
			c.publish(batch)
		}
	}
}

func (c *Consumer) publish(batch *record.Batch) {
	for _, r := range batch.Records {
		_, span := c.tracer.StartSpan(context.Background(), "kafka.consumer", "publish")
		value, err := recordToJSON(r)
		if err != nil {
			c.logger.WithFields(logrus.Fields{"component": "kafka_consumer", "error": err}).Warn("marshal failed, dropping record")
			atomic.AddInt64(&c.droppedCount, 1)
			tracing.EndWithError(span, err)
			span.End()
			continue
		}

		key := partitionKey(r)
		msg := &sarama.ProducerMessage{Topic: c.config.Topic, Key: sarama.StringEncoder(key), Value: sarama.ByteEncoder(value)}

		sendErr := c.breaker.Execute(func() error {
			select {
			case c.prod.Input() <- msg:
				return nil
			case <-time.After(time.Second):
				return errors.NetworkError("kafka_publish", "producer input channel full")
			}
		})
		if sendErr != nil {
			c.logger.WithFields(logrus.Fields{"component": "kafka_consumer", "error": sendErr}).Warn("publish failed")
			atomic.AddInt64(&c.droppedCount, 1)
			tracing.EndWithError(span, sendErr)
			span.End()
			continue
		}
		atomic.AddInt64(&c.publishedCount, 1)
		span.End()
	}
}

// handleProducerResponses drains the producer's async success/error
// channels; only bookkeeping happens here, since the consumer has
// already counted the send as published once handed to the producer.
func (c *Consumer) handleProducerResponses() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case success := <-c.prod.Successes():
			if success != nil {
				c.logger.WithFields(logrus.Fields{
					"component": "kafka_consumer", "topic": success.Topic, "partition": success.Partition,
				}).Trace("message delivered to kafka")
			}
		case prodErr := <-c.prod.Errors():
			if prodErr != nil {
				c.logger.WithFields(logrus.Fields{"component": "kafka_consumer", "error": prodErr.Err}).Warn("kafka produce error")
			}
		}
	}
}

// partitionKey routes every record from one host to the same partition.
func partitionKey(r *record.Record) string {
	v, ok := r.Get(record.FieldHostname)
	if !ok {
		return ""
	}
	return v.Str
}
