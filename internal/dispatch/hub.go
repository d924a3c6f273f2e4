// Package dispatch implements the InfoLogger dispatch hub (spec.md §4.6):
// the single consumer goroutine on the central server that pulls decoded
// batches off the transport server's FIFO and fans them out to every
// registered consumer with per-consumer isolation.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"infologger/internal/tracing"
	"infologger/internal/transport/server"
	"infologger/pkg/record"
)

// Consumer is a registered, non-DB fan-out target: a bounded queue with
// its own drop counter, so one slow consumer never backpressures another
// (§4.6 step 3).
type Consumer interface {
	Name() string
	// Enqueue offers a batch to the consumer's queue without blocking.
	// A false return means the queue was full and the batch was
	// dropped for this consumer only.
	Enqueue(batch *record.Batch) bool
}

// Config configures the hub.
type Config struct {
	PollTimeout time.Duration // how long GetBatch may block per iteration, default 200ms
	DBPasses    int           // full passes over the DB pool before dropping, default 3
	DBRetryWait time.Duration // sleep between DB pool passes, default 10ms
}

func (c *Config) setDefaults() {
	if c.PollTimeout <= 0 {
		c.PollTimeout = 200 * time.Millisecond
	}
	if c.DBPasses <= 0 {
		c.DBPasses = 3
	}
	if c.DBRetryWait <= 0 {
		c.DBRetryWait = 10 * time.Millisecond
	}
}

// DropCounters is the audit surface the hub reports through: one counter
// per consumer name, plus the db pool, that survives across ack (§4.6
// step 5's "DB loss here is accepted by design and surfaced via the drop
// counter").
type DropCounters interface {
	IncDrop(consumerName string)
}

// Hub owns the fan-out loop. It is not safe to call Run from more than
// one goroutine; the hub is itself the single consumer the spec names.
type Hub struct {
	config Config
	logger *logrus.Logger

	transportServer *server.Server
	consumers       []Consumer
	dbPool          []Consumer
	drops           DropCounters
	tracer          *tracing.Provider

	nextDBIdx int

	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mutex     sync.Mutex
	loopWg    sync.WaitGroup
}

// New builds a hub. consumers are fanned out to unconditionally (subject
// to their own queue capacity); dbPool members are tried round-robin with
// the 3-pass-then-drop policy.
func New(cfg Config, transportServer *server.Server, consumers []Consumer, dbPool []Consumer, drops DropCounters, logger *logrus.Logger) *Hub {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:          cfg,
		logger:          logger,
		transportServer: transportServer,
		consumers:       consumers,
		dbPool:          dbPool,
		drops:           drops,
		ctx:             ctx,
		cancel:          cancel,
	}
}

// SetTracer attaches a tracer used to span each batch's decode+fanout;
// a nil or never-set tracer keeps process() untraced (tracing.Provider
// itself is nil-safe, so this is purely an optional wiring point).
func (h *Hub) SetTracer(tracer *tracing.Provider) {
	h.tracer = tracer
}

// Start launches the fan-out loop in its own goroutine.
func (h *Hub) Start() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if h.isRunning {
		return fmt.Errorf("dispatch hub: already running")
	}
	h.isRunning = true

	h.logger.WithFields(logrus.Fields{
		"component":   "dispatch_hub",
		"consumers":   len(h.consumers),
		"db_pool":     len(h.dbPool),
		"poll_timeout": h.config.PollTimeout,
	}).Info("starting dispatch hub")

	h.loopWg.Add(1)
	go h.loop()
	return nil
}

// Stop cancels the fan-out loop and waits for it to exit.
func (h *Hub) Stop() error {
	h.mutex.Lock()
	if !h.isRunning {
		h.mutex.Unlock()
		return nil
	}
	h.isRunning = false
	h.mutex.Unlock()

	h.cancel()
	h.loopWg.Wait()
	return nil
}

func (h *Hub) loop() {
	defer h.loopWg.Done()
	for {
		if h.ctx.Err() != nil {
			return
		}
		batch, ok := h.transportServer.GetBatch(h.config.PollTimeout)
		if !ok {
			continue
		}
		h.process(batch)
	}
}

// process implements steps 2-5 of §4.6 for one wire batch.
func (h *Hub) process(wire server.Batch) {
	_, span := h.tracer.StartSpan(h.ctx, "dispatch.hub", "process",
		attribute.String("source", wire.ID.Source),
	)
	defer span.End()

	records, decodeErrs := record.DecodeBatch(string(wire.Payload))
	for _, derr := range decodeErrs {
		h.logger.WithFields(logrus.Fields{
			"component": "dispatch_hub",
			"source":    wire.ID.Source,
			"error":     derr,
		}).Warn("dropping undecodable record within batch")
	}
	if len(decodeErrs) > 0 {
		tracing.EndWithError(span, fmt.Errorf("%d undecodable records dropped", len(decodeErrs)))
	}

	decoded := &record.Batch{
		ID: record.BatchID{Source: wire.ID.Source, Major: wire.ID.Major, Minor: wire.ID.Minor},
		Records: records,
	}

	for _, c := range h.consumers {
		if !c.Enqueue(decoded) {
			h.logger.WithFields(logrus.Fields{
				"component": "dispatch_hub",
				"consumer":  c.Name(),
				"source":    decoded.ID.Source,
			}).Warn("consumer queue full, batch dropped for this consumer")
			if h.drops != nil {
				h.drops.IncDrop(c.Name())
			}
		}
	}

	h.dispatchToDBPool(decoded)

	// Ack regardless of fan-out or DB outcome: the durable upstream FIFO
	// is the only authoritative retry mechanism (§4.6 step 5).
	h.transportServer.AckBatch(wire.ID)
}

// dispatchToDBPool implements step 4's round-robin-with-retry placement.
func (h *Hub) dispatchToDBPool(batch *record.Batch) {
	if len(h.dbPool) == 0 {
		return
	}

	for pass := 0; pass < h.config.DBPasses; pass++ {
		for i := 0; i < len(h.dbPool); i++ {
			idx := (h.nextDBIdx + i) % len(h.dbPool)
			if h.dbPool[idx].Enqueue(batch) {
				h.nextDBIdx = (idx + 1) % len(h.dbPool)
				return
			}
		}
		if pass < h.config.DBPasses-1 {
			time.Sleep(h.config.DBRetryWait)
		}
	}

	h.logger.WithFields(logrus.Fields{
		"component": "dispatch_hub",
		"source":    batch.ID.Source,
		"passes":    h.config.DBPasses,
	}).Warn("db pool saturated, batch dropped for database insertion")
	if h.drops != nil {
		h.drops.IncDrop("db_pool")
	}
}
