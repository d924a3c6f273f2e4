// Package broadcast implements the InfoLogger live broadcast consumer
// (spec.md §4.7b): every record gets pushed, wire-encoded, to every
// connected subscriber, best-effort.
package broadcast

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"infologger/internal/consumers/subscriberset"
	"infologger/pkg/record"
)

const maxRecordBuf = 32 * 1024

// Config configures the broadcast consumer.
type Config struct {
	Name          string
	ListenAddr    string
	MaxTxClients  int           // fixed slot-array capacity, default 64
	WriteTimeout  time.Duration // per-slot writable-readiness window, default 3s
	ProbeInterval time.Duration // how often to probe slots for EOF, default 250ms
	QueueSize     int           // default 1024
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "broadcast"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// Broadcast is a dispatch.Consumer: it owns its subscriber slot array
// exclusively and is never touched by the hub directly (§5 "Shared
// resources" (c)).
type Broadcast struct {
	config Config
	logger *logrus.Logger

	subs *subscriberset.Set
	queue chan *record.Batch

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, logger *logrus.Logger) *Broadcast {
	cfg.setDefaults()
	return &Broadcast{
		config: cfg,
		logger: logger,
		subs: subscriberset.New(cfg.Name, subscriberset.Config{
			ListenAddr:    cfg.ListenAddr,
			MaxClients:    cfg.MaxTxClients,
			WriteTimeout:  cfg.WriteTimeout,
			ProbeInterval: cfg.ProbeInterval,
		}, logger),
		queue:  make(chan *record.Batch, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

func (b *Broadcast) Name() string { return b.config.Name }

// Enqueue is the dispatch.Consumer hook: the hub's only interaction with
// this consumer.
func (b *Broadcast) Enqueue(batch *record.Batch) bool {
	select {
	case b.queue <- batch:
		return true
	default:
		return false
	}
}

// Addr exposes the subscriber listener address, mainly for tests.
func (b *Broadcast) Addr() string {
	if a := b.subs.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Start opens the subscriber listener and launches the message-process loop.
func (b *Broadcast) Start() error {
	if err := b.subs.Start(); err != nil {
		return err
	}
	b.wg.Add(1)
	go b.messageProcessLoop()
	return nil
}

func (b *Broadcast) Stop() error {
	close(b.stopCh)
	b.wg.Wait()
	return b.subs.Stop()
}

// messageProcessLoop is customMessageProcess: encode-once, write-many per
// record.
func (b *Broadcast) messageProcessLoop() {
	defer b.wg.Done()
	buf := make([]byte, maxRecordBuf)

	for {
		select {
		case <-b.stopCh:
			return
		case batch := <-b.queue:
			for _, r := range batch.Records {
				n, _ := record.Encode(r, buf, "message")
				if n > 0 {
					b.subs.FanOut(buf[:n])
				}
			}
		}
	}
}
