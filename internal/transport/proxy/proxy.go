// Package proxy composes a transport client (toward the root server) with
// a transport server (toward downstream clients), per spec.md §4.4's proxy
// note: each received batch is pushed into the upstream client's queue,
// and each upstream ack becomes a downstream ack.
package proxy

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"infologger/internal/transport/client"
	"infologger/internal/transport/server"
	"infologger/pkg/fifo"
)

// ackKey identifies a relayed batch independent of which downstream
// connection it arrived on, so an upstream AckedBatch can be resolved
// back to the server.BatchID (including sender-index) needed to route the
// downstream ACK.
type ackKey struct {
	Source string
	MinID  uint64
	MajID  uint64
}

type ackTracker struct {
	mu sync.Mutex
	m  map[ackKey]server.BatchID
}

func newAckTracker() *ackTracker {
	return &ackTracker{m: make(map[ackKey]server.BatchID)}
}

func (t *ackTracker) store(id server.BatchID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[ackKey{Source: id.Source, MinID: id.Minor, MajID: id.Major}] = id
}

func (t *ackTracker) resolve(ack client.AckedBatch) (server.BatchID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := ackKey{Source: ack.Source, MinID: ack.MinID, MajID: ack.MajID}
	id, ok := t.m[key]
	if ok {
		delete(t.m, key)
	}
	return id, ok
}

// Config configures a proxy process.
type Config struct {
	Name       string
	UpstreamAddr string
	ListenAddr string
	SpillDir   string // directory for the upstream client's persistent FIFO

	PollInterval time.Duration // how often the relay loop drains the downstream server, default 20ms
}

func (c *Config) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 20 * time.Millisecond
	}
}

// Proxy relays batches between a downstream transport.Server and an
// upstream transport.Client.
type Proxy struct {
	config Config
	logger *logrus.Logger

	upstream    *client.Client
	downstream  *server.Server
	relayQueue  *fifo.FIFO
	pendingAcks *ackTracker

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a proxy. The upstream client identifies itself as IsProxy in
// its INI handshake so the root may route further clients back through it
// via USE_PROXY.
func New(cfg Config, logger *logrus.Logger) (*Proxy, error) {
	cfg.setDefaults()

	relayQueue, err := fifo.Open(fifo.Config{Path: filepath.Join(cfg.SpillDir, "proxy-relay.fifo")}, logger)
	if err != nil {
		return nil, fmt.Errorf("proxy: open relay fifo: %w", err)
	}

	p := &Proxy{config: cfg, logger: logger, relayQueue: relayQueue, pendingAcks: newAckTracker()}

	p.upstream = client.New(client.Config{
		ClientName: cfg.Name,
		ProxyState: client.IsProxy,
		ServerAddr: cfg.UpstreamAddr,
	}, relayQueue, nil, logger)

	p.downstream = server.New(server.Config{
		ListenAddr: cfg.ListenAddr,
	}, logger)

	return p, nil
}

// Start launches the upstream client, the downstream listener, and the
// relay goroutines.
func (p *Proxy) Start() error {
	if err := p.upstream.Start(); err != nil {
		return err
	}

	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go func() {
		if err := p.downstream.Serve(); err != nil {
			p.logger.WithFields(logrus.Fields{"component": "proxy", "error": err}).Error("downstream server stopped")
		}
	}()

	go p.relayLoop()

	return nil
}

// relayLoop moves accepted downstream batches into the upstream client's
// queue, and upstream acks back out as downstream acks.
func (p *Proxy) relayLoop() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		if batch, ok := p.downstream.GetBatch(p.config.PollInterval); ok {
			enqueued, err := p.upstream.EnqueueBatch(batch.ID.Source, batch.ID.Minor, batch.ID.Major, batch.Payload)
			if err != nil {
				p.logger.WithFields(logrus.Fields{"component": "proxy", "error": err}).Warn("failed to enqueue relayed batch upstream")
				continue
			}
			if !enqueued {
				p.logger.WithFields(logrus.Fields{"component": "proxy", "source": batch.ID.Source}).Warn("upstream queue full, dropping relayed batch")
				continue
			}
			p.pendingAcks.store(batch.ID)
		}

		if ack, ok := p.upstream.DrainAck(0); ok {
			if downstreamID, known := p.pendingAcks.resolve(ack); known {
				p.downstream.AckBatch(downstreamID)
			}
		}
	}
}

// Stop shuts the relay loop, the downstream listener, the upstream client,
// and the relay FIFO down in that order.
func (p *Proxy) Stop() error {
	if p.stopCh != nil {
		close(p.stopCh)
		<-p.doneCh
	}
	if err := p.downstream.Stop(); err != nil {
		return err
	}
	if err := p.upstream.Stop(); err != nil {
		return err
	}
	return p.relayQueue.Close()
}
