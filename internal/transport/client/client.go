// Package client implements the InfoLogger transport client (spec.md §4.3):
// a durable-queue-backed TCP sender that speaks the INI/READY handshake and
// the File/END batch framing to a transport server or proxy.
package client

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"infologger/internal/tracing"
	"infologger/internal/transport"
	"infologger/pkg/circuit"
	"infologger/pkg/errors"
	"infologger/pkg/fifo"
)

// State is one step of the client's connection state machine.
type State int

const (
	NotConnected State = iota
	OpeningClient
	Connected
	ClosingClient
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "not_connected"
	case OpeningClient:
		return "opening"
	case Connected:
		return "connected"
	case ClosingClient:
		return "closing"
	default:
		return "unknown"
	}
}

// ProxyState mirrors transport.ProxyState; duplicated here as a plain
// string type so callers don't need to import the transport package just
// to build a Config.
type ProxyState string

const (
	CanBeProxy    ProxyState = "CanBeProxy"
	CannotBeProxy ProxyState = "CannotBeProxy"
	IsProxy       ProxyState = "IsProxy"
)

// Config configures a transport client.
type Config struct {
	ClientName string
	ProxyState ProxyState

	// ServerAddr is host:port of the root server. A USE_PROXY line
	// received during the handshake redirects subsequent connect
	// attempts to a different address.
	ServerAddr string

	MinBackoff time.Duration // default 1s
	MaxBackoff time.Duration // default 300s

	WindowSize  int           // in-flight batches, default 8
	DialTimeout time.Duration // default 10s
	ReadTimeout time.Duration // poll interval for the connected-loop reader, default 50ms

	HandshakeTimeout time.Duration // per sub-state, default 10s

	// StallThreshold non-progressing iterations before the watchdog timer
	// starts (default 10); StallTimeout is how long the connection may
	// then sit stalled before being reset (default 30s).
	StallThreshold int
	StallTimeout   time.Duration

	// OnNodeID and OnBeProxy surface handshake directives from the
	// server (USE_PROXY is handled inside the client, see ServerAddr).
	// OnBeProxy is how a proxy process (§4.4) learns it
	// should start accepting downstream connections.
	OnNodeID  func(id int64)
	OnBeProxy func(host string, port int)
}

func (c *Config) setDefaults() {
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 300 * time.Second
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 8
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 50 * time.Millisecond
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.StallThreshold <= 0 {
		c.StallThreshold = 10
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Second
	}
}

// pending is one in-flight, unacknowledged batch.
type pending struct {
	env       envelope
	fromFIFO  bool   // true if sourced from the batch FIFO (ack by fifo id)
	fromMsg   bool   // true if wrapped from a single message-FIFO item
	sourceID  uint64 // FIFO item id backing this entry, for Ack()
	sent      bool
}

// Client drives one outbound TCP connection per spec.md §4.3.
type Client struct {
	config Config
	logger *logrus.Logger

	fifo    *fifo.FIFO // batch queue (enqueueBatch)
	msgFIFO *fifo.FIFO // message queue (enqueueMessage), optional

	breaker *circuit.Breaker
	tracer  *tracing.Provider

	ctx    context.Context
	cancel context.CancelFunc
	loopWg sync.WaitGroup

	mu                 sync.RWMutex
	state              State
	conn               net.Conn
	serverAddr         string
	isRunning          bool
	shutdownRequested  bool
	nodeID             int64
	inFlight           []*pending
	ackHigh            map[string]uint64 // per-source high-water mark, informational
	drainAckCh         chan envelope
	noProgressCount    int
	stallTimer         *time.Time
}

// New builds a client. fifoQueue carries pre-built outgoing batches
// (proxy relay use-case); msgQueue carries single encoded records from the
// local collector (§4.5) and may be nil if this client never wraps raw
// messages itself.
func New(cfg Config, fifoQueue, msgQueue *fifo.FIFO, logger *logrus.Logger) *Client {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:     cfg,
		logger:     logger,
		fifo:       fifoQueue,
		msgFIFO:    msgQueue,
		serverAddr: cfg.ServerAddr,
		ctx:        ctx,
		cancel:     cancel,
		ackHigh:    make(map[string]uint64),
		drainAckCh: make(chan envelope, cfg.WindowSize),
		breaker: circuit.NewBreaker(circuit.BreakerConfig{
			Name:             "transport_client_connect",
			FailureThreshold: 5,
			SuccessThreshold: 1,
			Timeout:          30 * time.Second,
		}, logger),
	}
}

// SetTracer attaches a tracer spanning each handshake attempt; a
// never-set tracer leaves the client untraced.
func (c *Client) SetTracer(tracer *tracing.Provider) {
	c.tracer = tracer
}

// Start launches the client's connection-management goroutine.
func (c *Client) Start() error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return fmt.Errorf("transport client: already running")
	}
	c.isRunning = true
	c.mu.Unlock()

	c.loopWg.Add(1)
	go c.run()
	return nil
}

// Stop requests shutdown and waits for the connection loop to exit.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.shutdownRequested = true
	c.mu.Unlock()

	c.cancel()
	c.loopWg.Wait()
	return nil
}

// EnqueueBatch offers a pre-built outgoing batch to the client's durable
// FIFO. Returns false, with the FIFO's error, if the write fails.
func (c *Client) EnqueueBatch(source string, minID, majID uint64, payload []byte) (bool, error) {
	env := envelope{Source: source, MinID: minID, MajID: majID, Payload: payload}
	if _, err := c.fifo.Write(encodeEnvelope(env)); err != nil {
		if err == fifo.ErrEmpty {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// EnqueueMessage writes one already-encoded record line into the durable
// message FIFO fed by the local collector (§4.5).
func (c *Client) EnqueueMessage(payload []byte) error {
	if c.msgFIFO == nil {
		return errors.PersistenceError("enqueue_message", "client has no message fifo configured")
	}
	_, err := c.msgFIFO.Write(payload)
	return err
}

// AckedBatch identifies a batch that has just been acknowledged by the
// remote end, as surfaced to DrainAck callers (proxies).
type AckedBatch struct {
	Source string
	MinID  uint64
	MajID  uint64
}

// DrainAck returns the next acknowledged batch's identity, blocking up to
// timeout. Used by a proxy to turn an upstream ack into a downstream ack
// (§4.4).
func (c *Client) DrainAck(timeout time.Duration) (AckedBatch, bool) {
	toAcked := func(e envelope) AckedBatch {
		return AckedBatch{Source: e.Source, MinID: e.MinID, MajID: e.MajID}
	}
	if timeout <= 0 {
		select {
		case e := <-c.drainAckCh:
			return toAcked(e), true
		default:
			return AckedBatch{}, false
		}
	}
	select {
	case e := <-c.drainAckCh:
		return toAcked(e), true
	case <-time.After(timeout):
		return AckedBatch{}, false
	}
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == Connected
}

func (c *Client) IsShutdownRequested() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutdownRequested
}

// QueueFree reports how much room remains in the in-flight window.
func (c *Client) QueueFree() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.WindowSize - len(c.inFlight)
}

func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// run drives NotConnected -> OpeningClient -> Connected -> ClosingClient ->
// NotConnected until shutdown is requested.
func (c *Client) run() {
	defer c.loopWg.Done()
	backoff := c.config.MinBackoff

	for {
		if c.ctx.Err() != nil {
			c.setState(NotConnected)
			return
		}

		c.setState(OpeningClient)
		conn, err := c.connectWithBreaker()
		if err != nil {
			c.logger.WithFields(logrus.Fields{
				"component": "transport_client",
				"addr":      c.currentAddr(),
				"backoff":   backoff,
				"error":     err,
			}).Warn("connect failed, backing off")
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.config.MaxBackoff)
			continue
		}
		backoff = c.config.MinBackoff

		redirect, hsErr := c.handshake(conn)
		if hsErr != nil {
			c.logger.WithFields(logrus.Fields{"component": "transport_client", "error": hsErr}).Warn("handshake failed")
			conn.Close()
			if !c.sleep(backoff) {
				return
			}
			backoff = nextBackoff(backoff, c.config.MaxBackoff)
			continue
		}
		if redirect != "" {
			c.mu.Lock()
			c.serverAddr = redirect
			c.mu.Unlock()
			conn.Close()
			continue // reconnect immediately through the proxy
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(Connected)
		c.resetInFlightSent()

		c.sendLoop(conn)

		c.setState(ClosingClient)
		conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()

		if c.IsShutdownRequested() || c.ctx.Err() != nil {
			c.setState(NotConnected)
			return
		}
		c.setState(NotConnected)
	}
}

func (c *Client) currentAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverAddr
}

func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.ctx.Done():
		return false
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func (c *Client) connectWithBreaker() (net.Conn, error) {
	var conn net.Conn
	err := c.breaker.Execute(func() error {
		d := net.Dialer{Timeout: c.config.DialTimeout}
		var dialErr error
		conn, dialErr = d.DialContext(c.ctx, "tcp", c.currentAddr())
		return dialErr
	})
	return conn, err
}

// handshake performs the INI/READY exchange. A non-empty redirect return
// means USE_PROXY was received and the caller should reconnect there
// instead of proceeding to the send loop.
func (c *Client) handshake(conn net.Conn) (redirect string, err error) {
	_, span := c.tracer.StartSpan(c.ctx, "transport.client", "handshake",
		attribute.String("client_name", c.config.ClientName),
		attribute.String("addr", c.currentAddr()),
	)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	if err := conn.SetDeadline(time.Now().Add(c.config.HandshakeTimeout)); err != nil {
		return "", err
	}
	defer conn.SetDeadline(time.Time{})

	state := c.config.ProxyState
	if state == "" {
		state = CanBeProxy
	}
	if _, err := fmt.Fprint(conn, transport.IniLine(c.config.ClientName, transport.ProxyState(state))); err != nil {
		return "", fmt.Errorf("transport client: write INI: %w", err)
	}

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("transport client: handshake read: %w", err)
		}
		line = trimNewline(line)
		fields := splitFields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case transport.LineREADY:
			return "", nil
		case transport.LineNodeID:
			if len(fields) < 2 {
				return "", fmt.Errorf("transport client: malformed NODE_ID line")
			}
			var id int64
			if _, err := fmt.Sscanf(fields[1], "%d", &id); err == nil {
				c.mu.Lock()
				c.nodeID = id
				c.mu.Unlock()
				if c.config.OnNodeID != nil {
					c.config.OnNodeID(id)
				}
			}
		case transport.LineBeProxy:
			if len(fields) < 3 {
				return "", fmt.Errorf("transport client: malformed BE_PROXY line")
			}
			if c.config.OnBeProxy != nil {
				var port int
				fmt.Sscanf(fields[2], "%d", &port)
				c.config.OnBeProxy(fields[1], port)
			}
		case transport.LineUseProxy:
			if len(fields) < 3 {
				return "", fmt.Errorf("transport client: malformed USE_PROXY line")
			}
			return fmt.Sprintf("%s:%s", fields[1], fields[2]), nil
		default:
			return "", fmt.Errorf("transport client: unexpected handshake line %q", line)
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func splitFields(s string) []string {
	var fields []string
	start := -1
	for i := 0; i <= len(s); i++ {
		if i < len(s) && s[i] != ' ' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			fields = append(fields, s[start:i])
			start = -1
		}
	}
	return fields
}
