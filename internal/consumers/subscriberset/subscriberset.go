// Package subscriberset implements the fixed-size subscriber slot array
// shared by the live broadcast (spec.md §4.7b) and statistics (§4.7c)
// consumers: accept into the first free slot with overflow-close, probe
// slots periodically for a dead subscriber, and fan out a payload to
// every live slot under a per-slot writable-readiness deadline.
package subscriberset

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config configures one subscriber slot array.
type Config struct {
	ListenAddr    string
	MaxClients    int           // fixed slot-array capacity, default 64
	WriteTimeout  time.Duration // per-slot writable-readiness window, default 3s
	ProbeInterval time.Duration // how often to probe slots for EOF, default 250ms
}

func (c *Config) setDefaults() {
	if c.MaxClients <= 0 {
		c.MaxClients = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 3 * time.Second
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 250 * time.Millisecond
	}
}

// Set is a fixed-size array of subscriber connections, one process-wide
// listener shared by nothing else (§5 "Shared resources" (c): each
// consumer owns its own slot array exclusively).
type Set struct {
	config Config
	logger *logrus.Logger
	name   string

	listener net.Listener

	mu    sync.Mutex
	slots []net.Conn // nil entry == free slot

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(name string, cfg Config, logger *logrus.Logger) *Set {
	cfg.setDefaults()
	return &Set{
		config: cfg,
		logger: logger,
		name:   name,
		slots:  make([]net.Conn, cfg.MaxClients),
		stopCh: make(chan struct{}),
	}
}

// Start opens the listener and launches the accept-probe loop.
func (s *Set) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Set) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Set) Stop() error {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	for i, c := range s.slots {
		if c != nil {
			c.Close()
			s.slots[i] = nil
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Set) acceptLoop() {
	defer s.wg.Done()

	acceptedCh := make(chan net.Conn)
	go func() {
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				return
			}
			select {
			case acceptedCh <- conn:
			case <-s.stopCh:
				conn.Close()
				return
			}
		}
	}()

	ticker := time.NewTicker(s.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case conn := <-acceptedCh:
			s.acceptOne(conn)
		case <-ticker.C:
			s.probeSlots()
		}
	}
}

func (s *Set) acceptOne(conn net.Conn) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetKeepAlive(true)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.slots {
		if c == nil {
			s.slots[i] = conn
			return
		}
	}
	s.logger.WithFields(logrus.Fields{"component": s.name}).Warn("subscriber slots full, closing connection")
	conn.Close()
}

// probeSlots reads (and discards) any subscriber-sent bytes as a
// liveness probe; EOF or a read error closes the slot.
func (s *Set) probeSlots() {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, 256)
	for i, c := range s.slots {
		if c == nil {
			continue
		}
		c.SetReadDeadline(time.Now().Add(time.Millisecond))
		_, err := c.Read(buf)
		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			continue
		}
		c.Close()
		s.slots[i] = nil
	}
}

// FanOut writes payload to every live slot under a per-slot
// writable-readiness deadline, closing any slot that fails or short-writes.
func (s *Set) FanOut(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, c := range s.slots {
		if c == nil {
			continue
		}
		c.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		n, err := c.Write(payload)
		if err != nil || n != len(payload) {
			c.Close()
			s.slots[i] = nil
		}
	}
}

// Slots exposes a read snapshot for tests that need to assert on the
// internal state of the array directly.
func (s *Set) Slots() []net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]net.Conn, len(s.slots))
	copy(out, s.slots)
	return out
}
