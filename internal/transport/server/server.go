// Package server implements the InfoLogger transport server (spec.md
// §4.4): a single TCP listener whose per-connection framing decoder turns
// File/END-delimited wire batches into a bounded, server-level FIFO that
// upper layers drain via getBatch/ackBatch.
package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"infologger/internal/transport"
	"infologger/pkg/record"
)

// BatchID identifies an accepted batch by (source, minId, majId) plus the
// sender-index of the connection it arrived on, so ackBatch can route the
// ACK back to the right socket even across reconnects.
type BatchID struct {
	record.BatchID
	SenderIndex int64
}

// Batch is one fully-framed, not-yet-decoded wire payload.
type Batch struct {
	ID      BatchID
	Payload []byte
}

// Config configures a transport server listener.
type Config struct {
	ListenAddr       string
	InboxCapacity    int           // default 1024
	HandshakeTimeout time.Duration // default 10s
	DrainGrace       time.Duration // default 2s, used by Stop

	// OnIni is called with the handshake's client name and declared
	// proxy state; the caller may return a non-zero nodeID, or a proxy
	// redirect, to send back before READY.
	OnIni func(clientName, proxyState string) Decision
}

// Decision is what the server should reply with during a connection's
// handshake, before READY.
type Decision struct {
	NodeID      int64
	UseProxy    string // "host:port", empty if none
	RejectError string // non-empty aborts the handshake with no READY
}

func (c *Config) setDefaults() {
	if c.InboxCapacity <= 0 {
		c.InboxCapacity = 1024
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 2 * time.Second
	}
}

type conn struct {
	index      int64
	netConn    net.Conn
	writeMu    sync.Mutex
	clientName string
}

// Server accepts InfoLogger transport connections and decodes wire batches.
type Server struct {
	config   Config
	logger   *logrus.Logger
	listener net.Listener

	inbox   chan Batch
	nextIdx int64

	connsMu sync.Mutex
	conns   map[int64]*conn

	stopped   atomic.Bool
	acceptsWg sync.WaitGroup
}

// New builds a server bound to config.ListenAddr. Call Serve to start
// accepting connections.
func New(cfg Config, logger *logrus.Logger) *Server {
	cfg.setDefaults()
	return &Server{
		config: cfg,
		logger: logger,
		inbox:  make(chan Batch, cfg.InboxCapacity),
		conns:  make(map[int64]*conn),
	}
}

// Serve opens the listener and blocks accepting connections until Stop is
// called.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("transport server: listen: %w", err)
	}
	s.listener = ln

	s.logger.WithFields(logrus.Fields{"component": "transport_server", "addr": ln.Addr().String()}).Info("listening")

	for {
		c, err := ln.Accept()
		if err != nil {
			if s.stopped.Load() {
				return nil
			}
			return fmt.Errorf("transport server: accept: %w", err)
		}
		s.acceptsWg.Add(1)
		go s.handleConn(c)
	}
}

// Addr returns the bound listen address; only valid after Serve starts.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConn(netConn net.Conn) {
	defer s.acceptsWg.Done()
	defer netConn.Close()

	idx := atomic.AddInt64(&s.nextIdx, 1)
	c := &conn{index: idx, netConn: netConn}

	name, proxyState, err := s.readIni(netConn)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"component": "transport_server", "error": err}).Warn("handshake failed")
		return
	}
	c.clientName = name

	decision := Decision{}
	if s.config.OnIni != nil {
		decision = s.config.OnIni(name, proxyState)
	}
	if decision.RejectError != "" {
		s.logger.WithFields(logrus.Fields{"component": "transport_server", "client": name, "reason": decision.RejectError}).Warn("rejecting client")
		return
	}
	if decision.NodeID != 0 {
		fmt.Fprintf(netConn, "%s %d\n", transport.LineNodeID, decision.NodeID)
	}
	if decision.UseProxy != "" {
		fmt.Fprintf(netConn, "%s %s\n", transport.LineUseProxy, proxyHostPort(decision.UseProxy))
		return
	}
	if _, err := fmt.Fprintf(netConn, "%s\n", transport.LineREADY); err != nil {
		return
	}

	s.connsMu.Lock()
	s.conns[idx] = c
	s.connsMu.Unlock()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, idx)
		s.connsMu.Unlock()
	}()

	s.decodeLoop(c)
}

func proxyHostPort(addr string) string {
	// addr is already "host:port"; USE_PROXY wants two space-separated
	// tokens, so swap the colon for a space.
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i] + " " + addr[i+1:]
		}
	}
	return addr
}

func (s *Server) readIni(netConn net.Conn) (name, proxyState string, err error) {
	if err := netConn.SetDeadline(time.Now().Add(s.config.HandshakeTimeout)); err != nil {
		return "", "", err
	}
	defer netConn.SetDeadline(time.Time{})

	r := bufio.NewReader(netConn)
	line, err := r.ReadString('\n')
	if err != nil {
		return "", "", fmt.Errorf("transport server: read INI: %w", err)
	}
	fields := splitFields(trimNewline(line))
	if len(fields) < 3 || fields[0] != transport.LineINI {
		return "", "", fmt.Errorf("transport server: expected INI, got %q", line)
	}
	return fields[1], fields[2], nil
}

// decodeLoop implements the per-connection framing decoder: parse `File
// <source> <minId> <majId> <totalSize>\n`, read totalSize raw bytes, then
// require a trailing `END\n`.
func (s *Server) decodeLoop(c *conn) {
	if err := c.netConn.SetDeadline(time.Time{}); err != nil {
		return
	}
	r := bufio.NewReader(c.netConn)

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		fields := splitFields(trimNewline(line))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case transport.LineCLOSE:
			return
		case transport.LineFile:
			if len(fields) < 5 {
				s.logger.WithFields(logrus.Fields{"component": "transport_server"}).Warn("malformed File header, dropping connection")
				return
			}
			batch, err := s.readFramedBatch(r, fields, c.index)
			if err != nil {
				s.logger.WithFields(logrus.Fields{"component": "transport_server", "error": err}).Warn("framing error, dropping connection")
				return
			}
			select {
			case s.inbox <- batch:
			default:
				s.logger.WithFields(logrus.Fields{"component": "transport_server", "source": batch.ID.Source}).Warn("server inbox full, dropping batch")
			}
		default:
			// Unrecognized control line; ignore rather than dropping
			// the connection, matching the original's tolerance for
			// legacy lines outside the File/END frame.
		}
	}
}

func (s *Server) readFramedBatch(r *bufio.Reader, fields []string, senderIdx int64) (Batch, error) {
	source := fields[1]
	var minID, majID, total uint64
	if _, err := fmt.Sscanf(fields[2], "%d", &minID); err != nil {
		return Batch{}, err
	}
	if _, err := fmt.Sscanf(fields[3], "%d", &majID); err != nil {
		return Batch{}, err
	}
	if _, err := fmt.Sscanf(fields[4], "%d", &total); err != nil {
		return Batch{}, err
	}

	payload := make([]byte, total)
	if total > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Batch{}, fmt.Errorf("read payload: %w", err)
		}
	}
	endLine, err := r.ReadString('\n')
	if err != nil {
		return Batch{}, fmt.Errorf("read END: %w", err)
	}
	if trimNewline(endLine) != transport.LineEND {
		return Batch{}, fmt.Errorf("expected END, got %q", endLine)
	}

	return Batch{
		ID: BatchID{
			BatchID:     record.BatchID{Source: source, Major: majID, Minor: minID},
			SenderIndex: senderIdx,
		},
		Payload: payload,
	}, nil
}

// GetBatch returns the next accepted batch, blocking up to timeout (0
// means return immediately if the inbox is empty).
func (s *Server) GetBatch(timeout time.Duration) (Batch, bool) {
	if timeout <= 0 {
		select {
		case b := <-s.inbox:
			return b, true
		default:
			return Batch{}, false
		}
	}
	select {
	case b := <-s.inbox:
		return b, true
	case <-time.After(timeout):
		return Batch{}, false
	}
}

// AckBatch sends `ACK <minId> <majId>\n` back on the originating
// connection. If that connection is gone the ack is silently dropped
// (§4.4): the sender will simply retransmit, which is idempotent by id.
func (s *Server) AckBatch(id BatchID) {
	s.connsMu.Lock()
	c, ok := s.conns[id.SenderIndex]
	s.connsMu.Unlock()
	if !ok {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	fmt.Fprint(c.netConn, transport.AckLine(id.Minor, id.Major))
}

// Stop enqueues CLOSE to every connection, allows a drain grace period,
// then closes everything and the listener.
func (s *Server) Stop() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}

	s.connsMu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()

	for _, c := range conns {
		c.writeMu.Lock()
		fmt.Fprintf(c.netConn, "%s\n", transport.LineCLOSE)
		c.writeMu.Unlock()
	}

	time.Sleep(s.config.DrainGrace)

	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range conns {
		c.netConn.Close()
	}
	s.acceptsWg.Wait()
	return nil
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
