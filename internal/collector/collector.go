// Package collector implements the InfoLogger collector daemon (spec.md
// §4.5): a local stream-socket listener that accumulates client lines and
// hands each complete, already-encoded record to a transport client's
// durable message FIFO.
package collector

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// MessageSink is the subset of *client.Client the collector needs; kept
// as an interface so tests can stub it without standing up a transport
// client.
type MessageSink interface {
	EnqueueMessage(payload []byte) error
}

// Config configures the collector daemon.
type Config struct {
	// SocketName is either a filesystem path, or (on Linux) a bare name
	// to bind in the abstract namespace, which avoids stale-socket-file
	// cleanup entirely (§4.5: "abstract name on systems that support
	// it, else filesystem path").
	SocketName string
	MaxClients int // default 64
}

func (c *Config) setDefaults() {
	if c.MaxClients <= 0 {
		c.MaxClients = 64
	}
}

// network resolves SocketName to a net.Listen address. An absolute path
// always binds a filesystem socket; a bare name binds in Linux's abstract
// namespace, which sidesteps stale-socket-file cleanup entirely (§4.5:
// "abstract name on systems that support it, else filesystem path").
func (c Config) network() (network, address string) {
	if runtime.GOOS == "linux" && !strings.HasPrefix(c.SocketName, "/") {
		return "unix", "@" + c.SocketName
	}
	return "unix", c.SocketName
}

// Collector accepts local client connections and feeds complete lines into
// a MessageSink.
type Collector struct {
	config Config
	logger *logrus.Logger
	sink   MessageSink

	listener net.Listener
	clients  int32

	wg sync.WaitGroup
}

func New(cfg Config, sink MessageSink, logger *logrus.Logger) *Collector {
	cfg.setDefaults()
	return &Collector{config: cfg, logger: logger, sink: sink}
}

// Serve opens the listener and blocks accepting clients until Stop closes
// the listener.
func (c *Collector) Serve() error {
	network, addr := c.config.network()
	ln, err := net.Listen(network, addr)
	if err != nil {
		return fmt.Errorf("collector: listen %s %s: %w", network, addr, err)
	}
	c.listener = ln

	c.logger.WithFields(logrus.Fields{"component": "collector", "addr": addr}).Info("listening for local clients")

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil // listener closed by Stop
		}

		if atomic.AddInt32(&c.clients, 1) > int32(c.config.MaxClients) {
			atomic.AddInt32(&c.clients, -1)
			c.logger.WithFields(logrus.Fields{"component": "collector"}).Warn("client cap reached, closing new connection")
			conn.Close()
			continue
		}

		c.wg.Add(1)
		go c.handleClient(conn)
	}
}

// Stop closes the listener and waits for in-flight client handlers to
// drain.
func (c *Collector) Stop() error {
	if c.listener != nil {
		if err := c.listener.Close(); err != nil {
			return err
		}
	}
	c.wg.Wait()
	return nil
}

func (c *Collector) handleClient(conn net.Conn) {
	defer c.wg.Done()
	defer atomic.AddInt32(&c.clients, -1)
	defer conn.Close()

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if len(line) > 0 && err == nil {
			record := line[:len(line)-1] // strip the trailing \n
			if enqErr := c.sink.EnqueueMessage([]byte(record)); enqErr != nil {
				c.logger.WithFields(logrus.Fields{"component": "collector", "error": enqErr}).Warn("failed to enqueue collected message")
			}
		}
		if err != nil {
			if err != io.EOF && len(line) > 0 {
				c.logger.WithFields(logrus.Fields{"component": "collector", "partial": line}).Warn("dropping partial line at disconnect")
			} else if len(line) > 0 {
				c.logger.WithFields(logrus.Fields{"component": "collector", "partial": line}).Warn("dropping partial line at EOF")
			}
			return
		}
	}
}
