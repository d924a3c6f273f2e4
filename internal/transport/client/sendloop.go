package client

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"infologger/internal/tracing"
	"infologger/internal/transport"
	"infologger/pkg/fifo"
)

// sendLoop drives the Connected state: steps 1-5 of spec.md §4.3, run
// repeatedly until the connection is closed, reset by the watchdog, or
// shutdown is requested.
func (c *Client) sendLoop(conn net.Conn) {
	reader := bufio.NewReader(conn)
	readCh := make(chan string, 16)
	readErrCh := make(chan error, 1)

	// A dedicated reader goroutine turns the blocking bufio.Reader into a
	// channel so the main loop can poll it alongside everything else
	// without a read deadline fight against the writer's deadlines.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				select {
				case readCh <- trimNewline(line):
				case <-readerDone:
					return
				}
			}
			if err != nil {
				select {
				case readErrCh <- err:
				default:
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(c.config.ReadTimeout)
	defer ticker.Stop()

	c.mu.Lock()
	c.noProgressCount = 0
	c.stallTimer = nil
	c.mu.Unlock()

	for {
		select {
		case <-c.ctx.Done():
			return
		case err := <-readErrCh:
			c.logger.WithFields(logrus.Fields{"component": "transport_client", "error": err}).Warn("connection closed by peer")
			return
		case line := <-readCh:
			if c.handleServerLine(line) {
				return // CLOSE received
			}
		case <-ticker.C:
			c.fillWindow()
			progressed, err := c.transmitWindow(conn)
			if err != nil {
				c.logger.WithFields(logrus.Fields{"component": "transport_client", "error": err}).Warn("transmit failed")
				return
			}
			if c.checkWatchdog(progressed) {
				c.logger.WithFields(logrus.Fields{"component": "transport_client"}).Warn("transmit watchdog stalled, resetting connection")
				return
			}
		}
	}
}

// handleServerLine recognizes ACK and CLOSE; returns true if CLOSE was
// received and the send loop should exit.
func (c *Client) handleServerLine(line string) (closed bool) {
	fields := splitFields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case transport.LineACK:
		if len(fields) < 3 {
			return false
		}
		var minID, majID uint64
		fmt.Sscanf(fields[1], "%d", &minID)
		fmt.Sscanf(fields[2], "%d", &majID)
		c.dropAcked(minID, majID)
	case transport.LineCLOSE:
		return true
	}
	return false
}

// dropAcked removes from the in-flight window every entry whose id is <=
// the acknowledged (minID, majID), acking it on its backing FIFO.
func (c *Client) dropAcked(minID, majID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.inFlight[:0]
	for _, p := range c.inFlight {
		acked := p.env.MinID < minID || (p.env.MinID == minID && p.env.MajID <= majID)
		if !acked {
			kept = append(kept, p)
			continue
		}
		if p.fromFIFO {
			_ = c.fifo.Ack(p.sourceID)
		}
		if p.fromMsg {
			_ = c.msgFIFO.Ack(p.sourceID)
		}
		select {
		case c.drainAckCh <- p.env:
		default:
		}
	}
	c.inFlight = kept
}

// resetInFlightSent clears sent on every still-unacked entry before a
// (re)connected send loop starts, so batches written to a socket that was
// then lost before its ACK arrived get retransmitted rather than skipped
// by transmitWindow (§4.3: a disconnect retransmits everything unacked).
func (c *Client) resetInFlightSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.inFlight {
		p.sent = false
	}
}

// fillWindow tops up the in-flight window from the batch FIFO first, then
// falls back to wrapping a single message-FIFO item (§4.3 step 3).
func (c *Client) fillWindow() {
	c.mu.Lock()
	room := c.config.WindowSize - len(c.inFlight)
	c.mu.Unlock()

	for i := 0; i < room; i++ {
		item, err := c.fifo.Read(0)
		if err == nil {
			env, decErr := decodeEnvelope(item.Payload)
			if decErr != nil {
				c.logger.WithFields(logrus.Fields{"component": "transport_client", "error": decErr}).Warn("dropping corrupt fifo envelope")
				_ = c.fifo.Ack(item.ID)
				continue
			}
			c.pushPending(&pending{env: env, fromFIFO: true, sourceID: item.ID})
			continue
		}
		if err != fifo.ErrEmpty && err != fifo.ErrTimeout {
			c.logger.WithFields(logrus.Fields{"component": "transport_client", "error": err}).Warn("batch fifo read error")
		}

		if c.msgFIFO == nil {
			return
		}
		msg, err := c.msgFIFO.Read(0)
		if err != nil {
			return
		}
		env := envelope{Source: c.config.ClientName, MinID: msg.ID, MajID: 1, Payload: msg.Payload}
		c.pushPending(&pending{env: env, fromMsg: true, sourceID: msg.ID})
	}
}

func (c *Client) pushPending(p *pending) {
	c.mu.Lock()
	c.inFlight = append(c.inFlight, p)
	c.mu.Unlock()
}

// transmitWindow writes every not-yet-fully-sent entry's framing and
// payload. Returns whether any byte was newly written this call, which
// feeds the watchdog.
func (c *Client) transmitWindow(conn net.Conn) (progressed bool, err error) {
	c.mu.RLock()
	batch := append([]*pending(nil), c.inFlight...)
	c.mu.RUnlock()

	unsent := 0
	for _, p := range batch {
		if !p.sent {
			unsent++
		}
	}
	if unsent == 0 {
		return false, nil
	}

	_, span := c.tracer.StartSpan(c.ctx, "transport.client", "send",
		attribute.Int("batches", unsent),
	)
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	for _, p := range batch {
		if p.sent {
			continue
		}
		header := transport.FileHeader{Source: p.env.Source, MinID: p.env.MinID, MajID: p.env.MajID, TotalSize: uint64(len(p.env.Payload))}
		if _, err := conn.Write([]byte(header.String())); err != nil {
			return progressed, err
		}
		if len(p.env.Payload) > 0 {
			if _, err := conn.Write(p.env.Payload); err != nil {
				return progressed, err
			}
		}
		if _, err := conn.Write([]byte("END\n")); err != nil {
			return progressed, err
		}
		p.sent = true
		progressed = true
	}
	return progressed, nil
}

// checkWatchdog implements step 5: a counter of non-progressing
// iterations that arms a stall timer, resetting the connection once the
// stall has lasted StallTimeout.
func (c *Client) checkWatchdog(progressed bool) (shouldReset bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if progressed || len(c.inFlight) == 0 {
		c.noProgressCount = 0
		c.stallTimer = nil
		return false
	}

	c.noProgressCount++
	if c.noProgressCount < c.config.StallThreshold {
		return false
	}
	now := time.Now()
	if c.stallTimer == nil {
		c.stallTimer = &now
		return false
	}
	return now.Sub(*c.stallTimer) >= c.config.StallTimeout
}
