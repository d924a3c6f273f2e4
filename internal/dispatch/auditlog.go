package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// dropEvent is one line of the audit log: a consumer lost a batch.
type dropEvent struct {
	Consumer string    `json:"consumer"`
	Time     time.Time `json:"time"`
	Total    int64     `json:"total_drops"`
}

// AuditLogConfig configures the drop-counter audit log.
type AuditLogConfig struct {
	Directory     string        // empty disables file persistence; counters still work
	FlushInterval time.Duration // default 5s
}

func (c *AuditLogConfig) setDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
}

// AuditLog implements dispatch.DropCounters: an in-memory counter per
// consumer name, optionally mirrored to a JSON-lines file so an operator
// can see which consumer is starving without attaching a debugger.
// Adapted from pkg/dlq's background-flush lifecycle (ctx/cancel, periodic
// ticker, buffered channel) but stripped to what an append-only drop
// ledger needs: no rotation, no reprocessing, no alerting.
type AuditLog struct {
	config AuditLogConfig
	logger *logrus.Logger

	countersMu sync.RWMutex
	counters   map[string]*int64

	pending chan dropEvent
	file    *os.File

	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool
	mutex     sync.Mutex
	loopWg    sync.WaitGroup
}

func NewAuditLog(cfg AuditLogConfig, logger *logrus.Logger) *AuditLog {
	cfg.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &AuditLog{
		config:   cfg,
		logger:   logger,
		counters: make(map[string]*int64),
		pending:  make(chan dropEvent, 4096),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// IncDrop increments consumerName's drop counter and, if file persistence
// is configured, queues an audit line.
func (a *AuditLog) IncDrop(consumerName string) {
	a.countersMu.Lock()
	counter, ok := a.counters[consumerName]
	if !ok {
		var zero int64
		counter = &zero
		a.counters[consumerName] = counter
	}
	a.countersMu.Unlock()

	total := atomic.AddInt64(counter, 1)

	if a.config.Directory == "" {
		return
	}
	select {
	case a.pending <- dropEvent{Consumer: consumerName, Time: time.Now(), Total: total}:
	default:
		a.logger.WithFields(logrus.Fields{"component": "dispatch_auditlog", "consumer": consumerName}).Warn("audit log write buffer full, event dropped")
	}
}

// Counts returns a snapshot of every consumer's cumulative drop count.
func (a *AuditLog) Counts() map[string]int64 {
	a.countersMu.RLock()
	defer a.countersMu.RUnlock()
	out := make(map[string]int64, len(a.counters))
	for name, counter := range a.counters {
		out[name] = atomic.LoadInt64(counter)
	}
	return out
}

// Start opens the audit file (if configured) and begins the background
// flush loop.
func (a *AuditLog) Start() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.isRunning {
		return fmt.Errorf("dispatch auditlog: already running")
	}

	if a.config.Directory != "" {
		if err := os.MkdirAll(a.config.Directory, 0o755); err != nil {
			return fmt.Errorf("dispatch auditlog: mkdir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(a.config.Directory, "drops.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("dispatch auditlog: open: %w", err)
		}
		a.file = f
	}

	a.isRunning = true
	a.loopWg.Add(1)
	go a.flushLoop()
	return nil
}

func (a *AuditLog) flushLoop() {
	defer a.loopWg.Done()
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	enc := func(ev dropEvent) {
		if a.file == nil {
			return
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		b = append(b, '\n')
		if _, err := a.file.Write(b); err != nil {
			a.logger.WithFields(logrus.Fields{"component": "dispatch_auditlog", "error": err}).Warn("failed to write audit line")
		}
	}

	for {
		select {
		case <-a.ctx.Done():
			a.drain(enc)
			return
		case ev := <-a.pending:
			enc(ev)
		case <-ticker.C:
			if a.file != nil {
				a.file.Sync()
			}
		}
	}
}

func (a *AuditLog) drain(enc func(dropEvent)) {
	for {
		select {
		case ev := <-a.pending:
			enc(ev)
		default:
			return
		}
	}
}

// Stop drains pending audit lines and closes the file.
func (a *AuditLog) Stop() error {
	a.mutex.Lock()
	if !a.isRunning {
		a.mutex.Unlock()
		return nil
	}
	a.isRunning = false
	a.mutex.Unlock()

	a.cancel()
	a.loopWg.Wait()

	if a.file != nil {
		return a.file.Close()
	}
	return nil
}
