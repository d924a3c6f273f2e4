// Package dbinsert implements the InfoLogger DB inserter worker (spec.md
// §4.7a): one worker per DB session, bound to a Disconnected/Connecting/
// Ready state machine, draining a bounded queue fed by the dispatch hub.
package dbinsert

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"infologger/internal/tracing"
	"infologger/pkg/circuit"
	"infologger/pkg/errors"
	"infologger/pkg/record"
)

// State is one step of a worker's connection state machine.
type State int

const (
	Disconnected State = iota
	Connecting
	Ready
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Config configures one DB inserter worker.
type Config struct {
	Name       string
	DriverName string // default "sqlite3"
	DSN        string
	Table      string        // default "messages"
	QueueSize  int           // default 4096
	ReconnectFloor time.Duration // minimum gap between connect attempts, default 1s
}

func (c *Config) setDefaults() {
	if c.DriverName == "" {
		c.DriverName = "sqlite3"
	}
	if c.Table == "" {
		c.Table = "messages"
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.ReconnectFloor <= 0 {
		c.ReconnectFloor = time.Second
	}
}

// Worker is one registered entry in the hub's DB round-robin pool.
type Worker struct {
	config Config
	logger *logrus.Logger
	breaker *circuit.Breaker
	tracer  *tracing.Provider

	queue chan *record.Batch

	mu          sync.Mutex
	state       State
	db          *sqlx.DB
	stmt        *sqlx.Stmt
	lastConnect time.Time

	insertCount  int64
	droppedCount int64

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a DB inserter worker. Call Start to begin draining its queue.
func New(cfg Config, logger *logrus.Logger) *Worker {
	cfg.setDefaults()
	return &Worker{
		config: cfg,
		logger: logger,
		queue:  make(chan *record.Batch, cfg.QueueSize),
		breaker: circuit.NewBreaker(circuit.BreakerConfig{
			Name:             "dbinsert_" + cfg.Name,
			FailureThreshold: 3,
			SuccessThreshold: 1,
			Timeout:          cfg.ReconnectFloor,
		}, logger),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// SetTracer attaches a tracer spanning each handled batch and each
// reconnect attempt; a never-set tracer leaves the worker untraced.
func (w *Worker) SetTracer(tracer *tracing.Provider) {
	w.tracer = tracer
}

func (w *Worker) Name() string { return w.config.Name }

// Enqueue offers a batch to this worker's queue without blocking; this is
// the Consumer interface the dispatch hub's round-robin pool expects.
func (w *Worker) Enqueue(batch *record.Batch) bool {
	select {
	case w.queue <- batch:
		return true
	default:
		return false
	}
}

// Start launches the worker's drain loop.
func (w *Worker) Start() error {
	go w.run()
	return nil
}

// Stop signals shutdown, waits for the loop to exit, and logs the final
// counters (§4.7a: "Counters ... are logged on shutdown").
func (w *Worker) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	w.logger.WithFields(logrus.Fields{
		"component":     "dbinsert",
		"worker":        w.config.Name,
		"insert_count":  atomic.LoadInt64(&w.insertCount),
		"dropped_count": atomic.LoadInt64(&w.droppedCount),
	}).Info("db inserter worker stopped")
	w.closeSession()
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) run() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			w.drainRemaining()
			return
		case batch := <-w.queue:
			w.handle(batch)
		}
	}
}

func (w *Worker) drainRemaining() {
	for {
		select {
		case batch := <-w.queue:
			w.handle(batch)
		default:
			return
		}
	}
}

func (w *Worker) handle(batch *record.Batch) {
	_, span := w.tracer.StartSpan(context.Background(), "dbinsert.worker", "handle",
		attribute.String("worker", w.config.Name),
		attribute.Int("records", len(batch.Records)),
	)
	defer span.End()

	if w.State() != Ready {
		if !w.tryConnect() {
			atomic.AddInt64(&w.droppedCount, int64(len(batch.Records)))
			tracing.EndWithError(span, errors.PersistenceError("db_insert", "worker not ready, batch dropped"))
			return
		}
	}

	for _, r := range batch.Records {
		if err := w.insertOne(r); err != nil {
			w.logger.WithFields(logrus.Fields{"component": "dbinsert", "worker": w.config.Name, "error": err}).Warn("insert failed, disconnecting")
			w.closeSession()
			atomic.AddInt64(&w.droppedCount, 1)
			tracing.EndWithError(span, err)
			// Every subsequent record in this batch is also counted
			// as dropped while disconnected (§4.7a).
			continue
		}
		atomic.AddInt64(&w.insertCount, 1)
	}
}

// tryConnect enforces the ≥1s reconnect floor and opens a fresh session
// and prepared statement.
func (w *Worker) tryConnect() bool {
	_, span := w.tracer.StartSpan(context.Background(), "dbinsert.worker", "tryConnect",
		attribute.String("worker", w.config.Name),
	)
	defer span.End()

	w.mu.Lock()
	if time.Since(w.lastConnect) < w.config.ReconnectFloor {
		w.mu.Unlock()
		return false
	}
	w.lastConnect = time.Now()
	w.mu.Unlock()

	w.setState(Connecting)
	err := w.breaker.Execute(func() error {
		db, err := sqlx.Open(w.config.DriverName, w.config.DSN)
		if err != nil {
			return err
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return err
		}
		stmt, err := db.Preparex(insertSQL(w.config.Table))
		if err != nil {
			db.Close()
			return err
		}
		w.mu.Lock()
		w.db = db
		w.stmt = stmt
		w.mu.Unlock()
		return nil
	})
	if err != nil {
		w.logger.WithFields(logrus.Fields{"component": "dbinsert", "worker": w.config.Name, "error": err}).Warn("connect failed")
		w.setState(Disconnected)
		tracing.EndWithError(span, err)
		return false
	}
	w.setState(Ready)
	return true
}

func (w *Worker) closeSession() {
	w.mu.Lock()
	stmt, db := w.stmt, w.db
	w.stmt, w.db = nil, nil
	w.mu.Unlock()
	if stmt != nil {
		stmt.Close()
	}
	if db != nil {
		db.Close()
	}
	w.setState(Disconnected)
}

// insertOne binds one record's default-protocol fields, splitting the
// message on embedded \f sentinels into one insert per fragment sharing
// every other field (§4.7a).
func (w *Worker) insertOne(r *record.Record) error {
	w.mu.Lock()
	stmt := w.stmt
	w.mu.Unlock()
	if stmt == nil {
		return errors.PersistenceError("db_insert", "no open statement")
	}

	msg, _ := r.Get(record.FieldMessage)
	fragments := strings.Split(msg.Str, "\f")
	if msg.Undefined {
		fragments = []string{""}
	}

	for _, frag := range fragments {
		args := bindArgs(r, frag)
		if _, err := stmt.Exec(args...); err != nil {
			return err
		}
	}
	return nil
}

func bindArgs(r *record.Record, message string) []any {
	args := make([]any, len(record.DefaultFields))
	for i, f := range record.DefaultFields {
		v := r.Values[i]
		if i == record.FieldMessage {
			args[i] = message
			continue
		}
		if v.Undefined {
			args[i] = nil
			continue
		}
		switch f.Type {
		case record.TypeString:
			args[i] = v.Str
		case record.TypeInt:
			args[i] = v.Int
		case record.TypeDouble:
			args[i] = v.Dbl
		}
	}
	return args
}

func insertSQL(table string) string {
	cols := make([]string, len(record.DefaultFields))
	placeholders := make([]string, len(record.DefaultFields))
	for i, f := range record.DefaultFields {
		cols[i] = f.Name
		placeholders[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
}
