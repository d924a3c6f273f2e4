// Package stats implements the InfoLogger statistics consumer (spec.md
// §4.7c): a sliding set of time windows counting message occurrences
// per built-in field combination, periodically published in full to
// every connected subscriber, grounded on the upstream dispatcher's
// InfoLoggerDispatchStats.
package stats

import (
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"infologger/internal/consumers/subscriberset"
	"infologger/pkg/record"
)

// Config configures the statistics consumer.
type Config struct {
	Name          string
	ListenAddr    string
	PublishInterval time.Duration // how often the full dump is sent, default 5s
	WindowInterval  time.Duration // width of each tracking window, default 30s
	History         time.Duration // how long closed windows are retained, default 600s
	MaxClients      int
	WriteTimeout    time.Duration
	ProbeInterval   time.Duration
	QueueSize       int // default 1024
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "stats"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 5 * time.Second
	}
	if c.WindowInterval <= 0 {
		c.WindowInterval = 30 * time.Second
	}
	if c.History <= 0 {
		c.History = 600 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

// Stats is a dispatch.Consumer: it owns its subscriber slot array and
// window set exclusively.
type Stats struct {
	config Config
	logger *logrus.Logger

	subs  *subscriberset.Set
	queue chan *record.Batch

	indexKeys []indexKey

	mu      sync.Mutex
	windows []*window // ascending by timeBegin; current is the last entry

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, logger *logrus.Logger) *Stats {
	cfg.setDefaults()
	return &Stats{
		config: cfg,
		logger: logger,
		subs: subscriberset.New(cfg.Name, subscriberset.Config{
			ListenAddr:    cfg.ListenAddr,
			MaxClients:    cfg.MaxClients,
			WriteTimeout:  cfg.WriteTimeout,
			ProbeInterval: cfg.ProbeInterval,
		}, logger),
		queue:     make(chan *record.Batch, cfg.QueueSize),
		indexKeys: builtinIndexKeys(),
		stopCh:    make(chan struct{}),
	}
}

func (s *Stats) Name() string { return s.config.Name }

// Enqueue is the dispatch.Consumer hook: the hub's only interaction
// with this consumer.
func (s *Stats) Enqueue(batch *record.Batch) bool {
	select {
	case s.queue <- batch:
		return true
	default:
		return false
	}
}

func (s *Stats) Addr() string {
	if a := s.subs.Addr(); a != nil {
		return a.String()
	}
	return ""
}

// Start opens the subscriber listener, opens the first window, and
// launches the message-process, rotation, and publish loops.
func (s *Stats) Start() error {
	if err := s.subs.Start(); err != nil {
		return err
	}

	now := time.Now().Unix()
	s.mu.Lock()
	s.rotate(now)
	s.mu.Unlock()

	s.wg.Add(3)
	go s.messageProcessLoop()
	go s.rotateLoop()
	go s.publishLoop()
	return nil
}

func (s *Stats) Stop() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.subs.Stop()
}

func (s *Stats) messageProcessLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case batch := <-s.queue:
			s.mu.Lock()
			for _, r := range batch.Records {
				s.recordLocked(r)
			}
			s.mu.Unlock()
		}
	}
}

// recordLocked tallies one record into the current window; messages
// that arrive with no open window are dropped, matching the upstream
// dispatcher's "currentWindow != nullptr" guard.
func (s *Stats) recordLocked(r *record.Record) {
	if len(s.windows) == 0 {
		return
	}
	w := s.windows[len(s.windows)-1]
	w.totalMessages++

	for i, k := range s.indexKeys {
		value, complete := joinFieldValues(r, k.fields)
		if !complete {
			continue
		}
		w.fieldCounts[i][value]++
	}
}

// joinFieldValues concatenates the string form of each field with "-",
// same as InfoLoggerDispatchStats's getStringValue/addCombination. Any
// undefined component drops the whole combination for this record.
func joinFieldValues(r *record.Record, fields []int) (string, bool) {
	value := ""
	for i, idx := range fields {
		v := r.Values[idx]
		if v.Undefined {
			return "", false
		}
		var fv string
		switch {
		case idx < len(record.DefaultFields) && record.DefaultFields[idx].Type == record.TypeInt:
			fv = strconv.FormatInt(v.Int, 10)
		case idx < len(record.DefaultFields) && record.DefaultFields[idx].Type == record.TypeDouble:
			fv = strconv.FormatFloat(v.Dbl, 'f', -1, 64)
		default:
			fv = v.Str
		}
		if fv == "" {
			return "", false
		}
		if i > 0 {
			value += "-"
		}
		value += fv
	}
	return value, true
}

func (s *Stats) rotateLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.WindowInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.rotate(time.Now().Unix())
			s.mu.Unlock()
		}
	}
}

// rotate closes the current window, opens a new one, and evicts windows
// older than the configured history (InfoLoggerDispatchStats.cxx's
// "create new window when needed" block).
func (s *Stats) rotate(now int64) {
	if len(s.windows) > 0 {
		s.windows[len(s.windows)-1].timeEnd = now
	}
	s.windows = append(s.windows, newWindow(now, now+int64(s.config.WindowInterval/time.Second), len(s.indexKeys)))

	historySecs := int64(s.config.History / time.Second)
	cutoff := now - historySecs
	kept := s.windows[:0]
	for _, w := range s.windows {
		if w.timeEnd < cutoff {
			continue
		}
		kept = append(kept, w)
	}
	s.windows = kept
}

func (s *Stats) publishLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.PublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.subs.FanOut([]byte(s.dump()))
		}
	}
}

func (s *Stats) dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := ""
	for _, w := range s.windows {
		text += w.dumpTCL(s.indexKeys)
	}
	text += "\n"
	return text
}
