// Package serverapp wires every infoLoggerServer component (spec.md §4.6,
// §6) into one process: the transport server, the dispatch hub, the DB
// insert pool, the broadcast and stats consumers, the optional Kafka
// republish consumer, and the admin metrics/tracing surface. It mirrors
// the teacher's thin-cmd/fat-app orchestrator split: cmd/infoLoggerServer
// only calls New and Run.
package serverapp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"infologger/internal/config"
	"infologger/internal/consumers/broadcast"
	"infologger/internal/consumers/dbinsert"
	"infologger/internal/consumers/kafka"
	"infologger/internal/consumers/stats"
	"infologger/internal/dispatch"
	"infologger/internal/metrics"
	"infologger/internal/tracing"
	"infologger/internal/transport/server"
)

// App is the fully wired infoLoggerServer process.
type App struct {
	config     *config.Config
	logger     *logrus.Logger
	configFile string

	tracer *tracing.Provider

	transportServer *server.Server
	hub             *dispatch.Hub
	auditLog        *dispatch.AuditLog
	dbWorkers       []*dbinsert.Worker
	broadcastC      *broadcast.Broadcast
	statsC          *stats.Stats
	kafkaC          *kafka.Consumer

	registry       *prometheus.Registry
	metricsServer  *metrics.Server
	processSampler *metrics.ProcessSampler

	watcher *config.Watcher

	nextNodeID int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads configFile, validates it, and initializes every component.
// No component is started yet; call Run or Start.
func New(configFile string) (*App, error) {
	logger := newLogger()

	cfg, err := config.LoadConfig(configFile, logger)
	if err != nil {
		return nil, fmt.Errorf("serverapp: load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		config:     cfg,
		logger:     logger,
		configFile: configFile,
		ctx:        ctx,
		cancel:     cancel,
	}

	logger.WithFields(logrus.Fields{
		"component":     "serverapp",
		"server_port_rx": cfg.Server.ServerPortRx,
		"server_port_tx": cfg.Server.ServerPortTx,
		"stats_port":     cfg.Server.StatsPort,
		"db_enabled":     cfg.Server.DBEnabled,
	}).Info("configuration loaded")

	if err := app.initComponents(); err != nil {
		return nil, fmt.Errorf("serverapp: init components: %w", err)
	}
	return app, nil
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level := logrus.InfoLevel
	if v := os.Getenv("INFOLOGGER_LOG_LEVEL"); v != "" {
		if parsed, err := logrus.ParseLevel(v); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)
	return logger
}

func (a *App) initComponents() error {
	tracer, err := tracing.New("infoLoggerServer", tracing.Config{
		Enabled:  a.config.Tracing.Enabled,
		Exporter: a.config.Tracing.Exporter,
		Endpoint: a.config.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	a.tracer = tracer

	a.transportServer = server.New(server.Config{
		ListenAddr:    fmt.Sprintf(":%d", a.config.Server.ServerPortRx),
		InboxCapacity: a.config.Server.MsgQueueLengthRx,
		OnIni:         a.assignNodeID,
	}, a.logger)

	a.auditLog = dispatch.NewAuditLog(dispatch.AuditLogConfig{}, a.logger)

	var dbConsumers []dispatch.Consumer
	if a.config.Server.DBEnabled {
		for i := 0; i < a.config.Server.DBNThreads; i++ {
			w := dbinsert.New(dbinsert.Config{
				Name:      fmt.Sprintf("db-%d", i),
				DSN:       a.config.Server.DBName,
				Table:     "messages",
				QueueSize: a.config.Server.DBDispatchQueueSize,
			}, a.logger)
			w.SetTracer(a.tracer)
			a.dbWorkers = append(a.dbWorkers, w)
			dbConsumers = append(dbConsumers, w)
		}
	}

	a.broadcastC = broadcast.New(broadcast.Config{
		Name:         "broadcast",
		ListenAddr:   fmt.Sprintf(":%d", a.config.Server.ServerPortTx),
		MaxTxClients: a.config.Server.MaxClientsTx,
	}, a.logger)

	a.statsC = stats.New(stats.Config{
		Name:            "stats",
		ListenAddr:      fmt.Sprintf(":%d", a.config.Server.StatsPort),
		MaxClients:      a.config.Server.StatsMaxClients,
		PublishInterval: a.config.Server.StatsPublishIntervalDuration(),
		WindowInterval:  a.config.Server.StatsResetIntervalDuration(),
		History:         a.config.Server.StatsHistoryDuration(),
	}, a.logger)

	consumers := []dispatch.Consumer{a.broadcastC, a.statsC}
	if a.config.Kafka.Enabled {
		kc, err := kafka.New(kafka.Config{
			Name:         "kafka",
			Brokers:      a.config.Kafka.Brokers,
			Topic:        a.config.Kafka.Topic,
			SASLUser:     a.config.Kafka.SASLUser,
			SASLPassword: a.config.Kafka.SASLPassword,
			Compression:  a.config.Kafka.Compression,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		kc.SetTracer(a.tracer)
		a.kafkaC = kc
		consumers = append(consumers, kc)
	}

	a.hub = dispatch.New(dispatch.Config{}, a.transportServer, consumers, dbConsumers, a.auditLog, a.logger)
	a.hub.SetTracer(a.tracer)

	a.registry = metrics.NewRegistry()
	if a.config.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(a.config.Metrics.ListenAddr, a.registry, a.logger)
		a.metricsServer.SetStatsProvider(a.auditLog.Counts)
	}
	sampler, err := metrics.NewProcessSampler(15*time.Second, a.logger)
	if err != nil {
		return fmt.Errorf("process sampler: %w", err)
	}
	a.processSampler = sampler

	if a.configFile != "" {
		watcher, err := config.NewWatcher(a.configFile, time.Second, a.logger, a.onConfigReload)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
		a.watcher = watcher
	}

	return nil
}

// assignNodeID hands every handshaking client a strictly increasing node
// ID; nothing in this pipeline rejects a connection or redirects to a
// proxy from the root server itself (§4.4's proxy redirect is a config
// decision made upstream of the server, not by the server).
func (a *App) assignNodeID(clientName, proxyState string) server.Decision {
	id := atomic.AddInt64(&a.nextNodeID, 1)
	a.logger.WithFields(logrus.Fields{
		"component":   "serverapp",
		"client_name": clientName,
		"proxy_state": proxyState,
		"node_id":     id,
	}).Info("client handshake")
	return server.Decision{NodeID: id}
}

// onConfigReload swaps in the reloaded document. Already-constructed
// components keep the settings they were built with (listener ports, DB
// pool size, consumer wiring) — only a restart changes those, same scope
// the teacher's hot-reload concern has. A future config read (e.g. a
// handler that inspects a.config) sees the new values immediately.
func (a *App) onConfigReload(cfg *config.Config) {
	a.config = cfg
	a.logger.WithFields(logrus.Fields{"component": "serverapp"}).Info("applied reloaded configuration (listener topology unchanged)")
}

// Start launches every component and returns once the process is ready
// to accept connections. It does not block.
func (a *App) Start() error {
	a.logger.Info("starting infoLoggerServer")

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	a.processSampler.Start()

	for _, w := range a.dbWorkers {
		if err := w.Start(); err != nil {
			return fmt.Errorf("db worker %s: %w", w.Name(), err)
		}
	}
	if err := a.broadcastC.Start(); err != nil {
		return fmt.Errorf("broadcast consumer: %w", err)
	}
	if err := a.statsC.Start(); err != nil {
		return fmt.Errorf("stats consumer: %w", err)
	}
	if a.kafkaC != nil {
		if err := a.kafkaC.Start(); err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
	}
	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("dispatch hub: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.transportServer.Serve(); err != nil {
			a.logger.WithFields(logrus.Fields{"component": "serverapp", "error": err}).Error("transport server exited")
		}
	}()

	if a.watcher != nil {
		if err := a.watcher.Start(); err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
	}

	if a.metricsServer != nil {
		a.metricsServer.SetReady(true)
	}
	a.logger.Info("infoLoggerServer started")
	return nil
}

// Stop gracefully shuts every component down, logging but not failing on
// individual component errors, same as the teacher's Stop.
func (a *App) Stop() error {
	a.logger.Info("stopping infoLoggerServer")
	a.cancel()

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop config watcher")
		}
	}
	if err := a.transportServer.Stop(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop transport server")
	}
	if err := a.hub.Stop(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop dispatch hub")
	}
	if a.kafkaC != nil {
		if err := a.kafkaC.Stop(); err != nil {
			a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop kafka consumer")
		}
	}
	if err := a.statsC.Stop(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop stats consumer")
	}
	if err := a.broadcastC.Stop(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop broadcast consumer")
	}
	for _, w := range a.dbWorkers {
		if err := w.Stop(); err != nil {
			a.logger.WithFields(logrus.Fields{"error": err, "worker": w.Name()}).Error("failed to stop db worker")
		}
	}
	if err := a.auditLog.Stop(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop audit log")
	}
	a.processSampler.Stop()
	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(); err != nil {
			a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop metrics server")
		}
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := a.tracer.Shutdown(shutdownCtx); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to shutdown tracer")
	}

	a.wg.Wait()
	a.logger.Info("infoLoggerServer stopped")
	return nil
}

// Run starts the app and blocks until SIGINT/SIGTERM, then stops it.
func (a *App) Run() error {
	if err := a.auditLog.Start(); err != nil {
		return fmt.Errorf("audit log: %w", err)
	}
	if err := a.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	a.logger.Info("shutdown signal received")
	return a.Stop()
}
