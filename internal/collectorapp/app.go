// Package collectorapp wires the infoLoggerD components (spec.md §4.5,
// §6) into one process: the local collector socket, the durable message
// FIFO it feeds, and the transport client that drains that FIFO upstream
// to infoLoggerServer (or a proxy in front of it). Mirrors the teacher's
// thin-cmd/fat-app split: cmd/infoLoggerD only calls New and Run.
package collectorapp

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"infologger/internal/collector"
	"infologger/internal/config"
	"infologger/internal/metrics"
	"infologger/internal/tracing"
	"infologger/internal/transport/client"
	"infologger/pkg/compression"
	"infologger/pkg/fifo"
)

// App is the fully wired infoLoggerD process.
type App struct {
	config     *config.Config
	logger     *logrus.Logger
	configFile string

	tracer *tracing.Provider

	batchFIFO *fifo.FIFO
	msgFIFO   *fifo.FIFO
	client    *client.Client
	collector *collector.Collector

	registry       *prometheus.Registry
	metricsServer  *metrics.Server
	processSampler *metrics.ProcessSampler

	watcher *config.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New loads configFile, validates it, and initializes every component.
func New(configFile string) (*App, error) {
	logger := newLogger()

	cfg, err := config.LoadConfig(configFile, logger)
	if err != nil {
		return nil, fmt.Errorf("collectorapp: load config: %w", err)
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
		"component":   "collectorapp",
		"socket":      cfg.Collector.RxSocketPath,
		"server_host": cfg.Collector.ServerHost,
		"server_port": cfg.Collector.ServerPort,
	}).Info("configuration loaded")

	if err := app.initComponents(); err != nil {
		return nil, fmt.Errorf("collectorapp: init components: %w", err)
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
	tracer, err := tracing.New("infoLoggerD", tracing.Config{
		Enabled:  a.config.Tracing.Enabled,
		Exporter: a.config.Tracing.Exporter,
		Endpoint: a.config.Tracing.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	a.tracer = tracer

	if err := os.MkdirAll(a.config.Collector.LocalLogDirectory, 0o755); err != nil {
		return fmt.Errorf("local log directory: %w", err)
	}

	codec := compression.None
	if a.config.Server.FIFOCompression != "" {
		codec = compression.Algorithm(a.config.Server.FIFOCompression)
	}

	msgFIFO, err := fifo.Open(fifo.Config{
		Path:        a.config.Collector.MsgQueuePath,
		Compression: codec,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("message fifo: %w", err)
	}
	a.msgFIFO = msgFIFO

	// The client always needs a batch fifo (fillWindow reads it every
	// tick), even though this daemon never calls EnqueueBatch itself —
	// that path exists for the proxy role (§4.4), not the plain
	// collector role.
	batchFIFO, err := fifo.Open(fifo.Config{
		Path:        filepath.Join(a.config.Collector.LocalLogDirectory, "batch.fifo"),
		Compression: codec,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("batch fifo: %w", err)
	}
	a.batchFIFO = batchFIFO

	a.client = client.New(client.Config{
		ClientName: hostnameOr(a.config.Collector.RxSocketPath),
		ProxyState: client.CannotBeProxy,
		ServerAddr: fmt.Sprintf("%s:%d", a.config.Collector.ServerHost, a.config.Collector.ServerPort),
	}, a.batchFIFO, a.msgFIFO, a.logger)
	a.client.SetTracer(a.tracer)

	a.collector = collector.New(collector.Config{
		SocketName: a.config.Collector.RxSocketPath,
		MaxClients: a.config.Collector.RxMaxConnections,
	}, a.client, a.logger)

	a.registry = metrics.NewRegistry()
	if a.config.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(a.config.Metrics.ListenAddr, a.registry, a.logger)
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

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}

func (a *App) onConfigReload(cfg *config.Config) {
	a.config = cfg
	a.logger.WithFields(logrus.Fields{"component": "collectorapp"}).Info("applied reloaded configuration (socket/upstream topology unchanged)")
}

// Start launches every component; it does not block.
func (a *App) Start() error {
	a.logger.Info("starting infoLoggerD")

	if a.metricsServer != nil {
		if err := a.metricsServer.Start(); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
	}
	a.processSampler.Start()

	if err := a.client.Start(); err != nil {
		return fmt.Errorf("transport client: %w", err)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.collector.Serve(); err != nil {
			a.logger.WithFields(logrus.Fields{"component": "collectorapp", "error": err}).Error("collector exited")
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
	a.logger.Info("infoLoggerD started")
	return nil
}

// Stop gracefully shuts every component down.
func (a *App) Stop() error {
	a.logger.Info("stopping infoLoggerD")
	a.cancel()

	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop config watcher")
		}
	}
	if err := a.collector.Stop(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop collector")
	}
	if err := a.client.Stop(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to stop transport client")
	}
	if err := a.msgFIFO.Close(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to close message fifo")
	}
	if err := a.batchFIFO.Close(); err != nil {
		a.logger.WithFields(logrus.Fields{"error": err}).Error("failed to close batch fifo")
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
	a.logger.Info("infoLoggerD stopped")
	return nil
}

// Run starts the app and blocks until SIGINT/SIGTERM, then stops it.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	a.logger.Info("shutdown signal received")
	return a.Stop()
}
