// Command infoLoggerProxy runs a relay tier between a group of collectors
// and the central infoLoggerServer (spec.md §4.4): it terminates the
// downstream transport protocol itself and re-emits every accepted batch
// upstream through its own transport client, so collectors on a segment
// that cannot reach the root server directly can still ship through it.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"infologger/internal/transport/proxy"
)

func main() {
	var (
		name         string
		upstreamAddr string
		listenAddr   string
		spillDir     string
		pollInterval time.Duration
	)
	flag.StringVar(&name, "name", "", "name this proxy presents to the upstream server's INI handshake")
	flag.StringVar(&upstreamAddr, "upstream", "", "host:port of the infoLoggerServer (or another proxy) to relay to")
	flag.StringVar(&listenAddr, "listen", ":6601", "address to accept downstream client connections on")
	flag.StringVar(&spillDir, "spill-dir", "/var/lib/infoLogger/proxy", "directory for the upstream client's persistent relay queue")
	flag.DurationVar(&pollInterval, "poll-interval", 20*time.Millisecond, "how often the relay loop drains the downstream server")
	flag.Parse()

	if name == "" {
		if h, err := os.Hostname(); err == nil {
			name = "proxy-" + h
		} else {
			name = "infoLoggerProxy"
		}
	}
	if upstreamAddr == "" {
		log.Fatal("infoLoggerProxy: -upstream is required")
	}

	logger := newLogger()

	if err := os.MkdirAll(spillDir, 0o755); err != nil {
		log.Fatalf("infoLoggerProxy: create spill dir: %v", err)
	}

	p, err := proxy.New(proxy.Config{
		Name:         name,
		UpstreamAddr: upstreamAddr,
		ListenAddr:   listenAddr,
		SpillDir:     spillDir,
		PollInterval: pollInterval,
	}, logger)
	if err != nil {
		log.Fatalf("infoLoggerProxy: %v", err)
	}

	if err := p.Start(); err != nil {
		log.Fatalf("infoLoggerProxy: start: %v", err)
	}
	logger.WithFields(logrus.Fields{"upstream": upstreamAddr, "listen": listenAddr}).Info("infoLoggerProxy started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("infoLoggerProxy shutting down")
	if err := p.Stop(); err != nil {
		logger.WithFields(logrus.Fields{"error": err}).Error("error during shutdown")
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level := logrus.InfoLevel
	if s := os.Getenv("INFOLOGGER_LOG_LEVEL"); s != "" {
		if parsed, err := logrus.ParseLevel(s); err == nil {
			level = parsed
		}
	}
	logger.SetLevel(level)
	return logger
}
