package metrics

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// ProcessSampler periodically refreshes the gopsutil-backed process
// gauges (ProcessResidentMemoryBytes, ProcessCPUPercent, ProcessOpenFDs).
type ProcessSampler struct {
	interval time.Duration
	logger   *logrus.Logger
	proc     *process.Process

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewProcessSampler(interval time.Duration, logger *logrus.Logger) (*ProcessSampler, error) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessSampler{
		interval: interval,
		logger:   logger,
		proc:     proc,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

func (p *ProcessSampler) Start() {
	go p.loop()
}

func (p *ProcessSampler) Stop() {
	p.cancel()
	<-p.done
}

func (p *ProcessSampler) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.sampleOnce()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.sampleOnce()
		}
	}
}

func (p *ProcessSampler) sampleOnce() {
	if mem, err := p.proc.MemoryInfo(); err == nil && mem != nil {
		ProcessResidentMemoryBytes.Set(float64(mem.RSS))
	}
	if pct, err := p.proc.CPUPercent(); err == nil {
		ProcessCPUPercent.Set(pct)
	}
	if n, err := p.proc.NumFDs(); err == nil {
		ProcessOpenFDs.Set(float64(n))
	} else {
		p.logger.WithFields(logrus.Fields{"component": "metrics", "error": err}).Debug("open fd count unavailable on this platform")
	}
}
