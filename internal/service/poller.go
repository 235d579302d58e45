package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultPollInterval = 60 * time.Second

// CycleRunner runs a single poll cycle.
type CycleRunner interface {
	ProcessQueue(ctx context.Context) CycleReport
}

// Poller triggers a poll cycle immediately and then on every tick until its
// context is cancelled.
type Poller struct {
	runner   CycleRunner
	interval time.Duration
	logger   *zap.Logger
}

func NewPoller(runner CycleRunner, interval time.Duration, logger *zap.Logger) (*Poller, error) {
	if runner == nil {
		return nil, fmt.Errorf("cycle runner is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Poller{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}, nil
}

func (p *Poller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	p.logger.Info("queue poller started", zap.Duration("interval", p.interval))
	defer p.logger.Info("queue poller stopped")

	p.runner.ProcessQueue(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				return nil
			}
			p.runner.ProcessQueue(ctx)
		}
	}
}
