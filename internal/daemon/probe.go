package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/Joe3124t/pingy-sub002/internal/status"
	"github.com/Joe3124t/pingy-sub002/internal/store"
	"go.uber.org/zap"
)

const (
	probeInterval = 15 * time.Second
	probeTimeout  = 2 * time.Second
)

// storeProbe pings the database and flips the daemon between READY and
// DEGRADED, which the health service reports as SERVING / NOT_SERVING.
type storeProbe struct {
	db       *store.DB
	machine  *status.Machine
	logger   *zap.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStoreProbe(db *store.DB, m *status.Machine, logger *zap.Logger) *storeProbe {
	return &storeProbe{db: db, machine: m, logger: logger, interval: probeInterval}
}

func (p *storeProbe) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.check(ctx)
			}
		}
	}()
}

func (p *storeProbe) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *storeProbe) check(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := p.db.PingContext(ctx)
	switch cur := p.machine.Current(); {
	case err != nil && cur == status.Ready:
		p.logger.Warn("store unreachable, degrading", zap.Error(err))
		_ = p.machine.Transition(status.Degraded)
	case err == nil && cur == status.Degraded:
		p.logger.Info("store reachable again")
		_ = p.machine.Transition(status.Ready)
	}
}
