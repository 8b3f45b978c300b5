package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPruneInterval is how often a running gateway trims the journal.
const DefaultPruneInterval = time.Hour

// Pruner deletes entries older than the retention window on a fixed interval.
type Pruner struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewPruner creates a Pruner. A non-positive interval uses DefaultPruneInterval.
func NewPruner(store *Store, retention, interval time.Duration, logger *slog.Logger) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With("component", "journal.pruner"),
		stopCh:    make(chan struct{}),
	}
}

// Start prunes once immediately, then on every interval until ctx is done or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.tickLoop(ctx)
}

// Stop ends the loop and waits for an in-flight prune to finish.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Pruner) tickLoop(ctx context.Context) {
	defer p.wg.Done()

	p.tick(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pruner) tick(ctx context.Context) {
	n, err := p.store.Prune(ctx, p.retention)
	if err != nil {
		p.logger.Warn("journal prune failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("journal pruned", "rows", n, "retention", p.retention)
	}
}
