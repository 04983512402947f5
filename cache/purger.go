package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPurgeInterval is how often the background purger runs.
const DefaultPurgeInterval = time.Hour

// PurgeLoop periodically removes entries past the retention ceiling.
// It is best-effort: failures are logged and the next cycle tries again.
type PurgeLoop struct {
	store    Purger
	interval time.Duration
	logger   zerolog.Logger
	onPurge  func(removed int64)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPurgeLoop creates a purge loop over store.
func NewPurgeLoop(store Purger, interval time.Duration, logger zerolog.Logger) *PurgeLoop {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	return &PurgeLoop{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "cache_purger").Logger(),
	}
}

// OnPurge registers fn to receive the count of every successful pass.
// It must be called before Start.
func (p *PurgeLoop) OnPurge(fn func(removed int64)) {
	p.onPurge = fn
}

// Start begins the purge loop. The first purge runs immediately.
func (p *PurgeLoop) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info().Dur("interval", p.interval).Msg("cache purger started")
}

// Stop cancels the loop and waits for an in-flight purge to finish.
func (p *PurgeLoop) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Msg("cache purger stopped")
}

func (p *PurgeLoop) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PurgeOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PurgeOnce(ctx)
		}
	}
}

// PurgeOnce runs a single purge pass and returns the number of removed entries.
func (p *PurgeLoop) PurgeOnce(ctx context.Context) int64 {
	start := time.Now()
	n, err := p.store.Purge(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("cache purge failed")
		return 0
	}
	if p.onPurge != nil {
		p.onPurge(n)
	}
	p.logger.Debug().Int64("removed", n).Dur("duration", time.Since(start)).Msg("cache purge complete")
	return n
}
