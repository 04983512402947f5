// Package poll drives a polling loop whose cadence follows the market
// session reported by each response.
//
// The controller owns exactly one pending timer. A timer that fires re-arms
// itself at the current interval before polling; a successful poll replaces
// that timer with one anchored at the moment the response arrived, using the
// interval of the newly observed mode. A failed poll leaves the schedule
// alone, so the next tick happens as previously planned.
package poll

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrAlreadyStarted = errors.New("poll: controller already started")

// PollFunc performs one poll and returns the market state string from the
// response.
type PollFunc func(ctx context.Context) (string, error)

type Controller struct {
	poll      PollFunc
	intervals Intervals
	sched     Scheduler
	timeout   time.Duration
	onChange  func(from, to Mode)
	logger    zerolog.Logger

	mu       sync.Mutex
	running  bool
	mode     Mode
	interval time.Duration
	timer    Timer
	gen      uint64
	ctx      context.Context
	cancel   context.CancelFunc

	inFlight atomic.Bool
	wg       sync.WaitGroup
}

type Option func(*Controller)

func WithIntervals(iv Intervals) Option {
	return func(c *Controller) {
		if iv.Valid() {
			c.intervals = iv
		}
	}
}

func WithScheduler(s Scheduler) Option {
	return func(c *Controller) { c.sched = s }
}

// WithTimeout bounds each poll.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// OnChange registers fn to be called after every mode transition. The hook
// runs on the polling goroutine once the poll itself has finished, so it may
// call Stop. A hook that is already running when Stop is called from
// elsewhere can finish after Stop returns.
func OnChange(fn func(from, to Mode)) Option {
	return func(c *Controller) { c.onChange = fn }
}

func NewController(poll PollFunc, opts ...Option) *Controller {
	c := &Controller{
		poll:      poll,
		intervals: DefaultIntervals(),
		sched:     WallClock,
		timeout:   30 * time.Second,
		logger:    zerolog.Nop(),
		mode:      Unknown,
	}
	for _, o := range opts {
		o(c)
	}
	c.interval = c.intervals.Closed
	c.logger = c.logger.With().Str("component", "poll").Str("controller", uuid.NewString()).Logger()
	return c
}

// Mode returns the last observed mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Interval returns the period of the pending timer.
func (c *Controller) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interval
}

// Start arms the timer at the CLOSED interval and performs the first poll
// before returning.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.armLocked(c.intervals.Closed)
	c.wg.Add(1)
	c.mu.Unlock()

	c.logger.Info().Dur("interval", c.intervals.Closed).Msg("poll controller started")
	c.pollOnce()
	return nil
}

// Stop cancels the pending timer and waits for an in-flight poll. No poll
// runs after Stop returns.
func (c *Controller) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	c.logger.Info().Msg("poll controller stopped")
}

// armLocked replaces the pending timer. Callers hold c.mu.
func (c *Controller) armLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.interval = d
	c.timer = c.sched.AfterFunc(d, func() { c.fire(gen) })
}

func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if !c.running || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.armLocked(c.interval)
	c.wg.Add(1)
	c.mu.Unlock()

	c.pollOnce()
}

// pollOnce runs one poll. The caller has already done c.wg.Add(1); it is
// released before the OnChange hook runs.
func (c *Controller) pollOnce() {
	from, to, changed := c.runPoll()
	c.wg.Done()

	if changed && c.onChange != nil {
		c.onChange(from, to)
	}
}

func (c *Controller) runPoll() (from, to Mode, changed bool) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug().Msg("poll still in flight, skipping tick")
		return "", "", false
	}
	defer c.inFlight.Store(false)

	ctx := c.ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	state, err := c.poll(ctx)

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return "", "", false
	}
	if err != nil {
		interval := c.interval
		c.mu.Unlock()
		c.logger.Warn().Err(err).Dur("next", interval).Msg("poll failed, keeping schedule")
		return "", "", false
	}

	prev := c.mode
	if m, ok := ParseMode(state); ok {
		c.mode = m
	} else {
		c.logger.Debug().Str("state", state).Msg("unrecognised market state")
	}
	next := c.intervals.For(c.mode)
	c.armLocked(next)
	mode := c.mode
	c.mu.Unlock()

	if mode == prev {
		return "", "", false
	}
	c.logger.Info().Str("from", string(prev)).Str("to", string(mode)).Dur("interval", next).Msg("market mode changed")
	return prev, mode, true
}
