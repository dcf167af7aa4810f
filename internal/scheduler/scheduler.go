// Package scheduler paces the sends of a publication plan onto a bound
// channel.
//
// Nothing is routed until the settle window, measured from the channel's bind
// instant, has passed: subscribers connecting after a send never see it.
// Steps are then sent strictly in order, each after its own delay. A cyclic
// plan restarts after its cycle interval until cancelled or until MaxCycles
// passes have been made. All waits go through a clock.Clock.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/alfredjeanlab/fleetbus/internal/clock"
	"github.com/alfredjeanlab/fleetbus/internal/envelope"
)

// interestPoll is how often the interest gate checks the subscriber count.
const interestPoll = 50 * time.Millisecond

// ErrEmptyPlan is returned when a plan has no steps.
var ErrEmptyPlan = errors.New("plan has no steps")

// Sender is the bound channel the scheduler routes onto.
type Sender interface {
	Route(env envelope.Envelope) error
	BoundAt() time.Time
}

// InterestReporter is implemented by senders that can count subscribers.
type InterestReporter interface {
	Subscribers() int
}

// Options tunes pacing.
type Options struct {
	// Settle is the minimum time between bind and the first send. Zero sends
	// immediately.
	Settle time.Duration
	// SettleMax, when greater than Settle, lets the first send wait until
	// SettleMax after bind for MinSubscribers subscriptions to appear.
	SettleMax      time.Duration
	MinSubscribers int
	// RateLimit caps sends per second. Zero is unlimited.
	RateLimit float64
	// MaxCycles stops a cyclic plan after that many passes. Zero loops until
	// cancelled.
	MaxCycles int
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Stats summarizes a run.
type Stats struct {
	Sent   int
	Failed int
	Cycles int
}

// Scheduler runs plans. It holds no per-run state and may be shared.
type Scheduler struct {
	opts Options
}

// New creates a scheduler.
func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{opts: opts}
}

// Run sends the plan on s. Route failures are logged and counted, never
// retried. Run returns the context error if ctx is done before the plan is
// exhausted; a cyclic plan without MaxCycles only ends that way.
func (sc *Scheduler) Run(ctx context.Context, s Sender, p Plan) (stats Stats, err error) {
	if len(p.Steps) == 0 {
		return stats, ErrEmptyPlan
	}
	clk := sc.opts.Clock
	log := sc.opts.Logger

	if err := sc.settle(ctx, s); err != nil {
		return stats, err
	}

	var limiter *rate.Limiter
	if sc.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(sc.opts.RateLimit), 1)
	}

	cur := newCursor(p, sc.opts.MaxCycles)
	defer func() { stats.Cycles = cur.completed() }()
	for {
		step, wait, ok := cur.next()
		if !ok {
			return stats, nil
		}
		if err := clock.Sleep(ctx, clk, wait); err != nil {
			return stats, err
		}
		if limiter != nil {
			now := clk.Now()
			if err := clock.Sleep(ctx, clk, limiter.ReserveN(now, 1).DelayFrom(now)); err != nil {
				return stats, err
			}
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		if err := s.Route(step.Envelope); err != nil {
			stats.Failed++
			log.Warn("route failed",
				"tag", step.Envelope.Tag,
				"action", step.Event.Action,
				"subject_id", step.Event.SubjectID,
				"err", err)
			continue
		}
		stats.Sent++
		log.Debug("routed",
			"tag", step.Envelope.Tag,
			"action", step.Event.Action,
			"subject_id", step.Event.SubjectID)
	}
}

// settle blocks until the settle window after bind has passed, then runs the
// interest gate if one is configured.
func (sc *Scheduler) settle(ctx context.Context, s Sender) error {
	clk := sc.opts.Clock
	boundAt := s.BoundAt()
	if err := clock.SleepUntil(ctx, clk, boundAt.Add(sc.opts.Settle)); err != nil {
		return err
	}

	ir, ok := s.(InterestReporter)
	if !ok || sc.opts.MinSubscribers <= 0 || sc.opts.SettleMax <= sc.opts.Settle {
		return nil
	}
	deadline := boundAt.Add(sc.opts.SettleMax)
	for {
		n := ir.Subscribers()
		if n >= sc.opts.MinSubscribers {
			return nil
		}
		if !clk.Now().Before(deadline) {
			sc.opts.Logger.Warn("settle max reached without enough subscribers",
				"subscribers", n, "want", sc.opts.MinSubscribers)
			return nil
		}
		wait := min(interestPoll, deadline.Sub(clk.Now()))
		if err := clock.Sleep(ctx, clk, wait); err != nil {
			return err
		}
	}
}
