// Package session runs publication sessions: bind an endpoint, wait for the
// settle window, send a plan and close.
//
// Each Start validates against its own copy of the codec's registry, so plan
// aliases never leak between sessions. An entry that fails validation is not
// sent, but its delay is kept: it is added to the next entry that is sent.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alfredjeanlab/fleetbus/internal/clock"
	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/idgen"
	"github.com/alfredjeanlab/fleetbus/internal/model"
	"github.com/alfredjeanlab/fleetbus/internal/plan"
	"github.com/alfredjeanlab/fleetbus/internal/router"
	"github.com/alfredjeanlab/fleetbus/internal/scheduler"
)

const closeTimeout = 5 * time.Second

// Channel is the bound channel a session owns. The settle window is measured
// on the session's clock from the moment the bind returns.
type Channel interface {
	Route(env envelope.Envelope) error
	Subscribers() int
	Endpoint() string
	Close(ctx context.Context) error
}

// BindFunc binds an endpoint.
type BindFunc func(ctx context.Context, endpoint string) (Channel, error)

// RouterBinder binds through r.
func RouterBinder(r *router.Router) BindFunc {
	return func(ctx context.Context, endpoint string) (Channel, error) {
		ch, err := r.Bind(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		return ch, nil
	}
}

// Options are the session defaults. Plan settings override them. Zero
// durations are used as given; config.Load supplies the usual defaults.
type Options struct {
	Settle         time.Duration
	SettleMax      time.Duration
	MinSubscribers int
	CycleInterval  time.Duration
	Linger         time.Duration
	RateLimit      float64
	MaxCycles      int
	Strict         bool
	Clock          clock.Clock
	Logger         *slog.Logger
}

// Rejected is a plan entry that was not sent.
type Rejected struct {
	Index int
	Tag   string
	Event model.Event
	Err   error
}

// Result describes a finished session.
type Result struct {
	SessionID string
	Endpoint  string
	Stats     scheduler.Stats
	Rejected  []Rejected
}

// Session is a single publication. Start may be called once; later calls
// fail with ErrStarted.
type Session struct {
	id      string
	bind    BindFunc
	codec   *envelope.Codec
	opts    Options
	logger  *slog.Logger
	started atomic.Bool
}

// boundChannel stamps a channel with the session's bind time.
type boundChannel struct {
	Channel
	at time.Time
}

func (c boundChannel) BoundAt() time.Time { return c.at }

// New creates a session with a fresh id.
func New(bind BindFunc, codec *envelope.Codec, opts Options) (*Session, error) {
	id, err := idgen.SessionID()
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if codec == nil {
		codec = envelope.NewCodec(nil)
	}
	return &Session{
		id:     id,
		bind:   bind,
		codec:  codec,
		opts:   opts,
		logger: opts.Logger.With("session", id),
	}, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Start publishes p on endpoint, or on the plan's endpoint when endpoint is
// empty. A once plan returns after its last send and the linger window. A
// cyclic plan runs until ctx is cancelled, which counts as success.
func (s *Session) Start(ctx context.Context, endpoint string, p *plan.Plan) (Result, error) {
	if !s.started.CompareAndSwap(false, true) {
		return Result{SessionID: s.id}, &Error{SessionID: s.id, Endpoint: endpoint, Err: ErrStarted}
	}
	if endpoint == "" {
		endpoint = p.Endpoint
	}
	res := Result{SessionID: s.id, Endpoint: endpoint}
	fail := func(err error) (Result, error) {
		return res, &Error{SessionID: s.id, Endpoint: res.Endpoint, Err: err}
	}
	if endpoint == "" {
		return fail(errors.New("no endpoint"))
	}

	registry := s.codec.Registry().Clone()
	for alias, base := range p.Aliases {
		if err := registry.Alias(alias, base); err != nil {
			return fail(err)
		}
	}

	steps, rejected := s.encode(envelope.NewCodec(registry), p)
	res.Rejected = rejected
	if len(rejected) > 0 && (s.opts.Strict || p.Strict) {
		errs := make([]error, len(rejected))
		for i, r := range rejected {
			errs[i] = r.Err
		}
		return fail(fmt.Errorf("%w: %d of %d: %w", ErrRejected, len(rejected), len(p.Entries), errors.Join(errs...)))
	}
	if len(steps) == 0 {
		return fail(ErrNoEntries)
	}

	bound, err := s.bind(ctx, endpoint)
	if err != nil {
		return fail(err)
	}
	ch := boundChannel{Channel: bound, at: s.opts.Clock.Now()}
	res.Endpoint = ch.Endpoint()
	log := s.logger.With("endpoint", res.Endpoint)
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		if err := ch.Close(cctx); err != nil {
			log.Warn("closing channel", "err", err)
		}
	}()

	settle := plan.Duration(p.Settle, s.opts.Settle)
	log.Info("session started",
		"plan", p.Name, "mode", p.Mode, "entries", len(steps), "rejected", len(rejected), "settle", settle)

	sched := scheduler.New(scheduler.Options{
		Settle:         settle,
		SettleMax:      s.opts.SettleMax,
		MinSubscribers: s.opts.MinSubscribers,
		RateLimit:      s.opts.RateLimit,
		MaxCycles:      s.opts.MaxCycles,
		Clock:          s.opts.Clock,
		Logger:         log,
	})
	res.Stats, err = sched.Run(ctx, ch, scheduler.Plan{
		Steps:         steps,
		Mode:          p.Mode,
		CycleInterval: plan.Duration(p.CycleInterval, s.opts.CycleInterval),
	})
	if err != nil {
		if p.Mode == scheduler.Cyclic && ctx.Err() != nil {
			log.Info("session cancelled", "sent", res.Stats.Sent, "failed", res.Stats.Failed, "cycles", res.Stats.Cycles)
			return res, nil
		}
		return fail(err)
	}

	if p.Mode == scheduler.Once {
		linger := plan.Duration(p.Linger, s.opts.Linger)
		// Cancellation here only cuts the linger short: everything was sent.
		_ = clock.Sleep(ctx, s.opts.Clock, linger)
	}
	log.Info("session finished", "sent", res.Stats.Sent, "failed", res.Stats.Failed, "cycles", res.Stats.Cycles)
	return res, nil
}

// encode turns plan entries into scheduler steps. Entries that fail are
// logged and returned as rejected; their delay carries over to the next step.
func (s *Session) encode(codec *envelope.Codec, p *plan.Plan) ([]scheduler.Step, []Rejected) {
	var (
		steps    []scheduler.Step
		rejected []Rejected
		carried  time.Duration
	)
	for i, e := range p.Entries {
		err := e.Err
		var env envelope.Envelope
		if err == nil {
			env, err = codec.Encode(e.Tag, e.Event)
		}
		if err != nil {
			s.logger.Warn("entry rejected",
				"index", i, "tag", e.Tag, "action", e.Event.Action, "subject_id", e.Event.SubjectID, "err", err)
			rejected = append(rejected, Rejected{Index: i, Tag: e.Tag, Event: e.Event, Err: err})
			carried += e.Delay
			continue
		}
		steps = append(steps, scheduler.Step{Delay: carried + e.Delay, Envelope: env, Event: e.Event})
		carried = 0
	}
	return steps, rejected
}
