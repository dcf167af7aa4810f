// Package router binds pub/sub endpoints and routes tagged envelopes onto
// them.
//
// Binding an endpoint starts an embedded NATS server listening on it. The tag
// of each envelope is the NATS subject and the body is the payload, so
// subscribers filter on the tag without decoding the body. Delivery is
// at-most-once: a subscriber that is not connected when a send happens never
// sees it.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/fleetbus/internal/clock"
)

const readyPoll = 25 * time.Millisecond

// Options tunes binding.
type Options struct {
	// BindAttempts is the number of tries for a bind that fails at the OS
	// level (another process holding the port). Conflicts inside this process
	// are never retried. Default 1.
	BindAttempts int
	// BindRetryWait is the pause between bind attempts. Default 5s.
	BindRetryWait time.Duration
	// ReadyTimeout bounds how long a bound server may take to accept
	// connections. Default 5s.
	ReadyTimeout time.Duration
	// Clock paces bind retries. Default wall clock.
	Clock clock.Clock
}

func (o Options) withDefaults() Options {
	if o.BindAttempts <= 0 {
		o.BindAttempts = 1
	}
	if o.BindRetryWait <= 0 {
		o.BindRetryWait = 5 * time.Second
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	return o
}

// Router owns the endpoint namespace of this process.
type Router struct {
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	bound map[string]*Channel // nil value: bind in progress
}

// New creates a router.
func New(logger *slog.Logger, opts Options) *Router {
	return &Router{
		opts:   opts.withDefaults(),
		logger: logger,
		bound:  make(map[string]*Channel),
	}
}

// Bind binds endpoint and returns its channel. Binding an endpoint this
// process already holds fails with ErrBindConflict; once the channel is
// closed the endpoint may be bound again.
func (r *Router) Bind(ctx context.Context, endpoint string) (*Channel, error) {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return nil, &BindError{Endpoint: endpoint, Err: err}
	}

	key := ep.Address()
	if ep.Port != 0 {
		r.mu.Lock()
		if _, taken := r.bound[key]; taken {
			r.mu.Unlock()
			return nil, &BindError{Endpoint: ep.String(), Err: ErrBindConflict}
		}
		r.bound[key] = nil
		r.mu.Unlock()
	}

	var ch *Channel
	for attempt := 1; ; attempt++ {
		ch, err = r.start(ep)
		if err == nil {
			break
		}
		if attempt >= r.opts.BindAttempts {
			break
		}
		r.logger.Warn("bind failed, retrying",
			"endpoint", ep.String(), "attempt", attempt, "wait", r.opts.BindRetryWait, "err", err)
		if serr := clock.Sleep(ctx, r.opts.Clock, r.opts.BindRetryWait); serr != nil {
			err = serr
			break
		}
	}
	if err != nil {
		if ep.Port != 0 {
			r.mu.Lock()
			delete(r.bound, key)
			r.mu.Unlock()
		}
		return nil, &BindError{Endpoint: ep.String(), Err: err}
	}

	r.mu.Lock()
	r.bound[ch.key] = ch
	r.mu.Unlock()

	r.logger.Info("channel bound", "endpoint", ch.Endpoint())
	return ch, nil
}

// Bound returns the addresses currently bound.
func (r *Router) Bound() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for k, ch := range r.bound {
		if ch != nil {
			out = append(out, k)
		}
	}
	return out
}

func (r *Router) release(ch *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bound[ch.key] == ch {
		delete(r.bound, ch.key)
	}
}

func (r *Router) start(ep Endpoint) (*Channel, error) {
	// Probe the port first to resolve port 0 and fail fast on a held port.
	l, err := net.Listen("tcp", ep.Address())
	if err != nil {
		return nil, listenError(err)
	}
	ep.Port = l.Addr().(*net.TCPAddr).Port
	l.Close()

	srv, err := natsserver.NewServer(&natsserver.Options{
		Host:   ep.Host,
		Port:   ep.Port,
		NoSigs: true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	sl := newServerLogger(r.logger)
	srv.SetLogger(sl, false, false)
	srv.Start()
	if err := r.waitReady(srv, sl, ep); err != nil {
		srv.Shutdown()
		return nil, err
	}

	conn, err := nats.Connect(ep.URL(),
		nats.InProcessServer(srv),
		nats.Name("fleetbus-publisher"),
		nats.NoReconnect(),
	)
	if err != nil {
		srv.Shutdown()
		return nil, fmt.Errorf("connecting publisher: %w", err)
	}

	return &Channel{
		endpoint: ep,
		key:      ep.Address(),
		boundAt:  r.opts.Clock.Now(),
		srv:      srv,
		conn:     conn,
		baseline: srv.NumSubscriptions(),
		router:   r,
		logger:   r.logger.With("endpoint", ep.String()),
	}, nil
}

// waitReady waits for srv to accept connections. The port can be taken
// between the probe and the server's own listen; that surfaces as a fatal
// log from the accept loop and is reported as ErrBindConflict.
func (r *Router) waitReady(srv *natsserver.Server, sl *serverLogger, ep Endpoint) error {
	deadline := time.Now().Add(r.opts.ReadyTimeout)
	for {
		if srv.ReadyForConnections(readyPoll) {
			return nil
		}
		select {
		case err := <-sl.fatal:
			return err
		default:
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("server on %s not ready after %s", ep.Address(), r.opts.ReadyTimeout)
		}
	}
}

// listenError classifies a failed listen.
func listenError(err error) error {
	if errors.Is(err, syscall.EADDRINUSE) {
		return fmt.Errorf("%w: %v", ErrBindConflict, err)
	}
	return err
}
