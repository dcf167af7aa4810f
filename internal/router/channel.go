package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
)

const defaultFlushTimeout = 5 * time.Second

// Channel is a bound outbound channel. It has a single writer: the session
// that bound it.
type Channel struct {
	endpoint Endpoint
	key      string
	boundAt  time.Time
	srv      *natsserver.Server
	conn     *nats.Conn
	baseline uint32
	router   *Router
	logger   *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Endpoint returns the bound address, with the resolved port.
func (c *Channel) Endpoint() string { return c.endpoint.String() }

// URL returns the address subscribers connect to.
func (c *Channel) URL() string { return c.endpoint.URL() }

// BoundAt returns when the endpoint was bound, on the router's clock.
func (c *Channel) BoundAt() time.Time { return c.boundAt }

// Route sends env without waiting for subscribers. Nothing is queued for
// subscribers that are not connected yet.
func (c *Channel) Route(env envelope.Envelope) error {
	if c.closed.Load() {
		return &TransportError{Tag: env.Tag, Err: ErrClosed}
	}
	if err := c.conn.Publish(env.Tag, env.Body); err != nil {
		return &TransportError{Tag: env.Tag, Err: err}
	}
	return nil
}

// Flush waits until the server has received every routed envelope.
func (c *Channel) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultFlushTimeout)
		defer cancel()
	}
	return c.conn.FlushWithContext(ctx)
}

// Subscribers returns the number of live client subscriptions on the
// endpoint.
func (c *Channel) Subscribers() int {
	n := int(c.srv.NumSubscriptions()) - int(c.baseline)
	if n < 0 {
		return 0
	}
	return n
}

// Close flushes pending sends, stops the server and releases the endpoint.
func (c *Channel) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if err := c.Flush(ctx); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Error("flush on close failed", "err", err)
			c.closeErr = err
		}
		c.conn.Close()
		c.srv.Shutdown()
		c.srv.WaitForShutdown()
		c.router.release(c)
		c.logger.Info("channel closed")
	})
	return c.closeErr
}
