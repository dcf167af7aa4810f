// Package listen is a verification subscriber for fleet topics. It decodes
// every envelope it receives with the fleet schemas and flags envelopes seen
// again within a dedupe window, which is how cyclic republication looks to a
// fleet.
package listen

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/model"
)

// AllTags subscribes to every tag.
const AllTags = ">"

// Received is one envelope delivered to the subscriber.
type Received struct {
	Tag   string
	Body  []byte
	Event model.Event
	// Err is set when the body does not decode under the tag's schema.
	Err error
	// Duplicate is set when the same tag and body arrived within the dedupe
	// window.
	Duplicate bool
	At        time.Time
}

// Subscriber receives envelopes from a bound endpoint.
type Subscriber struct {
	conn    *nats.Conn
	codec   *envelope.Codec
	seen    *ttlcache.Cache[string, struct{}]
	logger  *slog.Logger
	dropped atomic.Int64
}

// Dial connects to the endpoint URL with automatic reconnection support. A
// zero window disables duplicate detection. Extra nats.Option values (e.g.
// disconnect/reconnect handlers) can be appended.
func Dial(url string, codec *envelope.Codec, window time.Duration, logger *slog.Logger, opts ...nats.Option) (*Subscriber, error) {
	defaults := []nats.Option{
		nats.Name("fleetbus-listen"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}
	if codec == nil {
		codec = envelope.NewCodec(nil)
	}
	s := &Subscriber{conn: nc, codec: codec, logger: logger}
	if window > 0 {
		s.seen = ttlcache.New[string, struct{}](
			ttlcache.WithTTL[string, struct{}](window),
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		)
		go s.seen.Start()
	}
	return s, nil
}

// Subscribe delivers envelopes for the given tags on the returned channel;
// no tags means every tag. Call the returned cancel function to unsubscribe
// and close the channel.
func (s *Subscriber) Subscribe(tags ...string) (<-chan Received, func(), error) {
	if len(tags) == 0 {
		tags = []string{AllTags}
	}
	ch := make(chan Received, 64)

	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
		subs   []*nats.Subscription
	)
	unsubscribe := func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}

	handler := func(msg *nats.Msg) {
		r := s.receive(msg)
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- r:
		default:
			// Drop rather than block the NATS client.
			s.dropped.Add(1)
		}
	}

	for _, tag := range tags {
		sub, err := s.conn.Subscribe(tag, handler)
		if err != nil {
			unsubscribe()
			close(ch)
			return nil, nil, fmt.Errorf("subscribing to %s: %w", tag, err)
		}
		subs = append(subs, sub)
	}
	// Flush ensures the subscriptions are registered on the server before
	// returning.
	if err := s.conn.Flush(); err != nil {
		unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			for {
				select {
				case <-ch:
				default:
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel, nil
}

func (s *Subscriber) receive(msg *nats.Msg) Received {
	r := Received{Tag: msg.Subject, Body: msg.Data, At: time.Now()}
	_, r.Event, r.Err = s.codec.Decode(envelope.Envelope{Tag: msg.Subject, Body: msg.Data})
	if r.Err != nil {
		s.logger.Warn("undecodable envelope", "tag", msg.Subject, "err", r.Err)
	}
	if s.seen != nil {
		key := msg.Subject + "\x00" + string(msg.Data)
		if s.seen.Get(key) != nil {
			r.Duplicate = true
		} else {
			s.seen.Set(key, struct{}{}, ttlcache.DefaultTTL)
		}
	}
	return r
}

// Dropped returns the number of envelopes dropped because a receiver fell
// behind.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) Close() error {
	if s.seen != nil {
		s.seen.Stop()
	}
	s.conn.Close()
	return nil
}
