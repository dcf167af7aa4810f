package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/fleetbus/internal/clock"
	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/model"
	"github.com/alfredjeanlab/fleetbus/internal/plan"
	"github.com/alfredjeanlab/fleetbus/internal/router"
	"github.com/alfredjeanlab/fleetbus/internal/scheduler"
)

const (
	id1 = "dc79e5c9-4b10-48b3-b7b8-534821ce48c7"
	id2 = "1ec1499c-c255-4d67-9d12-c5cd6c2a9a53"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type routeRecord struct {
	env envelope.Envelope
	at  time.Time
}

// fakeChannel records routes against a virtual clock.
type fakeChannel struct {
	clk     clock.Clock
	boundAt time.Time
	fail    error

	mu     sync.Mutex
	routes []routeRecord
	closed bool
}

var _ Channel = (*fakeChannel)(nil)

func (c *fakeChannel) Route(env envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return &router.TransportError{Tag: env.Tag, Err: c.fail}
	}
	c.routes = append(c.routes, routeRecord{env: env, at: c.clk.Now()})
	return nil
}

func (c *fakeChannel) BoundAt() time.Time { return c.boundAt }
func (c *fakeChannel) Subscribers() int   { return 0 }
func (c *fakeChannel) Endpoint() string   { return "tcp://127.0.0.1:3000" }

func (c *fakeChannel) Close(context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// fakeBinder hands out one fakeChannel and counts binds.
type fakeBinder struct {
	clk clock.Clock

	mu    sync.Mutex
	ch    *fakeChannel
	binds int
}

func (b *fakeBinder) bind(context.Context, string) (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.binds++
	b.ch = &fakeChannel{clk: b.clk, boundAt: b.clk.Now()}
	return b.ch, nil
}

// routed returns how many envelopes the current channel has recorded.
func (b *fakeBinder) routed() int {
	b.mu.Lock()
	ch := b.ch
	b.mu.Unlock()
	if ch == nil {
		return 0
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.routes)
}

func newSession(t *testing.T, bind BindFunc, clk clock.Clock, opts Options) *Session {
	t.Helper()
	opts.Clock = clk
	opts.Logger = quietLogger()
	s, err := New(bind, envelope.NewCodec(envelope.DefaultRegistry()), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// startDriven runs Start while advancing clk in 10ms steps.
func startDriven(ctx context.Context, clk *clock.Fake, s *Session, p *plan.Plan) (Result, error) {
	done := make(chan struct{})
	go clk.Drive(done, 10*time.Millisecond)
	defer close(done)
	return s.Start(ctx, "", p)
}

func createThenInit() *plan.Plan {
	p := &plan.Plan{Name: "create-init", Endpoint: "tcp://127.0.0.1:3000", Mode: scheduler.Once}
	p.Append(envelope.TagDev, 0, model.NewCreate(id1, model.Attributes{}))
	p.Append(envelope.TagDev, 1000*time.Millisecond, model.NewInit(id1))
	return p
}

func TestStart_OnceSendsInOrderAndCloses(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{Settle: time.Second, Linger: 2 * time.Second})

	res, err := startDriven(context.Background(), clk, s, createThenInit())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.SessionID != s.ID() || res.Stats.Sent != 2 || len(res.Rejected) != 0 {
		t.Errorf("result = %+v", res)
	}

	routes := b.ch.routes
	if len(routes) != 2 {
		t.Fatalf("routed %d envelopes, want 2", len(routes))
	}
	if got := string(routes[0].env.Body); got != `{"action":"create","user_id":"`+id1+`"}` {
		t.Errorf("first body = %s", got)
	}
	if got := string(routes[1].env.Body); got != `{"action":"init","user_id":"`+id1+`"}` {
		t.Errorf("second body = %s", got)
	}
	if gap := routes[1].at.Sub(routes[0].at); gap < 1000*time.Millisecond {
		t.Errorf("sends %v apart, want at least 1s", gap)
	}
	if routes[0].at.Sub(epoch) < time.Second {
		t.Errorf("first send %v after bind, inside settle window", routes[0].at.Sub(epoch))
	}
	// Close happens after the linger window.
	if !b.ch.closed {
		t.Error("channel not closed")
	}
	if got := clk.Now().Sub(routes[1].at); got < 2*time.Second {
		t.Errorf("closed %v after last send, want linger of 2s", got)
	}
}

func TestStart_PlanOverridesDefaults(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{Settle: time.Second, Linger: time.Second})

	p := createThenInit()
	settle, linger := 300*time.Millisecond, time.Duration(0)
	p.Settle, p.Linger = &settle, &linger
	if _, err := startDriven(context.Background(), clk, s, p); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := b.ch.routes[0].at.Sub(epoch); got != 300*time.Millisecond {
		t.Errorf("first send at %v, want 300ms", got)
	}
}

func TestStart_RejectsInvalidEntriesOnly(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{})

	p := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000"}
	p.Append(envelope.TagMk3, 0, model.NewCreate("not-a-uuid", model.Attributes{}))
	p.Append(envelope.TagDev, 0, model.NewCreate(id1, model.Attributes{Trial: model.Bool(false)}))
	p.Append(envelope.TagMk3, 0, model.NewCreate(id2, model.Attributes{Proto: model.String("vmess")}))
	p.Append("mk99", 0, model.NewDelete(id2))

	res, err := startDriven(context.Background(), clk, s, p)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Stats.Sent != 1 {
		t.Errorf("Sent = %d, want 1", res.Stats.Sent)
	}
	wantIdx := []int{0, 2, 3}
	if len(res.Rejected) != len(wantIdx) {
		t.Fatalf("rejected = %+v", res.Rejected)
	}
	for i, r := range res.Rejected {
		if r.Index != wantIdx[i] {
			t.Errorf("rejected[%d].Index = %d, want %d", i, r.Index, wantIdx[i])
		}
		if !errors.Is(r.Err, envelope.ErrSchemaViolation) {
			t.Errorf("rejected[%d].Err = %v, want schema violation", i, r.Err)
		}
	}
}

func TestStart_StrictRejectsPlanBeforeBind(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{})

	p := createThenInit()
	p.Strict = true
	p.Append(envelope.TagDev, 0, model.NewUpdate(id1, model.Attributes{}))

	_, err := s.Start(context.Background(), "", p)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Start = %v, want ErrRejected", err)
	}
	var sv *envelope.SchemaViolation
	if !errors.As(err, &sv) || sv.Action != model.ActionUpdate {
		t.Errorf("expected the update violation in %v", err)
	}
	if b.binds != 0 {
		t.Errorf("bound %d times", b.binds)
	}
}

func TestStart_NoValidEntries(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{})

	p := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000"}
	p.Append(envelope.TagWireguard, 0, model.NewCreate("u1", model.Attributes{}))

	res, err := s.Start(context.Background(), "", p)
	if !errors.Is(err, ErrNoEntries) {
		t.Fatalf("Start = %v, want ErrNoEntries", err)
	}
	if b.binds != 0 || len(res.Rejected) != 1 {
		t.Errorf("binds = %d, rejected = %d", b.binds, len(res.Rejected))
	}
}

func TestStart_EntryErrorsFromPlanFile(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{})

	p, err := plan.Parse("p.toml", []byte(`
endpoint = "tcp://127.0.0.1:3000"

[[event]]
tag = "dev"
action = "create"
id = "u1"
  [event.attributes]
  limit = "lots"

[[event]]
tag = "dev"
action = "delete"
id = "u1"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := startDriven(context.Background(), clk, s, p)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Index != 0 || res.Stats.Sent != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestStart_AliasesShareSchema(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{})

	p := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000", Aliases: map[string]string{"staging": envelope.TagMk19}}
	p.Append("staging", 0, model.NewInit(id1))

	res, err := startDriven(context.Background(), clk, s, p)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("rejected = %+v", res.Rejected)
	}
	if got := b.ch.routes[0].env; got.Tag != "staging" || string(got.Body) != `{"action":"init","conn_id":"`+id1+`"}` {
		t.Errorf("routed %s", got)
	}

	bad := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000", Aliases: map[string]string{"x": "mk0"}}
	bad.Append("x", 0, model.NewInit(id1))
	if _, err := newSession(t, b.bind, clk, Options{}).Start(context.Background(), "", bad); err == nil {
		t.Error("alias of unknown base accepted")
	}
}

func TestStart_SessionsDoNotShareAliases(t *testing.T) {
	clk := clock.NewFake(epoch)
	shared := envelope.NewCodec(envelope.DefaultRegistry())
	sessionOn := func(b *fakeBinder) *Session {
		s, err := New(b.bind, shared, Options{Clock: clk, Logger: quietLogger()})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		return s
	}

	// A plan may not redefine a built-in tag.
	a := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000", Aliases: map[string]string{envelope.TagDev: envelope.TagMk19}}
	a.Append(envelope.TagDev, 0, model.NewInit(id1))
	if _, err := sessionOn(&fakeBinder{clk: clk}).Start(context.Background(), "", a); !errors.Is(err, envelope.ErrTagExists) {
		t.Fatalf("aliasing dev = %v, want ErrTagExists", err)
	}

	// The same alias name may point at different bases in different plans.
	mk19 := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000", Aliases: map[string]string{"staging": envelope.TagMk19}}
	mk19.Append("staging", 0, model.NewInit(id1))
	b1 := &fakeBinder{clk: clk}
	if _, err := startDriven(context.Background(), clk, sessionOn(b1), mk19); err != nil {
		t.Fatalf("mk19 staging: %v", err)
	}

	dev := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000", Aliases: map[string]string{"staging": envelope.TagDev}}
	dev.Append("staging", 0, model.NewCreate("u1", model.Attributes{Trial: model.Bool(false)}))
	b2 := &fakeBinder{clk: clk}
	res, err := startDriven(context.Background(), clk, sessionOn(b2), dev)
	if err != nil || len(res.Rejected) != 0 {
		t.Fatalf("dev staging: err=%v rejected=%+v", err, res.Rejected)
	}
	if got := string(b2.ch.routes[0].env.Body); got != `{"action":"create","user_id":"u1","trial":false}` {
		t.Errorf("dev staging body = %s", got)
	}

	// Built-in dev still validates as dev.
	plain := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000"}
	plain.Append(envelope.TagDev, 0, model.NewCreate("u1", model.Attributes{Trial: model.Bool(false)}))
	if _, err := startDriven(context.Background(), clk, sessionOn(&fakeBinder{clk: clk}), plain); err != nil {
		t.Fatalf("dev after aliases: %v", err)
	}
	if _, ok := shared.Registry().Lookup("staging"); ok {
		t.Error("plan alias leaked into the shared registry")
	}
}

func TestStart_OnlyOnce(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{})

	if _, err := startDriven(context.Background(), clk, s, createThenInit()); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := s.Start(context.Background(), "", createThenInit())
	if !errors.Is(err, ErrStarted) {
		t.Fatalf("second Start = %v, want ErrStarted", err)
	}
	if b.binds != 1 {
		t.Errorf("bound %d times, want 1", b.binds)
	}
}

func TestStart_RejectedEntryKeepsItsDelay(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{})

	p := &plan.Plan{Endpoint: "tcp://127.0.0.1:3000"}
	p.Append(envelope.TagDev, 0, model.NewCreate(id1, model.Attributes{}))
	p.Append(envelope.TagDev, 1000*time.Millisecond, model.NewUpdate(id1, model.Attributes{}))
	p.Append(envelope.TagDev, 0, model.NewInit(id1))

	res, err := startDriven(context.Background(), clk, s, p)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Index != 1 {
		t.Fatalf("rejected = %+v", res.Rejected)
	}
	routes := b.ch.routes
	if len(routes) != 2 {
		t.Fatalf("routed %d envelopes, want 2", len(routes))
	}
	if gap := routes[1].at.Sub(routes[0].at); gap < 1000*time.Millisecond {
		t.Errorf("init sent %v after create, want the rejected entry's 1s kept", gap)
	}
}

func TestStart_SettleMeasuredOnSessionClock(t *testing.T) {
	clk := clock.NewFake(epoch)
	// The channel reports a bind time an hour earlier on some other clock.
	bind := func(context.Context, string) (Channel, error) {
		return &fakeChannel{clk: clk, boundAt: epoch.Add(-time.Hour)}, nil
	}
	var ch *fakeChannel
	s := newSession(t, func(ctx context.Context, ep string) (Channel, error) {
		c, err := bind(ctx, ep)
		ch = c.(*fakeChannel)
		return c, err
	}, clk, Options{Settle: time.Second})

	if _, err := startDriven(context.Background(), clk, s, createThenInit()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := ch.routes[0].at.Sub(epoch); got < time.Second {
		t.Errorf("first send %v after bind, want the full 1s settle", got)
	}
}

func TestStart_TransportErrorsDoNotAbort(t *testing.T) {
	clk := clock.NewFake(epoch)
	bind := func(context.Context, string) (Channel, error) {
		return &fakeChannel{clk: clk, boundAt: clk.Now(), fail: errors.New("broken pipe")}, nil
	}
	s := newSession(t, bind, clk, Options{})

	res, err := startDriven(context.Background(), clk, s, createThenInit())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if res.Stats.Failed != 2 || res.Stats.Sent != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestStart_OnceCancelledMidPlan(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{Settle: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Start(ctx, "", createThenInit())
		errc <- err
	}()
	clk.BlockUntil(1)
	cancel()

	err := <-errc
	var se *Error
	if !errors.As(err, &se) || se.SessionID != s.ID() {
		t.Fatalf("Start = %v, want *session.Error", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Start = %v, want context.Canceled", err)
	}
	if !b.ch.closed {
		t.Error("channel not closed after cancellation")
	}
}

func TestStart_CyclicCancelIsSuccess(t *testing.T) {
	clk := clock.NewFake(epoch)
	b := &fakeBinder{clk: clk}
	s := newSession(t, b.bind, clk, Options{CycleInterval: 100 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	p := createThenInit()
	p.Mode = scheduler.Cyclic

	done := make(chan struct{})
	go clk.Drive(done, 10*time.Millisecond)
	defer close(done)

	type outcome struct {
		res Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := s.Start(ctx, "", p)
		out <- outcome{res, err}
	}()

	deadline := time.After(5 * time.Second)
	for b.routed() < 6 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for three cycles")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	o := <-out
	if o.err != nil {
		t.Fatalf("Start = %v, want nil after cancelling a cyclic plan", o.err)
	}
	if o.res.Stats.Cycles < 3 {
		t.Errorf("Cycles = %d", o.res.Stats.Cycles)
	}
}

func TestStart_BindFailure(t *testing.T) {
	bind := func(context.Context, string) (Channel, error) {
		return nil, &router.BindError{Endpoint: "tcp://127.0.0.1:3000", Err: router.ErrBindConflict}
	}
	s := newSession(t, bind, clock.Real{}, Options{})
	_, err := s.Start(context.Background(), "", createThenInit())
	if !errors.Is(err, router.ErrBindConflict) {
		t.Fatalf("Start = %v, want ErrBindConflict", err)
	}
}

func TestStart_NoEndpoint(t *testing.T) {
	s := newSession(t, (&fakeBinder{clk: clock.Real{}}).bind, clock.Real{}, Options{})
	p := createThenInit()
	p.Endpoint = ""
	if _, err := s.Start(context.Background(), "", p); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func freeEndpoint(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return "tcp://127.0.0.1:" + strconv.Itoa(port)
}

func waitBound(t *testing.T, r *router.Router) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for len(r.Bound()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("endpoint never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStart_SecondSessionOnEndpointConflicts(t *testing.T) {
	r := router.New(quietLogger(), router.Options{})
	endpoint := freeEndpoint(t)

	first := newSession(t, RouterBinder(r), clock.Real{}, Options{Settle: 10 * time.Millisecond, CycleInterval: 50 * time.Millisecond})
	p := createThenInit()
	p.Mode = scheduler.Cyclic
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := first.Start(ctx, endpoint, p)
		errc <- err
	}()
	waitBound(t, r)

	second := newSession(t, RouterBinder(r), clock.Real{}, Options{})
	_, err := second.Start(context.Background(), endpoint, createThenInit())
	if !errors.Is(err, router.ErrBindConflict) {
		t.Fatalf("second Start = %v, want ErrBindConflict", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.SessionID != second.ID() {
		t.Errorf("expected *session.Error for the second session, got %v", err)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("first Start = %v", err)
	}
	if len(r.Bound()) != 0 {
		t.Errorf("endpoint still bound after session end: %v", r.Bound())
	}
}

func TestStart_DeliversToSubscriber(t *testing.T) {
	r := router.New(quietLogger(), router.Options{})
	endpoint := freeEndpoint(t)
	ep, _ := router.ParseEndpoint(endpoint)

	s := newSession(t, RouterBinder(r), clock.Real{}, Options{
		Settle:         10 * time.Millisecond,
		SettleMax:      5 * time.Second,
		MinSubscribers: 1,
		Linger:         100 * time.Millisecond,
	})
	errc := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background(), endpoint, createThenInit())
		errc <- err
	}()
	waitBound(t, r)

	nc, err := nats.Connect(ep.URL())
	if err != nil {
		t.Fatalf("connecting subscriber: %v", err)
	}
	defer nc.Close()
	msgs := make(chan *nats.Msg, 4)
	if _, err := nc.ChanSubscribe(envelope.TagDev, msgs); err != nil {
		t.Fatalf("subscribing: %v", err)
	}
	nc.Flush()

	codec := envelope.NewCodec(nil)
	for _, want := range []model.Action{model.ActionCreate, model.ActionInit} {
		select {
		case msg := <-msgs:
			_, e, err := codec.Decode(envelope.Envelope{Tag: msg.Subject, Body: msg.Data})
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if e.Action != want || e.SubjectID != id1 {
				t.Errorf("received %s, want %s %s", e, want, id1)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("Start: %v", err)
	}
}
