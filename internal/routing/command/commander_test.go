package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gezibash/routectl/internal/routing/admin"
	"github.com/gezibash/routectl/internal/routing/observer"
)

// fakeTransport records requests and answers them via a scriptable
// outcome function.
type fakeTransport struct {
	mu      sync.Mutex
	reqs    []*admin.CommandRequest
	outcome func(n int, req *admin.CommandRequest) (*admin.CommandResponse, error)
}

func (f *fakeTransport) Send(_ context.Context, req *admin.CommandRequest) (*admin.CommandResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	outcome := f.outcome
	f.mu.Unlock()

	if outcome == nil {
		return &admin.CommandResponse{Kind: admin.ResponseOK}, nil
	}
	return outcome(n, req)
}

func (f *fakeTransport) sends() []*admin.CommandRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*admin.CommandRequest, len(f.reqs))
	copy(out, f.reqs)
	return out
}

func (f *fakeTransport) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

// gatedTransport blocks each Send until released, exposing the in-flight
// window to tests.
type gatedTransport struct {
	fakeTransport
	entered chan *admin.CommandRequest
	release chan struct {
		resp *admin.CommandResponse
		err  error
	}
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		entered: make(chan *admin.CommandRequest, 16),
		release: make(chan struct {
			resp *admin.CommandResponse
			err  error
		}),
	}
}

func (g *gatedTransport) Send(_ context.Context, req *admin.CommandRequest) (*admin.CommandResponse, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	g.mu.Unlock()

	g.entered <- req
	out := <-g.release
	return out.resp, out.err
}

// testProvider is a fixed, pure provider.
type testProvider struct {
	sessionXMLSize int
}

func (p *testProvider) SessionParent(observer.Session) string { return "DomainRoute" }

func (p *testProvider) SessionEntityName(s observer.Session) string {
	return fmt.Sprintf("DomainRoute::%s(%s)", s.Topic, s.Partition)
}

func (p *testProvider) SessionConfiguration(s observer.Session) string {
	if p.sessionXMLSize > 0 {
		return strings.Repeat("x", p.sessionXMLSize)
	}
	return fmt.Sprintf(`<session name="%s(%s)"/>`, s.Topic, s.Partition)
}

func (p *testProvider) TopicRouteEntityName(s observer.Session, r observer.TopicRoute) string {
	return fmt.Sprintf("DomainRoute::%s(%s)::%s", s.Topic, s.Partition, r.Direction)
}

func (p *testProvider) TopicRouteConfiguration(s observer.Session, r observer.TopicRoute) string {
	return fmt.Sprintf(`<auto_topic_route name="%s"/>`, r.Direction)
}

func newTestCommander(t *testing.T, transport admin.Transport, opts ...func(*Config)) *Commander {
	t.Helper()
	cfg := Config{
		Transport:            transport,
		Provider:             &testProvider{},
		TargetRoutingService: "target",
		RetryDelay:           time.Millisecond,
		RequestTimeout:       time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new commander: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var (
	testSession = observer.Session{Topic: "Square", Partition: "A"}
	testRoute   = observer.TopicRoute{Direction: observer.DirectionOut, Topic: "Square", Type: "Shape"}
)

func TestNewValidation(t *testing.T) {
	valid := Config{
		Transport:            &fakeTransport{},
		Provider:             &testProvider{},
		TargetRoutingService: "target",
		RetryDelay:           0,
		RequestTimeout:       time.Second,
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"nil transport", func(c *Config) { c.Transport = nil }},
		{"nil provider", func(c *Config) { c.Provider = nil }},
		{"empty target", func(c *Config) { c.TargetRoutingService = "" }},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }},
		{"zero request timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"negative request timeout", func(c *Config) { c.RequestTimeout = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("expected constructor error")
			}
		})
	}

	c, err := New(valid)
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	c.Close()
}

func TestCreateSessionSendsImmediately(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestCommander(t, tr)

	c.CreateSession(testSession)
	waitFor(t, "send", func() bool { return tr.sendCount() == 1 })

	req := tr.sends()[0]
	if req.TargetRouter != "target" {
		t.Errorf("target_router = %q", req.TargetRouter)
	}
	if req.Kind != admin.CommandCreate {
		t.Errorf("kind = %v", req.Kind)
	}
	if req.EntityDesc.Name != "DomainRoute" {
		t.Errorf("parent = %q", req.EntityDesc.Name)
	}
	if !req.EntityDesc.XMLURL.IsFinal {
		t.Error("xml_url.is_final should be true")
	}
	if !strings.Contains(req.EntityDesc.XMLURL.Content, "Square(A)") {
		t.Errorf("xml content = %q", req.EntityDesc.XMLURL.Content)
	}

	waitFor(t, "table drain", func() bool { return c.PendingCount() == 0 })
}

func TestDeleteOpsCarryEntityName(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestCommander(t, tr)

	c.DeleteSession(testSession)
	c.DeleteTopicRoute(testSession, testRoute)
	waitFor(t, "sends", func() bool { return tr.sendCount() == 2 })

	for _, req := range tr.sends() {
		if req.Kind != admin.CommandDelete {
			t.Errorf("kind = %v", req.Kind)
		}
		if req.EntityName == "" {
			t.Error("delete request without entity_name")
		}
		if req.EntityDesc.XMLURL.Content != "" {
			t.Error("delete request must not carry xml")
		}
	}

	names := []string{tr.sends()[0].EntityName, tr.sends()[1].EntityName}
	if names[0] != "DomainRoute::Square(A)" {
		t.Errorf("session entity name = %q", names[0])
	}
	if names[1] != "DomainRoute::Square(A)::OUT" {
		t.Errorf("route entity name = %q", names[1])
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	tr := &fakeTransport{
		outcome: func(n int, _ *admin.CommandRequest) (*admin.CommandResponse, error) {
			if n < 4 {
				return nil, errors.New("timeout")
			}
			return &admin.CommandResponse{Kind: admin.ResponseOK}, nil
		},
	}
	c := newTestCommander(t, tr)

	c.CreateSession(testSession)

	waitFor(t, "four attempts", func() bool { return tr.sendCount() == 4 })
	waitFor(t, "table drain", func() bool { return c.PendingCount() == 0 })

	// No further attempts after success.
	time.Sleep(20 * time.Millisecond)
	if n := tr.sendCount(); n != 4 {
		t.Errorf("expected sends to stop at 4, got %d", n)
	}
}

func TestNonOKResponseRetries(t *testing.T) {
	tr := &fakeTransport{
		outcome: func(n int, _ *admin.CommandRequest) (*admin.CommandResponse, error) {
			if n == 1 {
				return &admin.CommandResponse{Kind: admin.ResponseError, Message: "busy"}, nil
			}
			return &admin.CommandResponse{Kind: admin.ResponseOK}, nil
		},
	}
	c := newTestCommander(t, tr)

	c.CreateTopicRoute(testSession, testRoute)
	waitFor(t, "retry after rejection", func() bool { return tr.sendCount() == 2 })
	waitFor(t, "table drain", func() bool { return c.PendingCount() == 0 })
}

func TestInverseRequestPreempts(t *testing.T) {
	// Target down: every send fails, so creates keep retrying until the
	// inverse arrives.
	var failing sync.Mutex
	fail := true
	tr := &fakeTransport{
		outcome: func(_ int, _ *admin.CommandRequest) (*admin.CommandResponse, error) {
			failing.Lock()
			defer failing.Unlock()
			if fail {
				return nil, errors.New("unreachable")
			}
			return &admin.CommandResponse{Kind: admin.ResponseOK}, nil
		},
	}
	c := newTestCommander(t, tr)

	c.CreateSession(testSession)
	c.CreateTopicRoute(testSession, testRoute)
	waitFor(t, "first attempts", func() bool { return tr.sendCount() >= 2 })

	// Endpoint lost: inverse ops replace the pending creates.
	c.DeleteTopicRoute(testSession, testRoute)
	c.DeleteSession(testSession)

	failing.Lock()
	fail = false
	failing.Unlock()

	waitFor(t, "table drain", func() bool { return c.PendingCount() == 0 })

	// Per identity the wire sequence must be creates (if any) strictly
	// before deletes, never a delete followed by a create.
	identity := func(req *admin.CommandRequest) string {
		if req.Kind == admin.CommandCreate {
			if req.EntityDesc.Name == "DomainRoute" {
				return "session"
			}
			return "route"
		}
		if strings.HasSuffix(req.EntityName, "::OUT") {
			return "route"
		}
		return "session"
	}
	sawDelete := map[string]bool{}
	for _, req := range tr.sends() {
		id := identity(req)
		if req.Kind == admin.CommandCreate {
			if sawDelete[id] {
				t.Fatalf("create after delete for %s", id)
			}
		} else {
			sawDelete[id] = true
		}
	}

	last := tr.sends()[len(tr.sends())-1]
	if last.Kind != admin.CommandDelete {
		t.Errorf("final op should be a delete, got %v", last.Kind)
	}
}

func TestSameOpRestartsSchedule(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestCommander(t, tr)

	c.CreateSession(testSession)
	c.CreateSession(testSession)

	waitFor(t, "table drain", func() bool { return c.PendingCount() == 0 })
	if n := tr.sendCount(); n < 1 || n > 2 {
		t.Errorf("expected 1 or 2 sends, got %d", n)
	}
}

func TestStaleSuccessDiscarded(t *testing.T) {
	tr := newGatedTransport()
	c := newTestCommander(t, tr)

	c.CreateSession(testSession)
	<-tr.entered // create is in flight

	// Inverse arrives while the create is still on the wire.
	c.DeleteSession(testSession)

	// The in-flight create reports success. That outcome is stale: it
	// must not complete the pending delete.
	tr.release <- struct {
		resp *admin.CommandResponse
		err  error
	}{resp: &admin.CommandResponse{Kind: admin.ResponseOK}}

	// The delete is sent next and converges.
	req := <-tr.entered
	if req.Kind != admin.CommandDelete {
		t.Fatalf("expected delete after stale create success, got %v", req.Kind)
	}
	tr.release <- struct {
		resp *admin.CommandResponse
		err  error
	}{resp: &admin.CommandResponse{Kind: admin.ResponseOK}}

	waitFor(t, "table drain", func() bool { return c.PendingCount() == 0 })
}

func TestOversizedXMLAbandonsCommand(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestCommander(t, tr, func(cfg *Config) {
		cfg.Provider = &testProvider{sessionXMLSize: admin.XMLURLMaxLength + 1}
	})

	c.CreateSession(testSession)

	waitFor(t, "abandon", func() bool { return c.PendingCount() == 0 })
	if n := tr.sendCount(); n != 0 {
		t.Errorf("oversized xml must not be sent, got %d sends", n)
	}
}

func TestMaxLengthXMLAccepted(t *testing.T) {
	tr := &fakeTransport{}
	c := newTestCommander(t, tr, func(cfg *Config) {
		cfg.Provider = &testProvider{sessionXMLSize: admin.XMLURLMaxLength}
	})

	c.CreateSession(testSession)
	waitFor(t, "send", func() bool { return tr.sendCount() == 1 })
	if got := len(tr.sends()[0].EntityDesc.XMLURL.Content); got != admin.XMLURLMaxLength {
		t.Errorf("content length = %d", got)
	}
}

func TestZeroRetryDelay(t *testing.T) {
	tr := &fakeTransport{
		outcome: func(n int, _ *admin.CommandRequest) (*admin.CommandResponse, error) {
			if n < 3 {
				return nil, errors.New("timeout")
			}
			return &admin.CommandResponse{Kind: admin.ResponseOK}, nil
		},
	}
	c := newTestCommander(t, tr, func(cfg *Config) {
		cfg.RetryDelay = 0
	})

	c.CreateSession(testSession)
	waitFor(t, "convergence", func() bool { return c.PendingCount() == 0 })
	if n := tr.sendCount(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestRetryWaitsForDelay(t *testing.T) {
	mock := clock.NewMock()
	tr := newGatedTransport()
	c := newTestCommander(t, tr, func(cfg *Config) {
		cfg.Clock = mock
		cfg.RetryDelay = 10 * time.Second
	})

	c.CreateSession(testSession)
	<-tr.entered
	tr.release <- struct {
		resp *admin.CommandResponse
		err  error
	}{err: errors.New("unreachable")}

	// Let the worker arm the retry timer before advancing the clock.
	time.Sleep(100 * time.Millisecond)

	mock.Add(9 * time.Second)
	select {
	case <-tr.entered:
		t.Fatal("retry fired before the delay elapsed")
	case <-time.After(50 * time.Millisecond):
	}

	mock.Add(time.Second)
	select {
	case <-tr.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not fire after the delay elapsed")
	}
	tr.release <- struct {
		resp *admin.CommandResponse
		err  error
	}{resp: &admin.CommandResponse{Kind: admin.ResponseOK}}

	waitFor(t, "table drain", func() bool { return c.PendingCount() == 0 })
}

func TestSessionAndRouteIdentitiesAreIndependent(t *testing.T) {
	tr := newGatedTransport()
	c := newTestCommander(t, tr)

	c.CreateSession(testSession)
	c.CreateTopicRoute(testSession, testRoute)

	if c.PendingCount() != 2 {
		t.Errorf("expected 2 independent pending commands, got %d", c.PendingCount())
	}

	for i := 0; i < 2; i++ {
		<-tr.entered
		tr.release <- struct {
			resp *admin.CommandResponse
			err  error
		}{resp: &admin.CommandResponse{Kind: admin.ResponseOK}}
	}
	waitFor(t, "table drain", func() bool { return c.PendingCount() == 0 })
}

func TestCloseStopsWorker(t *testing.T) {
	tr := &fakeTransport{
		outcome: func(int, *admin.CommandRequest) (*admin.CommandResponse, error) {
			return nil, errors.New("unreachable")
		},
	}
	cfg := Config{
		Transport:            tr,
		Provider:             &testProvider{},
		TargetRoutingService: "target",
		RetryDelay:           time.Millisecond,
		RequestTimeout:       time.Second,
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	c.CreateSession(testSession)
	waitFor(t, "first attempt", func() bool { return tr.sendCount() >= 1 })

	c.Close()
	n := tr.sendCount()
	time.Sleep(20 * time.Millisecond)
	if tr.sendCount() > n+1 {
		t.Errorf("sends continued after close: %d -> %d", n, tr.sendCount())
	}
	if c.PendingCount() != 0 {
		t.Errorf("pending table should be cleared on close")
	}
}
