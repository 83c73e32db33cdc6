package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/gezibash/routectl/internal/observability"
	"github.com/gezibash/routectl/internal/routing/admin"
	"github.com/gezibash/routectl/internal/routing/observer"
)

// Defaults for the retry loop.
const (
	DefaultRetryDelay     = 10 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

const workQueueCapacity = 1024

// Config configures a Commander.
type Config struct {
	// Transport sends administration commands. Required.
	Transport admin.Transport

	// Provider supplies entity names and XML configuration. Required.
	Provider Provider

	// TargetRoutingService addresses commands to one routing service
	// instance. Required, non-empty.
	TargetRoutingService string

	// RetryDelay is the fixed delay between send attempts of an
	// outstanding command. Zero retries immediately after each attempt.
	RetryDelay time.Duration

	// RequestTimeout bounds each request/reply exchange. Must be > 0.
	RequestTimeout time.Duration

	// Clock drives retry timers; nil uses the wall clock.
	Clock clock.Clock

	// Metrics instruments the commander. Optional.
	Metrics *observability.Metrics
}

// pending is one outstanding command. The generation distinguishes the
// current request chain from stale timer firings and in-flight sends of a
// superseded request.
type pending struct {
	key        Key
	op         Op
	session    observer.Session
	route      observer.TopicRoute
	generation uint64
	attempts   int
	timer      *clock.Timer
}

// Commander listens to observer transitions and converges the target
// routing service on them, one at-least-once command per transition.
// A newer request for the same identity always supersedes the older one.
type Commander struct {
	transport admin.Transport
	provider  Provider
	target    string

	retryDelay     time.Duration
	requestTimeout time.Duration
	clock          clock.Clock
	metrics        *observability.Metrics

	mu         sync.Mutex
	table      map[Key]*pending
	generation uint64

	work   chan workItem
	quit   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

type workItem struct {
	key        Key
	generation uint64
}

var _ observer.Listener = (*Commander)(nil)

// New validates the configuration and starts the send worker.
func New(cfg Config) (*Commander, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("command: transport must not be nil")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("command: provider must not be nil")
	}
	if cfg.TargetRoutingService == "" {
		return nil, fmt.Errorf("command: target routing service must not be empty")
	}
	if cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("command: retry delay must be >= 0")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("command: request timeout must be > 0")
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Commander{
		transport:      cfg.Transport,
		provider:       cfg.Provider,
		target:         cfg.TargetRoutingService,
		retryDelay:     cfg.RetryDelay,
		requestTimeout: cfg.RequestTimeout,
		clock:          clk,
		metrics:        cfg.Metrics,
		table:          make(map[Key]*pending),
		work:           make(chan workItem, workQueueCapacity),
		quit:           make(chan struct{}),
		cancel:         cancel,
	}

	c.wg.Add(1)
	go c.worker(ctx)
	return c, nil
}

// Close stops the worker. An in-flight send is interrupted best-effort;
// queued work is not drained.
func (c *Commander) Close() {
	if c.closed.Swap(true) {
		return
	}

	c.mu.Lock()
	for _, p := range c.table {
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.table = make(map[Key]*pending)
	c.mu.Unlock()

	close(c.quit)
	c.cancel()
	c.wg.Wait()
}

// CreateSession implements observer.Listener.
func (c *Commander) CreateSession(session observer.Session) {
	slog.Info("create session",
		"component", "command",
		"topic", session.Topic,
		"partition", session.Partition,
	)
	c.request(sessionKey(session), OpCreateSession, session, observer.TopicRoute{})
}

// DeleteSession implements observer.Listener.
func (c *Commander) DeleteSession(session observer.Session) {
	slog.Info("delete session",
		"component", "command",
		"topic", session.Topic,
		"partition", session.Partition,
	)
	c.request(sessionKey(session), OpDeleteSession, session, observer.TopicRoute{})
}

// CreateTopicRoute implements observer.Listener.
func (c *Commander) CreateTopicRoute(session observer.Session, route observer.TopicRoute) {
	slog.Info("create topic route",
		"component", "command",
		"topic", session.Topic,
		"partition", session.Partition,
		"type", route.Type,
		"direction", route.Direction,
	)
	c.request(routeKey(session, route), OpCreateRoute, session, route)
}

// DeleteTopicRoute implements observer.Listener.
func (c *Commander) DeleteTopicRoute(session observer.Session, route observer.TopicRoute) {
	slog.Info("delete topic route",
		"component", "command",
		"topic", session.Topic,
		"partition", session.Partition,
		"type", route.Type,
		"direction", route.Direction,
	)
	c.request(routeKey(session, route), OpDeleteRoute, session, route)
}

// PendingCount returns the number of outstanding commands.
func (c *Commander) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.table)
}

// request installs or replaces the pending command for key and schedules
// an immediate first send. A pre-existing command for the same identity
// is cancelled, whether it requested the same op or the inverse.
func (c *Commander) request(key Key, op Op, session observer.Session, route observer.TopicRoute) {
	c.mu.Lock()
	if prev, ok := c.table[key]; ok {
		if prev.timer != nil {
			prev.timer.Stop()
		}
		slog.Debug("superseding pending command",
			"component", "command",
			"identity", key,
			"previous_op", prev.op,
			"op", op,
		)
	}

	c.generation++
	p := &pending{
		key:        key,
		op:         op,
		session:    session,
		route:      route,
		generation: c.generation,
	}
	c.table[key] = p
	c.updateGauge()
	item := workItem{key: key, generation: p.generation}
	c.mu.Unlock()

	c.enqueue(item)
}

// enqueue hands a due command to the worker. The queue is far deeper
// than any realistic identity count; overflow means the target has been
// unreachable for long enough that the operator must intervene anyway.
func (c *Commander) enqueue(item workItem) {
	select {
	case c.work <- item:
	default:
		slog.Error("command work queue full, dropping attempt",
			"component", "command",
			"identity", item.key,
		)
	}
}

func (c *Commander) worker(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-c.quit:
			return
		case item := <-c.work:
			c.process(ctx, item)
		}
	}
}

// process performs one send attempt for item, if it still refers to the
// current command of its identity.
func (c *Commander) process(ctx context.Context, item workItem) {
	c.mu.Lock()
	p, ok := c.table[item.key]
	if !ok || p.generation != item.generation {
		// Superseded or completed while queued.
		c.mu.Unlock()
		return
	}
	op, session, route := p.op, p.session, p.route
	p.attempts++
	attempts := p.attempts
	c.mu.Unlock()

	if attempts > 1 && c.metrics != nil {
		c.metrics.CommandRetries.Inc()
	}

	req, err := c.buildRequest(op, session, route)
	if err != nil {
		// Invalid provider output cannot succeed on retry.
		slog.Error("abandoning command",
			"component", "command",
			"identity", item.key,
			"op", op,
			"error", err,
		)
		if c.metrics != nil {
			c.metrics.ConfigErrors.Inc()
		}
		c.finish(item, true)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	start := c.clock.Now()
	resp, err := c.transport.Send(sendCtx, req)
	cancel()
	elapsed := c.clock.Since(start)

	success := err == nil && resp.OK()
	c.observeSend(op, elapsed, resp, err)

	if success {
		c.finish(item, false)
		return
	}

	switch {
	case err != nil:
		slog.Error("command failed",
			"component", "command",
			"identity", item.key,
			"op", op,
			"error", err,
		)
	default:
		slog.Error("command rejected",
			"component", "command",
			"identity", item.key,
			"op", op,
			"reason", resp.Kind,
			"message", resp.Message,
		)
	}
	c.scheduleRetry(item)
}

// finish removes the table entry for item unless it was superseded while
// the send was in flight; a stale outcome must not touch the successor.
func (c *Commander) finish(item workItem, abandoned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.table[item.key]
	if !ok || p.generation != item.generation {
		slog.Debug("discarding stale command outcome",
			"component", "command",
			"identity", item.key,
		)
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	delete(c.table, item.key)
	c.updateGauge()

	if !abandoned {
		slog.Debug("command converged",
			"component", "command",
			"identity", item.key,
			"op", p.op,
			"attempts", p.attempts,
		)
	}
}

// scheduleRetry arms the next attempt for item if it is still current.
func (c *Commander) scheduleRetry(item workItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.table[item.key]
	if !ok || p.generation != item.generation {
		return
	}
	p.timer = c.clock.AfterFunc(c.retryDelay, func() {
		c.enqueue(item)
	})
}

// buildRequest assembles the administration request for op. CREATE
// requests embed provider XML and are rejected here when the content
// exceeds what the transport accepts in one request.
func (c *Commander) buildRequest(op Op, session observer.Session, route observer.TopicRoute) (*admin.CommandRequest, error) {
	req := &admin.CommandRequest{TargetRouter: c.target}

	switch op {
	case OpCreateSession:
		req.Kind = admin.CommandCreate
		req.EntityDesc = admin.EntityDesc{
			Name: c.provider.SessionParent(session),
			XMLURL: admin.XMLURL{
				IsFinal: true,
				Content: c.provider.SessionConfiguration(session),
			},
		}
	case OpDeleteSession:
		req.Kind = admin.CommandDelete
		req.EntityName = c.provider.SessionEntityName(session)
	case OpCreateRoute:
		req.Kind = admin.CommandCreate
		req.EntityDesc = admin.EntityDesc{
			Name: c.provider.SessionEntityName(session),
			XMLURL: admin.XMLURL{
				IsFinal: true,
				Content: c.provider.TopicRouteConfiguration(session, route),
			},
		}
	case OpDeleteRoute:
		req.Kind = admin.CommandDelete
		req.EntityName = c.provider.TopicRouteEntityName(session, route)
	}

	if req.Kind == admin.CommandCreate {
		if n := len(req.EntityDesc.XMLURL.Content); n > admin.XMLURLMaxLength {
			return nil, fmt.Errorf("xml configuration is %d bytes, transport accepts at most %d", n, admin.XMLURLMaxLength)
		}
	}
	return req, nil
}

func (c *Commander) observeSend(op Op, elapsed time.Duration, resp *admin.CommandResponse, err error) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "timeout"
	case !resp.OK():
		result = "failed"
	}
	c.metrics.CommandsTotal.WithLabelValues(op.String(), result).Inc()
	c.metrics.CommandDuration.WithLabelValues(op.String(), result).Observe(elapsed.Seconds())
}

// updateGauge publishes the pending command count. Caller holds c.mu.
func (c *Commander) updateGauge() {
	if c.metrics != nil {
		c.metrics.PendingCommands.Set(float64(len(c.table)))
	}
}
