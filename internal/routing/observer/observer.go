package observer

import (
	"log/slog"
	"sync"

	"github.com/gezibash/routectl/internal/discovery"
	"github.com/gezibash/routectl/internal/observability"
)

// Filter decides whether a discovered endpoint or partition is excluded
// from route derivation. Filters are evaluated in registration order with
// short-circuit OR: the first filter that ignores wins.
type Filter interface {
	IgnorePublication(lookup discovery.ParticipantLookup, handle discovery.Handle, data *discovery.EndpointData) bool
	IgnoreSubscription(lookup discovery.ParticipantLookup, handle discovery.Handle, data *discovery.EndpointData) bool
	IgnorePartition(partition string) bool
}

// Config configures an Observer.
type Config struct {
	// Lookup resolves participant metadata for filters. Required.
	Lookup discovery.ParticipantLookup

	// Metrics instruments the observer. Optional.
	Metrics *observability.Metrics

	// DispatcherCapacity bounds the listener event queue (default 1024).
	DispatcherCapacity int
}

// Observer tracks which sessions and topic routes are demanded by the
// currently discovered remote endpoints. It consumes discovery events,
// applies the filter chain, maintains the session→route→handles mapping,
// and emits create/delete transitions to listeners through a
// single-threaded ordered dispatcher.
type Observer struct {
	lookup  discovery.ParticipantLookup
	metrics *observability.Metrics

	mu      sync.Mutex
	mapping map[Session]map[TopicRoute]map[discovery.Handle]int
	routes  int

	filterMu sync.Mutex
	filters  []Filter

	listenerMu sync.Mutex
	listeners  []Listener

	dispatcher *dispatcher
}

var (
	_ discovery.PublicationListener  = (*Observer)(nil)
	_ discovery.SubscriptionListener = (*Observer)(nil)
)

// New creates an Observer.
func New(cfg Config) *Observer {
	o := &Observer{
		lookup:  cfg.Lookup,
		metrics: cfg.Metrics,
		mapping: make(map[Session]map[TopicRoute]map[discovery.Handle]int),
	}

	var onDepth func(int)
	var onDrop func()
	if cfg.Metrics != nil {
		onDepth = func(n int) { cfg.Metrics.DispatcherDepth.Set(float64(n)) }
		onDrop = func() { cfg.Metrics.DispatcherDrops.Inc() }
	}
	o.dispatcher = newDispatcher(cfg.DispatcherCapacity, onDepth, onDrop)
	return o
}

// Close stops the dispatcher. Queued notifications are not drained.
func (o *Observer) Close() {
	o.dispatcher.close()
}

// AddFilter appends a filter to the chain.
func (o *Observer) AddFilter(f Filter) {
	o.filterMu.Lock()
	defer o.filterMu.Unlock()
	o.filters = append(o.filters, f)
}

// AddListener registers a lifecycle listener.
func (o *Observer) AddListener(l Listener) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	for _, existing := range o.listeners {
		if existing == l {
			return
		}
	}
	o.listeners = append(o.listeners, l)
}

// RemoveListener unregisters a lifecycle listener.
func (o *Observer) RemoveListener(l Listener) {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	for i, existing := range o.listeners {
		if existing == l {
			o.listeners = append(o.listeners[:i], o.listeners[i+1:]...)
			return
		}
	}
}

// PublicationDiscovered implements discovery.PublicationListener.
func (o *Observer) PublicationDiscovered(handle discovery.Handle, data *discovery.EndpointData) {
	if o.ignorePublication(handle, data) {
		o.countEvent("publication", "ignored")
		return
	}
	o.countEvent("publication", "processed")
	o.handleDiscovered(handle, DirectionOut, data)
}

// PublicationLost implements discovery.PublicationListener.
func (o *Observer) PublicationLost(handle discovery.Handle, data *discovery.EndpointData) {
	if o.ignorePublication(handle, data) {
		o.countEvent("publication", "ignored")
		return
	}
	o.countEvent("publication", "processed")
	o.handleLost(handle, DirectionOut, data)
}

// SubscriptionDiscovered implements discovery.SubscriptionListener.
func (o *Observer) SubscriptionDiscovered(handle discovery.Handle, data *discovery.EndpointData) {
	if o.ignoreSubscription(handle, data) {
		o.countEvent("subscription", "ignored")
		return
	}
	o.countEvent("subscription", "processed")
	o.handleDiscovered(handle, DirectionIn, data)
}

// SubscriptionLost implements discovery.SubscriptionListener.
func (o *Observer) SubscriptionLost(handle discovery.Handle, data *discovery.EndpointData) {
	if o.ignoreSubscription(handle, data) {
		o.countEvent("subscription", "ignored")
		return
	}
	o.countEvent("subscription", "processed")
	o.handleLost(handle, DirectionIn, data)
}

func (o *Observer) handleDiscovered(handle discovery.Handle, direction Direction, data *discovery.EndpointData) {
	route := TopicRoute{Direction: direction, Topic: data.TopicName, Type: data.TypeName}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, partition := range expandPartitions(data.Partitions) {
		if o.ignorePartition(data.TopicName, partition) {
			continue
		}
		o.add(handle, Session{Topic: data.TopicName, Partition: partition}, route)
	}
}

func (o *Observer) handleLost(handle discovery.Handle, direction Direction, data *discovery.EndpointData) {
	route := TopicRoute{Direction: direction, Topic: data.TopicName, Type: data.TypeName}

	o.mu.Lock()
	defer o.mu.Unlock()

	// A filtered partition is skipped, never a reason to stop processing
	// the remaining partitions of the same endpoint.
	for _, partition := range expandPartitions(data.Partitions) {
		if o.ignorePartition(data.TopicName, partition) {
			continue
		}
		o.remove(handle, Session{Topic: data.TopicName, Partition: partition}, route)
	}
}

// expandPartitions returns the advertised partitions, or the single empty
// partition when none are advertised.
func expandPartitions(partitions []string) []string {
	if len(partitions) == 0 {
		return []string{""}
	}
	return partitions
}

// add records one occurrence of handle under session/route, emitting
// create transitions when the session or route first appears. Caller
// holds o.mu.
func (o *Observer) add(handle discovery.Handle, session Session, route TopicRoute) {
	routes, ok := o.mapping[session]
	if !ok {
		routes = make(map[TopicRoute]map[discovery.Handle]int)
		o.mapping[session] = routes
		o.emitCreateSession(session)
	}

	handles, ok := routes[route]
	if !ok {
		handles = make(map[discovery.Handle]int)
		routes[route] = handles
		o.routes++
		o.emitCreateTopicRoute(session, route)
	}

	handles[handle]++
	o.updateGauges()
}

// remove drops one occurrence of handle under session/route, emitting
// delete transitions when the route or session empties. Removing an
// absent handle is a no-op so duplicate lost events are absorbed.
// Caller holds o.mu.
func (o *Observer) remove(handle discovery.Handle, session Session, route TopicRoute) {
	routes, ok := o.mapping[session]
	if !ok {
		return
	}
	handles, ok := routes[route]
	if !ok {
		return
	}
	if _, ok := handles[handle]; !ok {
		return
	}

	handles[handle]--
	if handles[handle] <= 0 {
		delete(handles, handle)
	}

	if len(handles) == 0 {
		delete(routes, route)
		o.routes--
		o.emitDeleteTopicRoute(session, route)
	}
	if len(routes) == 0 {
		delete(o.mapping, session)
		o.emitDeleteSession(session)
	}
	o.updateGauges()
}

func (o *Observer) ignorePublication(handle discovery.Handle, data *discovery.EndpointData) bool {
	o.filterMu.Lock()
	defer o.filterMu.Unlock()
	for _, f := range o.filters {
		if f.IgnorePublication(o.lookup, handle, data) {
			slog.Debug("publication ignored",
				"component", "observer",
				"topic", data.TopicName,
				"type", data.TypeName,
				"handle", handle,
			)
			return true
		}
	}
	return false
}

func (o *Observer) ignoreSubscription(handle discovery.Handle, data *discovery.EndpointData) bool {
	o.filterMu.Lock()
	defer o.filterMu.Unlock()
	for _, f := range o.filters {
		if f.IgnoreSubscription(o.lookup, handle, data) {
			slog.Debug("subscription ignored",
				"component", "observer",
				"topic", data.TopicName,
				"type", data.TypeName,
				"handle", handle,
			)
			return true
		}
	}
	return false
}

func (o *Observer) ignorePartition(topic, partition string) bool {
	o.filterMu.Lock()
	defer o.filterMu.Unlock()
	for _, f := range o.filters {
		if f.IgnorePartition(partition) {
			slog.Debug("partition ignored",
				"component", "observer",
				"topic", topic,
				"partition", partition,
			)
			return true
		}
	}
	return false
}

// snapshotListeners copies the listener slice so dispatch never holds the
// registration lock while listeners run.
func (o *Observer) snapshotListeners() []Listener {
	o.listenerMu.Lock()
	defer o.listenerMu.Unlock()
	out := make([]Listener, len(o.listeners))
	copy(out, o.listeners)
	return out
}

func (o *Observer) emitCreateSession(session Session) {
	slog.Debug("create session",
		"component", "observer",
		"topic", session.Topic,
		"partition", session.Partition,
	)
	listeners := o.snapshotListeners()
	o.dispatcher.submit(func() {
		for _, l := range listeners {
			l.CreateSession(session)
		}
	})
}

func (o *Observer) emitDeleteSession(session Session) {
	slog.Debug("delete session",
		"component", "observer",
		"topic", session.Topic,
		"partition", session.Partition,
	)
	listeners := o.snapshotListeners()
	o.dispatcher.submit(func() {
		for _, l := range listeners {
			l.DeleteSession(session)
		}
	})
}

func (o *Observer) emitCreateTopicRoute(session Session, route TopicRoute) {
	slog.Debug("create topic route",
		"component", "observer",
		"topic", session.Topic,
		"partition", session.Partition,
		"type", route.Type,
		"direction", route.Direction,
	)
	listeners := o.snapshotListeners()
	o.dispatcher.submit(func() {
		for _, l := range listeners {
			l.CreateTopicRoute(session, route)
		}
	})
}

func (o *Observer) emitDeleteTopicRoute(session Session, route TopicRoute) {
	slog.Debug("delete topic route",
		"component", "observer",
		"topic", session.Topic,
		"partition", session.Partition,
		"type", route.Type,
		"direction", route.Direction,
	)
	listeners := o.snapshotListeners()
	o.dispatcher.submit(func() {
		for _, l := range listeners {
			l.DeleteTopicRoute(session, route)
		}
	})
}

func (o *Observer) countEvent(kind, result string) {
	if o.metrics != nil {
		o.metrics.DiscoveryEvents.WithLabelValues(kind, result).Inc()
	}
}

// updateGauges publishes session/route counts. Caller holds o.mu.
func (o *Observer) updateGauges() {
	if o.metrics == nil {
		return
	}
	o.metrics.ActiveSessions.Set(float64(len(o.mapping)))
	o.metrics.ActiveTopicRoutes.Set(float64(o.routes))
}

// SessionCount returns the number of live sessions.
func (o *Observer) SessionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.mapping)
}

// RouteCount returns the number of live topic routes across all sessions.
func (o *Observer) RouteCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.routes
}

// HandleCount returns the multiset size for session/route, 0 if absent.
func (o *Observer) HandleCount(session Session, route TopicRoute) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	total := 0
	for _, n := range o.mapping[session][route] {
		total += n
	}
	return total
}

// Flush blocks until all previously emitted notifications have been
// delivered. Intended for tests and shutdown sequencing.
func (o *Observer) Flush() {
	o.dispatcher.flush()
}
