package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Announcement event names.
const (
	eventDiscovered = "discovered"
	eventLost       = "lost"
)

// Announcement endpoint kinds.
const (
	kindPublication  = "publication"
	kindSubscription = "subscription"
	kindParticipant  = "participant"
)

// Announcement is the wire form of a discovery event published by the
// bridge on the Redis channel.
type Announcement struct {
	Event       string           `json:"event"`
	Kind        string           `json:"kind"`
	Handle      string           `json:"handle,omitempty"`
	Endpoint    *EndpointData    `json:"endpoint,omitempty"`
	Participant *ParticipantData `json:"participant,omitempty"`
}

// SourceConfig configures the Redis discovery source.
type SourceConfig struct {
	// Addr is the Redis address (host:port).
	Addr string

	// Password authenticates against Redis (optional).
	Password string

	// DB selects the Redis database.
	DB int

	// Channel is the pub/sub channel carrying discovery announcements.
	Channel string
}

// Source consumes discovery announcements from a Redis pub/sub channel,
// maintains the participant registry, and fans events out to registered
// listeners. Listener registration must complete before Start.
type Source struct {
	client   *redis.Client
	channel  string
	registry *ParticipantRegistry

	pubListeners []PublicationListener
	subListeners []SubscriptionListener

	mu         sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewSource creates a source and verifies the Redis connection.
func NewSource(ctx context.Context, cfg SourceConfig) (*Source, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("discovery: redis addr must not be empty")
	}
	if cfg.Channel == "" {
		return nil, fmt.Errorf("discovery: channel must not be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("discovery: ping redis: %w", err)
	}

	return &Source{
		client:   client,
		channel:  cfg.Channel,
		registry: NewParticipantRegistry(),
	}, nil
}

// Registry returns the participant registry fed by this source.
func (s *Source) Registry() *ParticipantRegistry {
	return s.registry
}

// AddPublicationListener registers a listener for publication events.
func (s *Source) AddPublicationListener(l PublicationListener) {
	s.pubListeners = append(s.pubListeners, l)
}

// AddSubscriptionListener registers a listener for subscription events.
func (s *Source) AddSubscriptionListener(l SubscriptionListener) {
	s.subListeners = append(s.subListeners, l)
}

// Start subscribes to the announcement channel and begins dispatching.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	ctx, s.cancelFunc = context.WithCancel(ctx)
	s.mu.Unlock()

	sub := s.client.Subscribe(ctx, s.channel)
	// Force the subscription before returning so no announcement published
	// after Start is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("discovery: subscribe %s: %w", s.channel, err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				s.handleMessage(msg.Payload)
			}
		}
	}()

	slog.Info("discovery source started",
		"component", "discovery",
		"channel", s.channel,
	)
	return nil
}

// Close stops the dispatch loop and closes the Redis connection.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.client.Close()
}

func (s *Source) handleMessage(payload string) {
	ann, err := decodeAnnouncement([]byte(payload))
	if err != nil {
		slog.Warn("malformed discovery announcement",
			"component", "discovery",
			"error", err,
		)
		return
	}
	s.dispatch(ann)
}

// decodeAnnouncement parses and validates a single announcement payload.
func decodeAnnouncement(payload []byte) (*Announcement, error) {
	var ann Announcement
	if err := json.Unmarshal(payload, &ann); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	switch ann.Event {
	case eventDiscovered, eventLost:
	default:
		return nil, fmt.Errorf("unknown event %q", ann.Event)
	}

	switch ann.Kind {
	case kindPublication, kindSubscription:
		if ann.Endpoint == nil {
			return nil, fmt.Errorf("%s announcement without endpoint", ann.Kind)
		}
		if ann.Handle == "" {
			return nil, fmt.Errorf("%s announcement without handle", ann.Kind)
		}
	case kindParticipant:
		if ann.Participant == nil {
			return nil, fmt.Errorf("participant announcement without participant")
		}
	default:
		return nil, fmt.Errorf("unknown kind %q", ann.Kind)
	}

	return &ann, nil
}

func (s *Source) dispatch(ann *Announcement) {
	// Participant metadata piggybacked on endpoint announcements keeps the
	// registry warm even when the bridge omits explicit participant events.
	if ann.Participant != nil {
		if ann.Kind == kindParticipant && ann.Event == eventLost {
			s.registry.Remove(ann.Participant.Key)
		} else {
			s.registry.Put(ann.Participant)
		}
	}
	if ann.Kind == kindParticipant {
		return
	}

	handle := Handle(ann.Handle)
	switch {
	case ann.Kind == kindPublication && ann.Event == eventDiscovered:
		for _, l := range s.pubListeners {
			l.PublicationDiscovered(handle, ann.Endpoint)
		}
	case ann.Kind == kindPublication && ann.Event == eventLost:
		for _, l := range s.pubListeners {
			l.PublicationLost(handle, ann.Endpoint)
		}
	case ann.Kind == kindSubscription && ann.Event == eventDiscovered:
		for _, l := range s.subListeners {
			l.SubscriptionDiscovered(handle, ann.Endpoint)
		}
	case ann.Kind == kindSubscription && ann.Event == eventLost:
		for _, l := range s.subListeners {
			l.SubscriptionLost(handle, ann.Endpoint)
		}
	}
}
