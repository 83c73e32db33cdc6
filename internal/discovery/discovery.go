// Package discovery defines the inbound event model of the controller:
// remote publications and subscriptions reported by a discovery source,
// plus the participant metadata used by filters.
package discovery

// Handle identifies a remote endpoint instance. It is opaque and unique
// per discovery source.
type Handle string

// ServiceKind classifies the service a participant belongs to.
type ServiceKind string

const (
	// ServiceNone marks a plain participant.
	ServiceNone ServiceKind = ""
	// ServiceRouting marks a participant owned by a routing service.
	ServiceRouting ServiceKind = "routing-service"
)

// GroupNameProperty is the participant property carrying the routing
// service group name.
const GroupNameProperty = "rti.routing_service.group_name"

// EndpointData describes a discovered publication or subscription. The
// JSON form follows the builtin topic data field names of the source
// middleware.
type EndpointData struct {
	TopicName      string   `json:"topic_name"`
	TypeName       string   `json:"type_name"`
	Partitions     []string `json:"partition,omitempty"`
	ParticipantKey string   `json:"participant_key,omitempty"`
}

// ParticipantData describes the participant owning one or more endpoints.
type ParticipantData struct {
	Key        string            `json:"key"`
	Service    ServiceKind       `json:"service,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// ParticipantLookup resolves participant metadata by key. Returns nil when
// the participant is not (yet) known; callers treat that as "no metadata".
type ParticipantLookup interface {
	Participant(key string) *ParticipantData
}

// PublicationListener receives remote publication lifecycle events.
type PublicationListener interface {
	PublicationDiscovered(handle Handle, data *EndpointData)
	PublicationLost(handle Handle, data *EndpointData)
}

// SubscriptionListener receives remote subscription lifecycle events.
type SubscriptionListener interface {
	SubscriptionDiscovered(handle Handle, data *EndpointData)
	SubscriptionLost(handle Handle, data *EndpointData)
}
