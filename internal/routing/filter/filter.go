// Package filter provides the built-in observer filters: routing service
// self-exclusion, group exclusion, topic prefix, wildcard partitions, and
// CEL expression filters.
package filter

import (
	"strings"

	"github.com/gezibash/routectl/internal/discovery"
)

// RoutingService ignores endpoints owned by a routing service
// participant. Without it the controller would create routes for the
// forwarder's own readers and writers and loop its traffic.
type RoutingService struct{}

// NewRoutingService creates the routing service self-filter.
func NewRoutingService() *RoutingService {
	return &RoutingService{}
}

func (f *RoutingService) IgnorePublication(lookup discovery.ParticipantLookup, _ discovery.Handle, data *discovery.EndpointData) bool {
	return isRoutingServiceParticipant(lookup, data.ParticipantKey)
}

func (f *RoutingService) IgnoreSubscription(lookup discovery.ParticipantLookup, _ discovery.Handle, data *discovery.EndpointData) bool {
	return isRoutingServiceParticipant(lookup, data.ParticipantKey)
}

func (f *RoutingService) IgnorePartition(string) bool {
	return false
}

// isRoutingServiceParticipant reports whether the participant is owned by
// a routing service. An unknown participant is not ignored: suppressing
// an event is irreversible until the endpoint churns, so the conservative
// choice is to process it.
func isRoutingServiceParticipant(lookup discovery.ParticipantLookup, key string) bool {
	p := lookup.Participant(key)
	return p != nil && p.Service == discovery.ServiceRouting
}

// RoutingServiceGroup ignores endpoints of routing service participants
// belonging to a specific group. Used when several forwarders coexist in
// one domain and only peers of the same group must be excluded.
type RoutingServiceGroup struct {
	groupName string
}

// NewRoutingServiceGroup creates the group self-filter.
func NewRoutingServiceGroup(groupName string) *RoutingServiceGroup {
	return &RoutingServiceGroup{groupName: groupName}
}

func (f *RoutingServiceGroup) IgnorePublication(lookup discovery.ParticipantLookup, _ discovery.Handle, data *discovery.EndpointData) bool {
	return f.isGroupParticipant(lookup, data.ParticipantKey)
}

func (f *RoutingServiceGroup) IgnoreSubscription(lookup discovery.ParticipantLookup, _ discovery.Handle, data *discovery.EndpointData) bool {
	return f.isGroupParticipant(lookup, data.ParticipantKey)
}

func (f *RoutingServiceGroup) IgnorePartition(string) bool {
	return false
}

func (f *RoutingServiceGroup) isGroupParticipant(lookup discovery.ParticipantLookup, key string) bool {
	p := lookup.Participant(key)
	if p == nil || p.Service != discovery.ServiceRouting {
		return false
	}
	return p.Properties[discovery.GroupNameProperty] == f.groupName
}

// TopicPrefix ignores endpoints on topics starting with a prefix. The
// default prefix excludes the middleware's internal topics.
type TopicPrefix struct {
	prefix string
}

// DefaultTopicPrefix is the vendor-internal topic prefix.
const DefaultTopicPrefix = "rti"

// NewTopicPrefix creates a prefix filter. An empty prefix defaults to
// DefaultTopicPrefix.
func NewTopicPrefix(prefix string) *TopicPrefix {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &TopicPrefix{prefix: prefix}
}

func (f *TopicPrefix) IgnorePublication(_ discovery.ParticipantLookup, _ discovery.Handle, data *discovery.EndpointData) bool {
	return strings.HasPrefix(data.TopicName, f.prefix)
}

func (f *TopicPrefix) IgnoreSubscription(_ discovery.ParticipantLookup, _ discovery.Handle, data *discovery.EndpointData) bool {
	return strings.HasPrefix(data.TopicName, f.prefix)
}

func (f *TopicPrefix) IgnorePartition(string) bool {
	return false
}

// WildcardPartition ignores partitions containing pub/sub wildcard
// metacharacters. A wildcard partition matches endpoints, but cannot be
// materialised as a concrete partition in the forwarder configuration.
type WildcardPartition struct{}

// NewWildcardPartition creates the wildcard partition filter.
func NewWildcardPartition() *WildcardPartition {
	return &WildcardPartition{}
}

func (f *WildcardPartition) IgnorePublication(discovery.ParticipantLookup, discovery.Handle, *discovery.EndpointData) bool {
	return false
}

func (f *WildcardPartition) IgnoreSubscription(discovery.ParticipantLookup, discovery.Handle, *discovery.EndpointData) bool {
	return false
}

func (f *WildcardPartition) IgnorePartition(partition string) bool {
	return strings.ContainsAny(partition, "*?")
}
