// Package command drives the target routing service towards the state
// demanded by the observer: every create/delete transition becomes an
// administration command, retried at a fixed delay until it succeeds or
// an inverse transition supersedes it.
package command

import (
	"fmt"

	"github.com/gezibash/routectl/internal/routing/observer"
)

// Op is the administration operation requested for an identity.
type Op int

const (
	OpCreateSession Op = iota
	OpDeleteSession
	OpCreateRoute
	OpDeleteRoute
)

func (o Op) String() string {
	switch o {
	case OpCreateSession:
		return "create_session"
	case OpDeleteSession:
		return "delete_session"
	case OpCreateRoute:
		return "create_route"
	case OpDeleteRoute:
		return "delete_route"
	default:
		return "unknown"
	}
}

// Key identifies a pending command: a session, optionally narrowed to one
// topic route. Session-level and route-level commands never collide.
type Key struct {
	Session  observer.Session
	Route    observer.TopicRoute
	HasRoute bool
}

func (k Key) String() string {
	if !k.HasRoute {
		return fmt.Sprintf("session(%s/%s)", k.Session.Topic, k.Session.Partition)
	}
	return fmt.Sprintf("route(%s/%s/%s)", k.Session.Topic, k.Session.Partition, k.Route.Direction)
}

// sessionKey builds the identity of a session-level command.
func sessionKey(s observer.Session) Key {
	return Key{Session: s}
}

// routeKey builds the identity of a route-level command.
func routeKey(s observer.Session, r observer.TopicRoute) Key {
	return Key{Session: s, Route: r, HasRoute: true}
}

// Provider translates logical sessions and topic routes into the entity
// names and XML configuration of the target routing service. All methods
// are pure: identical inputs yield identical outputs.
type Provider interface {
	// SessionParent is the entity under which the session is created.
	SessionParent(s observer.Session) string
	// SessionEntityName is the fully qualified session entity name, used
	// for deletion and as the parent of the session's routes.
	SessionEntityName(s observer.Session) string
	// SessionConfiguration is the XML snippet creating the session.
	SessionConfiguration(s observer.Session) string
	// TopicRouteEntityName is the fully qualified route entity name.
	TopicRouteEntityName(s observer.Session, r observer.TopicRoute) string
	// TopicRouteConfiguration is the XML snippet creating the route.
	TopicRouteConfiguration(s observer.Session, r observer.TopicRoute) string
}
