// Package provider supplies the default mapping from logical sessions and
// topic routes onto routing service entity names and XML configuration.
// It is the single point of deployment policy: swapping the provider
// changes how routes are materialised without touching the observer or
// the commander.
package provider

import (
	"fmt"
	"strings"

	"github.com/gezibash/routectl/internal/routing/command"
	"github.com/gezibash/routectl/internal/routing/observer"
)

// DomainRoute maps sessions and routes into a single domain route of the
// target routing service. Sessions become named sessions under the
// domain route, carrying the partition in publisher and subscriber QoS;
// topic routes become auto topic routes between the route's two
// participants.
type DomainRoute struct {
	name string
}

var _ command.Provider = (*DomainRoute)(nil)

// NewDomainRoute creates a provider rooted at the named domain route.
func NewDomainRoute(name string) (*DomainRoute, error) {
	if name == "" {
		return nil, fmt.Errorf("provider: domain route name must not be empty")
	}
	return &DomainRoute{name: name}, nil
}

// SessionParent implements command.Provider.
func (p *DomainRoute) SessionParent(observer.Session) string {
	return p.name
}

// SessionEntityName implements command.Provider.
func (p *DomainRoute) SessionEntityName(s observer.Session) string {
	return fmt.Sprintf("%s::%s", p.name, sessionName(s))
}

// SessionConfiguration implements command.Provider.
func (p *DomainRoute) SessionConfiguration(s observer.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<session name="%s" enabled="true">`, escape(sessionName(s)))
	b.WriteString(partitionQoS("publisher_qos", s.Partition))
	b.WriteString(partitionQoS("subscriber_qos", s.Partition))
	b.WriteString(`</session>`)
	return b.String()
}

// TopicRouteEntityName implements command.Provider.
func (p *DomainRoute) TopicRouteEntityName(s observer.Session, r observer.TopicRoute) string {
	return fmt.Sprintf("%s::%s", p.SessionEntityName(s), r.Direction)
}

// TopicRouteConfiguration implements command.Provider.
func (p *DomainRoute) TopicRouteConfiguration(s observer.Session, r observer.TopicRoute) string {
	// OUT forwards from the first participant to the second, IN the
	// reverse. The route is created disabled-free: creation modes defer
	// reader/writer creation until both sides match.
	input := "1"
	if r.Direction == observer.DirectionIn {
		input = "2"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<auto_topic_route name="%s">`, r.Direction)
	b.WriteString(`<publish_with_original_info>true</publish_with_original_info>`)
	fmt.Fprintf(&b, `<topic_name>%s</topic_name>`, escape(s.Topic))
	fmt.Fprintf(&b, `<registered_type_name>%s</registered_type_name>`, escape(r.Type))
	fmt.Fprintf(&b, `<input participant="%s"><creation_mode>ON_DOMAIN_MATCH</creation_mode></input>`, input)
	b.WriteString(`<output><creation_mode>ON_ROUTE_MATCH</creation_mode></output>`)
	b.WriteString(`</auto_topic_route>`)
	return b.String()
}

// sessionName is the session's display name: topic with the partition in
// parentheses.
func sessionName(s observer.Session) string {
	return fmt.Sprintf("%s(%s)", s.Topic, s.Partition)
}

// partitionQoS renders the partition element of one QoS block. An empty
// partition means "no partition advertised" and renders no element.
func partitionQoS(kind, partition string) string {
	if partition == "" {
		return fmt.Sprintf(`<%s/>`, kind)
	}
	return fmt.Sprintf(
		`<%s><partition><name><element>%s</element></name></partition></%s>`,
		kind, escape(partition), kind,
	)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escape(s string) string {
	return xmlEscaper.Replace(s)
}
