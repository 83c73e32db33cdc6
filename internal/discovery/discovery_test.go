package discovery

import (
	"testing"
)

type recordingListener struct {
	events []string
}

func (r *recordingListener) PublicationDiscovered(h Handle, d *EndpointData) {
	r.events = append(r.events, "pub-discovered:"+string(h)+":"+d.TopicName)
}

func (r *recordingListener) PublicationLost(h Handle, d *EndpointData) {
	r.events = append(r.events, "pub-lost:"+string(h)+":"+d.TopicName)
}

func (r *recordingListener) SubscriptionDiscovered(h Handle, d *EndpointData) {
	r.events = append(r.events, "sub-discovered:"+string(h)+":"+d.TopicName)
}

func (r *recordingListener) SubscriptionLost(h Handle, d *EndpointData) {
	r.events = append(r.events, "sub-lost:"+string(h)+":"+d.TopicName)
}

func TestParticipantRegistry(t *testing.T) {
	reg := NewParticipantRegistry()

	if got := reg.Participant("p1"); got != nil {
		t.Errorf("expected nil for unknown key, got: %v", got)
	}

	reg.Put(&ParticipantData{Key: "p1", Service: ServiceRouting})
	if got := reg.Participant("p1"); got == nil || got.Service != ServiceRouting {
		t.Errorf("lookup after put failed: %v", got)
	}

	// Replace keeps the latest data.
	reg.Put(&ParticipantData{Key: "p1", Service: ServiceNone})
	if got := reg.Participant("p1"); got == nil || got.Service != ServiceNone {
		t.Errorf("replace failed: %v", got)
	}

	reg.Remove("p1")
	if got := reg.Participant("p1"); got != nil {
		t.Errorf("expected nil after remove, got: %v", got)
	}

	// Nil and keyless puts are ignored.
	reg.Put(nil)
	reg.Put(&ParticipantData{})
	if reg.Count() != 0 {
		t.Errorf("expected empty registry, got %d entries", reg.Count())
	}
}

func TestDecodeAnnouncement(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{
			name:    "publication discovered",
			payload: `{"event":"discovered","kind":"publication","handle":"h1","endpoint":{"topic_name":"Square"}}`,
		},
		{
			name:    "subscription lost",
			payload: `{"event":"lost","kind":"subscription","handle":"h2","endpoint":{"topic_name":"Circle"}}`,
		},
		{
			name:    "participant",
			payload: `{"event":"discovered","kind":"participant","participant":{"key":"p1"}}`,
		},
		{
			name:    "invalid json",
			payload: `{`,
			wantErr: true,
		},
		{
			name:    "unknown event",
			payload: `{"event":"changed","kind":"publication","handle":"h","endpoint":{}}`,
			wantErr: true,
		},
		{
			name:    "unknown kind",
			payload: `{"event":"discovered","kind":"topic","handle":"h"}`,
			wantErr: true,
		},
		{
			name:    "endpoint missing",
			payload: `{"event":"discovered","kind":"publication","handle":"h1"}`,
			wantErr: true,
		},
		{
			name:    "handle missing",
			payload: `{"event":"discovered","kind":"publication","endpoint":{}}`,
			wantErr: true,
		},
		{
			name:    "participant missing",
			payload: `{"event":"lost","kind":"participant"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeAnnouncement([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("decodeAnnouncement() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	s := &Source{registry: NewParticipantRegistry()}
	rec := &recordingListener{}
	s.AddPublicationListener(rec)
	s.AddSubscriptionListener(rec)

	s.dispatch(&Announcement{
		Event: eventDiscovered, Kind: kindPublication, Handle: "h1",
		Endpoint:    &EndpointData{TopicName: "Square", ParticipantKey: "p1"},
		Participant: &ParticipantData{Key: "p1", Service: ServiceRouting},
	})
	s.dispatch(&Announcement{
		Event: eventLost, Kind: kindSubscription, Handle: "h2",
		Endpoint: &EndpointData{TopicName: "Circle"},
	})

	want := []string{"pub-discovered:h1:Square", "sub-lost:h2:Circle"}
	if len(rec.events) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, rec.events[i], want[i])
		}
	}

	// Piggybacked participant data landed in the registry.
	if p := s.registry.Participant("p1"); p == nil || p.Service != ServiceRouting {
		t.Errorf("expected piggybacked participant in registry, got: %v", p)
	}
}

func TestDispatchParticipantLifecycle(t *testing.T) {
	s := &Source{registry: NewParticipantRegistry()}

	s.dispatch(&Announcement{
		Event: eventDiscovered, Kind: kindParticipant,
		Participant: &ParticipantData{Key: "p1"},
	})
	if s.registry.Participant("p1") == nil {
		t.Fatal("participant should be registered")
	}

	s.dispatch(&Announcement{
		Event: eventLost, Kind: kindParticipant,
		Participant: &ParticipantData{Key: "p1"},
	})
	if s.registry.Participant("p1") != nil {
		t.Fatal("participant should be removed")
	}
}
