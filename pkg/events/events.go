// Package events publishes domain events to the message bus.
package events

import (
	"context"
	"sync"
	"time"
)

// Subjects
const (
	SubjectUserCreated       = "users.created"
	SubjectTeamCreated       = "teams.created"
	SubjectTeamMemberJoined  = "teams.member_joined"
	SubjectTeamMemberRemoved = "teams.member_removed"
	SubjectTaskCreated       = "tasks.created"
	SubjectTaskUpdated       = "tasks.updated"
	SubjectTaskDeleted       = "tasks.deleted"
	SubjectNoteAdded         = "users.note_added"
)

// Event is the message body for every subject
type Event struct {
	Subject    string                 `json:"subject"`
	OccurredAt time.Time              `json:"occurred_at"`
	ActorID    int64                  `json:"actor_id,omitempty"`
	Payload    map[string]interface{} `json:"payload"`
}

// NewEvent stamps an event with the current time
func NewEvent(subject string, actorID int64, payload map[string]interface{}) *Event {
	return &Event{
		Subject:    subject,
		OccurredAt: time.Now().UTC(),
		ActorID:    actorID,
		Payload:    payload,
	}
}

// Publisher delivers events. Publish must not block on a slow consumer.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close()
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event *Event) error { return nil }
func (NopPublisher) Close()                                         {}

// MemoryPublisher keeps events in memory
type MemoryPublisher struct {
	mu     sync.Mutex
	events []*Event
}

func (m *MemoryPublisher) Publish(ctx context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryPublisher) Close() {}

// Events returns a copy of everything published so far
func (m *MemoryPublisher) Events() []*Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Event, len(m.events))
	copy(out, m.events)
	return out
}

// Subjects lists the subjects published so far, in order
func (m *MemoryPublisher) Subjects() []string {
	events := m.Events()
	subjects := make([]string, len(events))
	for i, e := range events {
		subjects[i] = e.Subject
	}
	return subjects
}
