// Package audit records the history of authorization changes: grants,
// revocations, ownership transfers and object purges, plus denied attempts
// to perform them.
package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// RiskLevel categorizes the severity of audit events.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Event types.
const (
	EventPermissionGranted    = "permission.granted"
	EventPermissionRevoked    = "permission.revoked"
	EventPermissionDenied     = "permission.denied"
	EventOwnershipGranted     = "ownership.granted"
	EventOwnershipTransferred = "ownership.transferred"
	EventObjectPurged         = "object.purged"
)

// Statuses.
const (
	StatusSuccess = "success"
	StatusDenied  = "denied"
	StatusFailure = "failure"
)

// JSON is a raw JSON document stored as text or bytes depending on the driver.
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = JSON(v)
	default:
		return errors.New("invalid type for JSON")
	}
	return nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[0:0], data...)
	return nil
}

// Event is a structured record of one authorization change.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`       // e.g., "permission.granted"
	ActorID   string    `json:"actor_id"`   // The subject performing the action
	SubjectID string    `json:"subject_id"` // The subject whose access changed
	Namespace string    `json:"namespace"`
	ObjectID  string    `json:"object_id"`
	Relation  string    `json:"relation,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Risk      RiskLevel `json:"risk,omitempty"`
	Metadata  JSON      `json:"metadata,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store defines the interface for persisting and querying audit events.
type Store interface {
	// SaveEvent persists an audit event.
	SaveEvent(ctx context.Context, event *Event) error

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Event, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// Purge deletes events older than the specified time.
	// Returns the number of events deleted.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// Filter for querying audit events. Empty fields match everything.
type Filter struct {
	ActorID   string
	SubjectID string
	Namespace string
	ObjectID  string
	Types     []string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Matches reports whether e satisfies the filter, ignoring paging.
func (f Filter) Matches(e *Event) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.Namespace != "" && e.Namespace != f.Namespace {
		return false
	}
	if f.ObjectID != "" && e.ObjectID != f.ObjectID {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.StartTime.IsZero() && e.CreatedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && e.CreatedAt.After(f.EndTime) {
		return false
	}
	return true
}

// ---- Event Builder ----

// EventBuilder provides a fluent API for creating audit events.
type EventBuilder struct {
	event *Event
}

// NewEvent starts building a new audit event.
func NewEvent(eventType string) *EventBuilder {
	return &EventBuilder{
		event: &Event{
			Type:      eventType,
			CreatedAt: time.Now().UTC(),
			Risk:      RiskLow,
		},
	}
}

func (b *EventBuilder) Actor(actorID string) *EventBuilder {
	b.event.ActorID = actorID
	return b
}

func (b *EventBuilder) Subject(subjectID string) *EventBuilder {
	b.event.SubjectID = subjectID
	return b
}

func (b *EventBuilder) Object(namespace, objectID string) *EventBuilder {
	b.event.Namespace = namespace
	b.event.ObjectID = objectID
	return b
}

func (b *EventBuilder) Relation(relation string) *EventBuilder {
	b.event.Relation = relation
	return b
}

func (b *EventBuilder) Success() *EventBuilder {
	b.event.Status = StatusSuccess
	return b
}

func (b *EventBuilder) Denied() *EventBuilder {
	b.event.Status = StatusDenied
	b.event.Risk = RiskMedium
	return b
}

func (b *EventBuilder) Message(msg string) *EventBuilder {
	b.event.Message = msg
	return b
}

func (b *EventBuilder) Risk(level RiskLevel) *EventBuilder {
	b.event.Risk = level
	return b
}

// Meta marshals v into the event metadata. Marshal failures leave metadata empty.
func (b *EventBuilder) Meta(v any) *EventBuilder {
	if raw, err := json.Marshal(v); err == nil {
		b.event.Metadata = raw
	}
	return b
}

func (b *EventBuilder) RequestID(id string) *EventBuilder {
	b.event.RequestID = id
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() *Event {
	return b.event
}

// ---- Hooks ----

// Hooks provides extension points for audit behavior.
type Hooks struct {
	// BeforeSave is called before persisting an event.
	// Modify the event or return error to prevent saving.
	BeforeSave func(ctx context.Context, event *Event) error

	// AlertOnRisk is called for high risk events after they are saved.
	AlertOnRisk func(ctx context.Context, event *Event)

	// IDGenerator generates event IDs. If nil, the store generates them.
	IDGenerator func() string
}

// Logger wraps a Store and applies hooks.
type Logger struct {
	store Store
	hooks Hooks
}

// NewLogger creates a new audit logger.
func NewLogger(store Store, hooks Hooks) *Logger {
	return &Logger{store: store, hooks: hooks}
}

// Log persists an audit event with hooks applied.
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if event.ID == "" && l.hooks.IDGenerator != nil {
		event.ID = l.hooks.IDGenerator()
	}

	if l.hooks.BeforeSave != nil {
		if err := l.hooks.BeforeSave(ctx, event); err != nil {
			return err
		}
	}

	if err := l.store.SaveEvent(ctx, event); err != nil {
		return err
	}

	if event.Risk == RiskHigh && l.hooks.AlertOnRisk != nil {
		l.hooks.AlertOnRisk(ctx, event)
	}

	return nil
}

// Query delegates to the store.
func (l *Logger) Query(ctx context.Context, filter Filter) ([]Event, error) {
	return l.store.Query(ctx, filter)
}

// Count delegates to the store.
func (l *Logger) Count(ctx context.Context, filter Filter) (int64, error) {
	return l.store.Count(ctx, filter)
}
