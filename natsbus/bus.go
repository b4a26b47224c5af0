// Package natsbus carries permission engine traffic over NATS: tuple change
// notifications that keep every replica's decision cache coherent, and a
// request/reply permission check for services that do not speak HTTP.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowstudio/authz/core/rebac"
	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// ChangeSubject receives one ChangeEvent per tuple write.
	ChangeSubject = "flowstudio.authz.changed"
	// CheckSubject answers CheckRequest messages with a CheckResponse.
	CheckSubject = "flowstudio.authz.check"
	// CheckQueue spreads check requests across replicas.
	CheckQueue = "flowstudio-authz"
)

// ChangeEvent announces that the tuples of an object changed.
type ChangeEvent struct {
	Namespace rebac.Namespace `json:"namespace"`
	ObjectID  string          `json:"object_id"`
	Origin    string          `json:"origin"`
	At        time.Time       `json:"at"`
}

// CheckRequest is the payload of a check over NATS.
type CheckRequest struct {
	SubjectID string          `json:"subject_id"`
	Namespace rebac.Namespace `json:"namespace"`
	ObjectID  string          `json:"object_id"`
	Relation  rebac.Relation  `json:"relation"`
}

// CheckResponse answers a CheckRequest. Allowed is false whenever Error is set.
type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	Error   string `json:"error,omitempty"`
}

// Conn is the part of *nats.Conn the bus publishes through.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Msg is an interface for [nats.Msg] that allows for mocking.
type Msg interface {
	Reply() string
	Respond(data []byte) error
	Data() []byte
	Subject() string
}

// natsMsg is a wrapper around [nats.Msg] that implements [Msg].
type natsMsg struct {
	*nats.Msg
}

func (m *natsMsg) Reply() string             { return m.Msg.Reply }
func (m *natsMsg) Respond(data []byte) error { return m.Msg.Respond(data) }
func (m *natsMsg) Data() []byte              { return m.Msg.Data }
func (m *natsMsg) Subject() string           { return m.Msg.Subject }

// Invalidator drops cached decisions for an object.
type Invalidator interface {
	InvalidateObject(ctx context.Context, ns rebac.Namespace, objectID string) error
}

// Checker answers permission checks.
type Checker interface {
	CheckPermission(ctx context.Context, subjectID string, ns rebac.Namespace, objectID string, rel rebac.Relation) (bool, error)
}

// Bus publishes change events and handles incoming bus traffic.
type Bus struct {
	conn   Conn
	origin string
	log    *zap.Logger
}

// New creates a bus publishing through conn. Each bus gets a random origin
// so it can skip the events it published itself.
func New(conn Conn, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		conn:   conn,
		origin: uuid.NewString(),
		log:    log.Named("natsbus"),
	}
}

// Origin identifies this bus in the events it publishes.
func (b *Bus) Origin() string {
	return b.origin
}

// NotifyChange implements rebac.Notifier.
func (b *Bus) NotifyChange(ctx context.Context, ns rebac.Namespace, objectID string) error {
	data, err := json.Marshal(ChangeEvent{
		Namespace: ns,
		ObjectID:  objectID,
		Origin:    b.origin,
		At:        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("natsbus: marshal change event: %w", err)
	}
	if err := b.conn.Publish(ChangeSubject, data); err != nil {
		return fmt.Errorf("natsbus: publish change event: %w", err)
	}
	return nil
}

// HandleChange invalidates the object named by a change event, unless the
// event came from this bus; the local write already invalidated it.
func (b *Bus) HandleChange(ctx context.Context, inv Invalidator, message Msg) error {
	var event ChangeEvent
	if err := json.Unmarshal(message.Data(), &event); err != nil {
		b.log.Warn("dropping malformed change event", zap.Error(err))
		return fmt.Errorf("natsbus: decode change event: %w", err)
	}
	if event.Origin == b.origin {
		return nil
	}
	if !event.Namespace.Valid() || event.ObjectID == "" {
		b.log.Warn("dropping change event for unknown object",
			zap.String("namespace", string(event.Namespace)),
			zap.String("object_id", event.ObjectID),
		)
		return nil
	}

	if err := inv.InvalidateObject(ctx, event.Namespace, event.ObjectID); err != nil {
		b.log.Error("remote invalidation failed",
			zap.String("object", string(event.Namespace)+":"+event.ObjectID),
			zap.Error(err),
		)
		return err
	}
	b.log.Debug("invalidated after remote change",
		zap.String("object", string(event.Namespace)+":"+event.ObjectID),
		zap.String("origin", event.Origin),
	)
	return nil
}

// HandleCheck answers a CheckRequest on the message's reply inbox. Storage
// failures are answered as a denial carrying a generic error.
func (b *Bus) HandleCheck(ctx context.Context, checker Checker, message Msg) error {
	var resp CheckResponse
	var req CheckRequest
	if err := json.Unmarshal(message.Data(), &req); err != nil {
		resp.Error = "malformed check request"
	} else {
		allowed, err := checker.CheckPermission(ctx, req.SubjectID, req.Namespace, req.ObjectID, req.Relation)
		if err != nil {
			resp.Error = rebac.PublicMessage(err)
			b.log.Warn("check over nats failed", zap.Error(err))
		} else {
			resp.Allowed = allowed
		}
	}

	if message.Reply() == "" {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("natsbus: marshal check response: %w", err)
	}
	if err := message.Respond(data); err != nil {
		b.log.Warn("failed to send check reply", zap.Error(err))
		return err
	}
	return nil
}

// Subscribe attaches the change and check handlers to nc. Change events use a
// plain subscription so every replica sees them; checks use a queue group.
func (b *Bus) Subscribe(ctx context.Context, nc *nats.Conn, inv Invalidator, checker Checker) ([]*nats.Subscription, error) {
	changes, err := nc.Subscribe(ChangeSubject, func(m *nats.Msg) {
		_ = b.HandleChange(ctx, inv, &natsMsg{m})
	})
	if err != nil {
		return nil, fmt.Errorf("natsbus: subscribe %s: %w", ChangeSubject, err)
	}
	b.log.Info("subscribed to NATS subject", zap.String("subject", ChangeSubject))

	checks, err := nc.QueueSubscribe(CheckSubject, CheckQueue, func(m *nats.Msg) {
		_ = b.HandleCheck(ctx, checker, &natsMsg{m})
	})
	if err != nil {
		_ = changes.Unsubscribe()
		return nil, fmt.Errorf("natsbus: subscribe %s: %w", CheckSubject, err)
	}
	b.log.Info("subscribed to NATS subject", zap.String("subject", CheckSubject), zap.String("queue", CheckQueue))

	return []*nats.Subscription{changes, checks}, nil
}

// Connect dials NATS with the reconnect and error handling the server uses.
func Connect(url string, log *zap.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("flowstudio-authz"),
		nats.DrainTimeout(10*time.Second),
		nats.MaxReconnects(-1),
		nats.ErrorHandler(func(_ *nats.Conn, s *nats.Subscription, err error) {
			if s != nil {
				log.Error("async NATS error", zap.String("subject", s.Subject), zap.String("queue", s.Queue), zap.Error(err))
			} else {
				log.Error("async NATS error outside subscription", zap.Error(err))
			}
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
}

var _ rebac.Notifier = (*Bus)(nil)
