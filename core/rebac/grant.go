package rebac

import (
	"context"
	"fmt"

	"github.com/flowstudio/authz/core/audit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Result reports the outcome of a grant or revoke. Authorization-policy
// denials come back as Success=false rather than as an error.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func denied(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

var succeeded = Result{Success: true}

// GrantRequest asks for SubjectID to receive Relation on an object.
type GrantRequest struct {
	Namespace Namespace `json:"namespace"`
	ObjectID  string    `json:"object_id"`
	Relation  Relation  `json:"relation"`
	SubjectID string    `json:"subject_id"`
	GrantedBy string    `json:"granted_by"`
}

// RevokeRequest asks for SubjectID to lose Relation on an object.
type RevokeRequest struct {
	Namespace Namespace `json:"namespace"`
	ObjectID  string    `json:"object_id"`
	Relation  Relation  `json:"relation"`
	SubjectID string    `json:"subject_id"`
	RevokedBy string    `json:"revoked_by"`
}

// TransferRequest moves ownership of an object from one subject to another.
type TransferRequest struct {
	Namespace   Namespace `json:"namespace"`
	ObjectID    string    `json:"object_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	RequestedBy string    `json:"requested_by"`
}

func (m *Manager) validateKey(key TupleKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if !m.checker.Schema(key.Namespace).Defines(key.Relation) {
		return Validationf("relation %q is not defined for namespace %q", key.Relation, key.Namespace)
	}
	return nil
}

// canDelegate reports whether actor may change grants on the object: owners
// of the object and system administrators can.
func (m *Manager) canDelegate(ctx context.Context, actor string, ns Namespace, objectID string) (bool, error) {
	if ns != NamespaceSystem {
		owner, err := m.CheckPermission(ctx, actor, ns, objectID, RelationOwner)
		if err != nil || owner {
			return owner, err
		}
	}
	return m.IsAdmin(ctx, actor)
}

// GrantPermission writes a tuple after verifying that GrantedBy owns the
// object or is a system administrator. Malformed input returns a
// ValidationError; a delegation denial returns Success=false. Granting an
// existing tuple succeeds without creating a duplicate.
func (m *Manager) GrantPermission(ctx context.Context, req GrantRequest) (Result, error) {
	key := TupleKey{Namespace: req.Namespace, ObjectID: req.ObjectID, Relation: req.Relation, SubjectID: req.SubjectID}
	if err := m.validateKey(key); err != nil {
		return Result{}, err
	}
	if req.GrantedBy == "" {
		return Result{}, Validationf("granted_by is required")
	}

	ctx, span := m.startWriteSpan(ctx, "rebac.grant", key)
	defer span.End()

	ok, err := m.canDelegate(ctx, req.GrantedBy, req.Namespace, req.ObjectID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if !ok {
		m.recordWrite(ctx, "grant", req.Namespace, req.Relation, false)
		m.record(ctx, audit.NewEvent(audit.EventPermissionDenied).
			Actor(req.GrantedBy).Subject(req.SubjectID).
			Object(string(req.Namespace), req.ObjectID).Relation(string(req.Relation)).
			Denied().Message("grant refused: granter is not an owner or administrator"))
		return denied("%s cannot grant %s on %s %q", req.GrantedBy, req.Relation, req.Namespace, req.ObjectID), nil
	}

	tuple := NewTuple(req.Namespace, req.ObjectID, req.Relation, req.SubjectID, req.GrantedBy)
	if err := m.store.WriteTuple(ctx, tuple); err != nil {
		err = StorageError("grant "+key.String(), err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	m.afterWrite(ctx, req.Namespace, req.ObjectID)

	m.recordWrite(ctx, "grant", req.Namespace, req.Relation, true)
	m.record(ctx, audit.NewEvent(audit.EventPermissionGranted).
		Actor(req.GrantedBy).Subject(req.SubjectID).
		Object(string(req.Namespace), req.ObjectID).Relation(string(req.Relation)).
		Success())
	m.log.Info("permission granted",
		zap.String("tuple", key.String()),
		zap.String("granted_by", req.GrantedBy),
	)
	return succeeded, nil
}

// GrantOwnership writes the seed owner tuple of a newly created object. It
// bypasses the delegation check because the object has no owner yet.
func (m *Manager) GrantOwnership(ctx context.Context, ns Namespace, objectID, subjectID string) error {
	key := TupleKey{Namespace: ns, ObjectID: objectID, Relation: RelationOwner, SubjectID: subjectID}
	if err := m.validateKey(key); err != nil {
		return err
	}

	if err := m.store.WriteTuple(ctx, NewTuple(ns, objectID, RelationOwner, subjectID, subjectID)); err != nil {
		return StorageError("grant ownership "+key.String(), err)
	}
	m.afterWrite(ctx, ns, objectID)

	m.recordWrite(ctx, "grant", ns, RelationOwner, true)
	m.record(ctx, audit.NewEvent(audit.EventOwnershipGranted).
		Actor(subjectID).Subject(subjectID).
		Object(string(ns), objectID).Relation(string(RelationOwner)).Success())
	return nil
}

// CreateOwned writes the owner tuple and runs create inside one store
// transaction, so the object never exists without an owner. create receives
// the transactional store; returning an error rolls back the owner grant.
func (m *Manager) CreateOwned(ctx context.Context, ns Namespace, objectID, ownerID string, create func(ctx context.Context, tx Store) error) error {
	key := TupleKey{Namespace: ns, ObjectID: objectID, Relation: RelationOwner, SubjectID: ownerID}
	if err := m.validateKey(key); err != nil {
		return err
	}

	err := m.store.Transaction(ctx, func(tx Store) error {
		if err := tx.WriteTuple(ctx, NewTuple(ns, objectID, RelationOwner, ownerID, ownerID)); err != nil {
			return StorageError("grant ownership "+key.String(), err)
		}
		return create(ctx, tx)
	})
	if err != nil {
		return err
	}
	m.afterWrite(ctx, ns, objectID)

	m.recordWrite(ctx, "grant", ns, RelationOwner, true)
	m.record(ctx, audit.NewEvent(audit.EventOwnershipGranted).
		Actor(ownerID).Subject(ownerID).
		Object(string(ns), objectID).Relation(string(RelationOwner)).Success())
	return nil
}

// RevokePermission removes a tuple. The revoker must own or administer the
// object, or be removing their own non-owner relation. Removing the last
// owner of an object is refused; use TransferOwnership instead.
func (m *Manager) RevokePermission(ctx context.Context, req RevokeRequest) (Result, error) {
	key := TupleKey{Namespace: req.Namespace, ObjectID: req.ObjectID, Relation: req.Relation, SubjectID: req.SubjectID}
	if err := m.validateKey(key); err != nil {
		return Result{}, err
	}
	if req.RevokedBy == "" {
		return Result{}, Validationf("revoked_by is required")
	}

	ctx, span := m.startWriteSpan(ctx, "rebac.revoke", key)
	defer span.End()

	selfRevoke := req.RevokedBy == req.SubjectID && req.Relation != RelationOwner
	if !selfRevoke {
		ok, err := m.canDelegate(ctx, req.RevokedBy, req.Namespace, req.ObjectID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Result{}, err
		}
		if !ok {
			m.recordWrite(ctx, "revoke", req.Namespace, req.Relation, false)
			m.record(ctx, audit.NewEvent(audit.EventPermissionDenied).
				Actor(req.RevokedBy).Subject(req.SubjectID).
				Object(string(req.Namespace), req.ObjectID).Relation(string(req.Relation)).
				Denied().Message("revoke refused: revoker is not an owner or administrator"))
			return denied("%s cannot revoke %s on %s %q", req.RevokedBy, req.Relation, req.Namespace, req.ObjectID), nil
		}
	}

	var lastOwner bool
	err := m.store.Transaction(ctx, func(tx Store) error {
		if req.Relation == RelationOwner {
			tuples, err := tx.FindByObject(ctx, req.Namespace, req.ObjectID)
			if err != nil {
				return err
			}
			owners, holds := 0, false
			for _, t := range tuples {
				if t.Relation == RelationOwner {
					owners++
					if t.SubjectID == req.SubjectID {
						holds = true
					}
				}
			}
			if holds && owners == 1 {
				lastOwner = true
				return nil
			}
		}
		return tx.DeleteTuple(ctx, key)
	})
	if err != nil {
		err = StorageError("revoke "+key.String(), err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if lastOwner {
		m.recordWrite(ctx, "revoke", req.Namespace, req.Relation, false)
		return denied("cannot revoke the last owner of %s %q", req.Namespace, req.ObjectID), nil
	}
	m.afterWrite(ctx, req.Namespace, req.ObjectID)

	m.recordWrite(ctx, "revoke", req.Namespace, req.Relation, true)
	m.record(ctx, audit.NewEvent(audit.EventPermissionRevoked).
		Actor(req.RevokedBy).Subject(req.SubjectID).
		Object(string(req.Namespace), req.ObjectID).Relation(string(req.Relation)).
		Success())
	m.log.Info("permission revoked",
		zap.String("tuple", key.String()),
		zap.String("revoked_by", req.RevokedBy),
	)
	return succeeded, nil
}

// RevokeAllForObject deletes every tuple of an object.
func (m *Manager) RevokeAllForObject(ctx context.Context, ns Namespace, objectID string) error {
	return m.DeleteOwned(ctx, ns, objectID, nil)
}

// DeleteOwned deletes every tuple of an object and runs remove inside one
// store transaction, so a deleted object never leaves grants behind. remove
// receives the transactional store; returning an error restores the tuples.
func (m *Manager) DeleteOwned(ctx context.Context, ns Namespace, objectID string, remove func(ctx context.Context, tx Store) error) error {
	if !ns.Valid() {
		return Validationf("unknown namespace %q", ns)
	}
	if objectID == "" {
		return Validationf("object id is required")
	}

	ctx, span := m.tracer.Start(ctx, "rebac.delete_object", trace.WithAttributes(
		attribute.String("rebac.object", string(ns)+":"+objectID),
	))
	defer span.End()

	err := m.store.Transaction(ctx, func(tx Store) error {
		if err := tx.DeleteObjectTuples(ctx, ns, objectID); err != nil {
			return StorageError("revoke all for "+string(ns)+":"+objectID, err)
		}
		if remove == nil {
			return nil
		}
		return remove(ctx, tx)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.afterWrite(ctx, ns, objectID)

	m.record(ctx, audit.NewEvent(audit.EventObjectPurged).
		Object(string(ns), objectID).Success().Risk(audit.RiskMedium))
	return nil
}

// TransferOwnership grants owner to To and removes it from From in one
// transaction. RequestedBy must own or administer the object.
func (m *Manager) TransferOwnership(ctx context.Context, req TransferRequest) (Result, error) {
	to := TupleKey{Namespace: req.Namespace, ObjectID: req.ObjectID, Relation: RelationOwner, SubjectID: req.To}
	if err := m.validateKey(to); err != nil {
		return Result{}, err
	}
	if req.From == "" || req.RequestedBy == "" {
		return Result{}, Validationf("from and requested_by are required")
	}
	from := to
	from.SubjectID = req.From

	ctx, span := m.startWriteSpan(ctx, "rebac.transfer", to)
	defer span.End()
	span.SetAttributes(attribute.String("rebac.from", req.From))

	ok, err := m.canDelegate(ctx, req.RequestedBy, req.Namespace, req.ObjectID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if !ok {
		m.recordWrite(ctx, "transfer", req.Namespace, RelationOwner, false)
		return denied("%s cannot transfer ownership of %s %q", req.RequestedBy, req.Namespace, req.ObjectID), nil
	}

	var notOwner bool
	err = m.store.Transaction(ctx, func(tx Store) error {
		held, err := tx.TupleExists(ctx, from)
		if err != nil {
			return err
		}
		if !held {
			notOwner = true
			return nil
		}
		if err := tx.WriteTuple(ctx, NewTuple(req.Namespace, req.ObjectID, RelationOwner, req.To, req.RequestedBy)); err != nil {
			return err
		}
		if req.From == req.To {
			return nil
		}
		return tx.DeleteTuple(ctx, from)
	})
	if err != nil {
		err = StorageError("transfer ownership", err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	if notOwner {
		m.recordWrite(ctx, "transfer", req.Namespace, RelationOwner, false)
		return denied("%s is not an owner of %s %q", req.From, req.Namespace, req.ObjectID), nil
	}
	m.afterWrite(ctx, req.Namespace, req.ObjectID)

	m.recordWrite(ctx, "transfer", req.Namespace, RelationOwner, true)
	m.record(ctx, audit.NewEvent(audit.EventOwnershipTransferred).
		Actor(req.RequestedBy).Subject(req.To).
		Object(string(req.Namespace), req.ObjectID).Relation(string(RelationOwner)).
		Success().Risk(audit.RiskHigh).
		Meta(map[string]string{"from": req.From, "to": req.To}))
	return succeeded, nil
}

func (m *Manager) startWriteSpan(ctx context.Context, name string, key TupleKey) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("rebac.tuple", key.String()),
	))
}

// BootstrapAdmin seeds system:global#admin for a subject without any
// delegation check. It is meant for process startup, so the first
// administrator can exist before anyone is able to grant it.
func (m *Manager) BootstrapAdmin(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return Validationf("subject id is required")
	}
	tuple := NewTuple(NamespaceSystem, SystemObjectID, RelationAdmin, subjectID, "bootstrap")

	ctx, span := m.startWriteSpan(ctx, "rebac.bootstrap_admin", tuple.TupleKey)
	defer span.End()

	if err := m.store.WriteTuple(ctx, tuple); err != nil {
		err = StorageError("bootstrap admin", err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	m.afterWrite(ctx, NamespaceSystem, SystemObjectID)

	m.recordWrite(ctx, "bootstrap", NamespaceSystem, RelationAdmin, true)
	return nil
}
