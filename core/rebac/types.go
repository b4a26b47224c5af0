// Package rebac implements Relationship-Based Access Control (ReBAC) for
// FlowStudio resources.
//
// Authorization data is a set of relation tuples of the form
// (namespace, objectID, relation, subjectID). Each namespace carries a static
// implication graph (owner implies editor implies viewer) that the Checker
// walks when answering "does subject S hold at least relation R on object O".
// This package provides:
//   - Closed Namespace and Relation variants
//   - A Store interface with in-memory and GORM implementations
//   - A Checker that resolves effective access through the implication graph
//   - A Manager exposing guards, grant/revoke and listing operations
//
// The design is inspired by Google Zanzibar.
package rebac

import (
	"fmt"
	"time"
)

// Namespace is a disjoint authorization domain grouping one kind of resource.
type Namespace string

const (
	NamespaceImageProject    Namespace = "image_project"
	NamespaceWorkflowSession Namespace = "workflow_session"
	NamespaceSystem          Namespace = "system"
)

// Namespaces lists every known namespace.
var Namespaces = []Namespace{
	NamespaceImageProject,
	NamespaceWorkflowSession,
	NamespaceSystem,
}

// SystemObjectID is the sentinel object representing the whole system.
const SystemObjectID = "global"

// ParseNamespace converts a raw string into a Namespace.
func ParseNamespace(s string) (Namespace, error) {
	switch ns := Namespace(s); ns {
	case NamespaceImageProject, NamespaceWorkflowSession, NamespaceSystem:
		return ns, nil
	default:
		return "", Validationf("unknown namespace %q", s)
	}
}

// Valid reports whether n is a known namespace.
func (n Namespace) Valid() bool {
	_, err := ParseNamespace(string(n))
	return err == nil
}

func (n Namespace) String() string { return string(n) }

// Relation is a role a subject can hold on an object.
type Relation string

const (
	RelationOwner  Relation = "owner"
	RelationEditor Relation = "editor"
	RelationViewer Relation = "viewer"
	RelationAdmin  Relation = "admin"
)

// Relations lists every known relation.
var Relations = []Relation{
	RelationOwner,
	RelationEditor,
	RelationViewer,
	RelationAdmin,
}

// ParseRelation converts a raw string into a Relation.
func ParseRelation(s string) (Relation, error) {
	switch r := Relation(s); r {
	case RelationOwner, RelationEditor, RelationViewer, RelationAdmin:
		return r, nil
	default:
		return "", Validationf("unknown relation %q", s)
	}
}

// Valid reports whether r is a known relation.
func (r Relation) Valid() bool {
	_, err := ParseRelation(string(r))
	return err == nil
}

func (r Relation) String() string { return string(r) }

// Rank orders the owner/editor/viewer chain. Admin ranks outside the chain.
func (r Relation) Rank() int {
	switch r {
	case RelationViewer:
		return 1
	case RelationEditor:
		return 2
	case RelationOwner:
		return 3
	case RelationAdmin:
		return 0
	default:
		return -1
	}
}

// TupleKey identifies a tuple. Two tuples with the same key are the same grant.
type TupleKey struct {
	Namespace Namespace
	ObjectID  string
	Relation  Relation
	SubjectID string
}

// String returns the canonical representation: "namespace:object#relation@subject"
func (k TupleKey) String() string {
	return fmt.Sprintf("%s:%s#%s@%s", k.Namespace, k.ObjectID, k.Relation, k.SubjectID)
}

// Validate checks that every field is present and the enums are known.
func (k TupleKey) Validate() error {
	if !k.Namespace.Valid() {
		return Validationf("unknown namespace %q", k.Namespace)
	}
	if !k.Relation.Valid() {
		return Validationf("unknown relation %q", k.Relation)
	}
	if k.ObjectID == "" {
		return Validationf("object id is required")
	}
	if k.SubjectID == "" {
		return Validationf("subject id is required")
	}
	return nil
}

// Tuple is a stored grant plus its creation metadata.
//
// Examples:
//   - image_project:proj-1#owner@user-a (user-a owns proj-1)
//   - system:global#admin@user-z (user-z administers the system)
type Tuple struct {
	TupleKey
	GrantedBy string
	CreatedAt time.Time
}

// NewTuple creates a tuple stamped with the current time.
func NewTuple(ns Namespace, objectID string, rel Relation, subjectID, grantedBy string) Tuple {
	return Tuple{
		TupleKey: TupleKey{
			Namespace: ns,
			ObjectID:  objectID,
			Relation:  rel,
			SubjectID: subjectID,
		},
		GrantedBy: grantedBy,
		CreatedAt: time.Now().UTC(),
	}
}

// SubjectRelation is one raw (subject, relation) pair on an object.
type SubjectRelation struct {
	SubjectID string    `json:"subject_id"`
	Relation  Relation  `json:"relation"`
	GrantedBy string    `json:"granted_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ObjectRelation pairs an object with the strongest relation a subject holds on it.
type ObjectRelation struct {
	ObjectID string   `json:"object_id"`
	Relation Relation `json:"relation"`
}
