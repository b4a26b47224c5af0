package rebac

import (
	"context"
)

// Store defines the interface for persisting and querying relation tuples.
// Implementations must be safe for concurrent use and must treat writes of an
// existing tuple key as a no-op.
type Store interface {
	// WriteTuple inserts a tuple. If the key already exists, this is a no-op.
	WriteTuple(ctx context.Context, tuple Tuple) error

	// DeleteTuple removes the tuple with the given key. Missing keys are not an error.
	DeleteTuple(ctx context.Context, key TupleKey) error

	// DeleteObjectTuples removes every tuple referencing the object.
	DeleteObjectTuples(ctx context.Context, ns Namespace, objectID string) error

	// FindBySubject returns the subject's tuples within a namespace. When
	// relations is non-empty only tuples with one of those relations are returned.
	FindBySubject(ctx context.Context, subjectID string, ns Namespace, relations ...Relation) ([]Tuple, error)

	// FindByObject returns every tuple of an object.
	FindByObject(ctx context.Context, ns Namespace, objectID string) ([]Tuple, error)

	// TupleExists checks if a specific tuple exists.
	TupleExists(ctx context.Context, key TupleKey) (bool, error)

	// Transaction runs fn against a transactional view of the store. Writes made
	// through tx are committed when fn returns nil and discarded otherwise.
	Transaction(ctx context.Context, fn func(tx Store) error) error
}
