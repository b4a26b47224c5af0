package rebac

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore provides an in-memory implementation of Store.
// This is useful for testing, development, and simple single-instance deployments.
// For production use with high availability requirements, use kgorm.ReBACRepository.
type MemoryStore struct {
	mu     sync.RWMutex
	tuples map[TupleKey]Tuple

	// txView stores record their mutations in log so Transaction can replay them.
	txView bool
	log    []memoryOp
}

type memoryOp struct {
	write  *Tuple
	delete *TupleKey
	object *objectRef
}

type objectRef struct {
	ns       Namespace
	objectID string
}

// NewMemoryStore creates a new in-memory tuple store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tuples: make(map[TupleKey]Tuple),
	}
}

// WriteTuple adds a tuple to the store if it doesn't already exist.
func (s *MemoryStore) WriteTuple(ctx context.Context, tuple Tuple) error {
	if err := ctx.Err(); err != nil {
		return StorageError("write tuple", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(memoryOp{write: &tuple})
	if _, ok := s.tuples[tuple.TupleKey]; ok {
		return nil
	}
	s.tuples[tuple.TupleKey] = tuple
	return nil
}

// DeleteTuple removes a specific tuple from the store.
func (s *MemoryStore) DeleteTuple(ctx context.Context, key TupleKey) error {
	if err := ctx.Err(); err != nil {
		return StorageError("delete tuple", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(memoryOp{delete: &key})
	delete(s.tuples, key)
	return nil
}

// DeleteObjectTuples removes all tuples of an object.
func (s *MemoryStore) DeleteObjectTuples(ctx context.Context, ns Namespace, objectID string) error {
	if err := ctx.Err(); err != nil {
		return StorageError("delete object tuples", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.record(memoryOp{object: &objectRef{ns: ns, objectID: objectID}})
	s.deleteObjectLocked(ns, objectID)
	return nil
}

func (s *MemoryStore) deleteObjectLocked(ns Namespace, objectID string) {
	for k := range s.tuples {
		if k.Namespace == ns && k.ObjectID == objectID {
			delete(s.tuples, k)
		}
	}
}

// FindBySubject returns the subject's tuples in a namespace.
func (s *MemoryStore) FindBySubject(ctx context.Context, subjectID string, ns Namespace, relations ...Relation) ([]Tuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, StorageError("find by subject", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Tuple
	for k, t := range s.tuples {
		if k.SubjectID != subjectID || k.Namespace != ns {
			continue
		}
		if len(relations) > 0 && !containsRelation(relations, k.Relation) {
			continue
		}
		result = append(result, t)
	}
	sortTuples(result)
	return result, nil
}

// FindByObject returns all tuples of an object.
func (s *MemoryStore) FindByObject(ctx context.Context, ns Namespace, objectID string) ([]Tuple, error) {
	if err := ctx.Err(); err != nil {
		return nil, StorageError("find by object", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Tuple
	for k, t := range s.tuples {
		if k.Namespace == ns && k.ObjectID == objectID {
			result = append(result, t)
		}
	}
	sortTuples(result)
	return result, nil
}

// TupleExists checks if a specific tuple exists.
func (s *MemoryStore) TupleExists(ctx context.Context, key TupleKey) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, StorageError("tuple exists", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tuples[key]
	return ok, nil
}

// Transaction runs fn on a snapshot of the store and replays its mutations
// onto the store if fn succeeds.
func (s *MemoryStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	s.mu.RLock()
	tx := NewMemoryStore()
	tx.txView = true
	for k, t := range s.tuples {
		tx.tuples[k] = t
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range tx.log {
		switch {
		case op.write != nil:
			if _, ok := s.tuples[op.write.TupleKey]; !ok {
				s.tuples[op.write.TupleKey] = *op.write
			}
		case op.delete != nil:
			delete(s.tuples, *op.delete)
		case op.object != nil:
			s.deleteObjectLocked(op.object.ns, op.object.objectID)
		}
	}
	if s.txView {
		s.log = append(s.log, tx.log...)
	}
	return nil
}

func (s *MemoryStore) record(op memoryOp) {
	if s.txView {
		s.log = append(s.log, op)
	}
}

// Len returns the number of stored tuples.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tuples)
}

func containsRelation(rels []Relation, r Relation) bool {
	for _, x := range rels {
		if x == r {
			return true
		}
	}
	return false
}

func sortTuples(tuples []Tuple) {
	sort.Slice(tuples, func(i, j int) bool {
		return tuples[i].String() < tuples[j].String()
	})
}

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)
