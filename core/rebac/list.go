package rebac

import (
	"context"
	"sort"
)

// ListAccessible returns the IDs of objects in ns on which the subject holds
// at least rel. An empty rel means viewer. The result contains exactly the
// objects for which CheckPermission would return true, sorted.
func (m *Manager) ListAccessible(ctx context.Context, subjectID string, ns Namespace, rel Relation) ([]string, error) {
	if rel == "" {
		rel = RelationViewer
	}
	if !ns.Valid() {
		return nil, Validationf("unknown namespace %q", ns)
	}
	if !rel.Valid() {
		return nil, Validationf("unknown relation %q", rel)
	}
	if subjectID == "" {
		return []string{}, nil
	}

	tuples, err := m.store.FindBySubject(ctx, subjectID, ns, m.checker.Satisfying(ns, rel)...)
	if err != nil {
		return nil, StorageError("list accessible", err)
	}

	seen := make(map[string]bool, len(tuples))
	result := make([]string, 0, len(tuples))
	for _, t := range tuples {
		if !seen[t.ObjectID] {
			seen[t.ObjectID] = true
			result = append(result, t.ObjectID)
		}
	}
	sort.Strings(result)
	return result, nil
}

// ListResourceUsers returns the raw (subject, relation) pairs of an object,
// without implication expansion.
func (m *Manager) ListResourceUsers(ctx context.Context, ns Namespace, objectID string) ([]SubjectRelation, error) {
	if !ns.Valid() {
		return nil, Validationf("unknown namespace %q", ns)
	}
	if objectID == "" {
		return nil, Validationf("object id is required")
	}

	tuples, err := m.store.FindByObject(ctx, ns, objectID)
	if err != nil {
		return nil, StorageError("list resource users", err)
	}

	result := make([]SubjectRelation, 0, len(tuples))
	for _, t := range tuples {
		result = append(result, SubjectRelation{
			SubjectID: t.SubjectID,
			Relation:  t.Relation,
			GrantedBy: t.GrantedBy,
			CreatedAt: t.CreatedAt,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Relation.Rank() != result[j].Relation.Rank() {
			return result[i].Relation.Rank() > result[j].Relation.Rank()
		}
		return result[i].SubjectID < result[j].SubjectID
	})
	return result, nil
}

// GetAccessibleWithRelation returns, for every object in ns the subject holds
// any relation on, the strongest relation held. Sorted by object ID.
func (m *Manager) GetAccessibleWithRelation(ctx context.Context, ns Namespace, subjectID string) ([]ObjectRelation, error) {
	if !ns.Valid() {
		return nil, Validationf("unknown namespace %q", ns)
	}
	if subjectID == "" {
		return []ObjectRelation{}, nil
	}

	tuples, err := m.store.FindBySubject(ctx, subjectID, ns)
	if err != nil {
		return nil, StorageError("list accessible with relation", err)
	}

	strongest := make(map[string]Relation, len(tuples))
	for _, t := range tuples {
		current, ok := strongest[t.ObjectID]
		if !ok || t.Relation.Rank() > current.Rank() {
			strongest[t.ObjectID] = t.Relation
		}
	}

	result := make([]ObjectRelation, 0, len(strongest))
	for id, rel := range strongest {
		result = append(result, ObjectRelation{ObjectID: id, Relation: rel})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ObjectID < result[j].ObjectID
	})
	return result, nil
}
