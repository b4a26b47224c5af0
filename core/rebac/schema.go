package rebac

import "sort"

// Schema is the authorization model of one namespace: which relations exist
// and which relations each one implies.
//
// Implies is a directed graph. An edge owner -> editor means that holding
// owner also satisfies a check for editor. Implication is transitive.
type Schema struct {
	Namespace Namespace
	Implies   map[Relation][]Relation

	// satisfying[r] is the set of relations that satisfy a check for r,
	// ordered strongest first. Computed once by NewSchema.
	satisfying map[Relation][]Relation
}

// NewSchema builds a schema and precomputes the implication closure for every
// relation mentioned in the graph.
func NewSchema(ns Namespace, implies map[Relation][]Relation) Schema {
	s := Schema{
		Namespace:  ns,
		Implies:    implies,
		satisfying: make(map[Relation][]Relation),
	}

	nodes := make(map[Relation]bool)
	for from, tos := range implies {
		nodes[from] = true
		for _, to := range tos {
			nodes[to] = true
		}
	}
	for r := range nodes {
		s.satisfying[r] = s.closure(r)
	}
	return s
}

// closure walks the graph backwards from required, collecting every relation
// that reaches it. Cycles are tolerated.
func (s Schema) closure(required Relation) []Relation {
	reverse := make(map[Relation][]Relation)
	for from, tos := range s.Implies {
		for _, to := range tos {
			reverse[to] = append(reverse[to], from)
		}
	}

	visited := map[Relation]bool{required: true}
	queue := []Relation{required}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		for _, stronger := range reverse[r] {
			if !visited[stronger] {
				visited[stronger] = true
				queue = append(queue, stronger)
			}
		}
	}

	out := make([]Relation, 0, len(visited))
	for r := range visited {
		out = append(out, r)
	}
	sortStrongestFirst(out)
	return out
}

// Satisfying returns the relations that satisfy a check for required,
// strongest first. A relation absent from the graph is only satisfied by itself.
func (s Schema) Satisfying(required Relation) []Relation {
	if rels, ok := s.satisfying[required]; ok {
		return rels
	}
	return []Relation{required}
}

// Defines reports whether the relation exists in this namespace.
func (s Schema) Defines(r Relation) bool {
	_, ok := s.satisfying[r]
	return ok
}

// Satisfies reports whether holding held is enough for a check on required.
func (s Schema) Satisfies(held, required Relation) bool {
	for _, r := range s.Satisfying(required) {
		if r == held {
			return true
		}
	}
	return false
}

func sortStrongestFirst(rels []Relation) {
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].Rank() != rels[j].Rank() {
			return rels[i].Rank() > rels[j].Rank()
		}
		return rels[i] < rels[j]
	})
}

// DefaultSchemas is the FlowStudio authorization model.
//
//	image_project, workflow_session: owner -> editor -> viewer
//	system: admin (no implication)
func DefaultSchemas() []Schema {
	chain := map[Relation][]Relation{
		RelationOwner:  {RelationEditor},
		RelationEditor: {RelationViewer},
	}
	return []Schema{
		NewSchema(NamespaceImageProject, chain),
		NewSchema(NamespaceWorkflowSession, chain),
		NewSchema(NamespaceSystem, map[Relation][]Relation{
			RelationAdmin: nil,
		}),
	}
}
