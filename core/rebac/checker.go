package rebac

import (
	"context"
)

// Checker answers "does subject S hold at least relation R on object O" by
// expanding R through the namespace's implication graph and looking up each
// satisfying relation in the store.
type Checker struct {
	store   Store
	schemas map[Namespace]Schema
	cache   Cache
	onCache func(ctx context.Context, hit bool)
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithSchemas sets the authorization schemas.
func WithSchemas(schemas []Schema) CheckerOption {
	return func(c *Checker) {
		for _, s := range schemas {
			c.schemas[s.Namespace] = s
		}
	}
}

// WithCache enables the decision side-cache.
func WithCache(cache Cache) CheckerOption {
	return func(c *Checker) {
		c.cache = cache
	}
}

// WithCacheObserver registers a callback invoked on every cache lookup.
func WithCacheObserver(fn func(ctx context.Context, hit bool)) CheckerOption {
	return func(c *Checker) {
		c.onCache = fn
	}
}

// NewChecker creates a new permission checker. Without WithSchemas the
// default FlowStudio schemas are used.
func NewChecker(store Store, opts ...CheckerOption) *Checker {
	c := &Checker{
		store:   store,
		schemas: make(map[Namespace]Schema),
	}

	for _, opt := range opts {
		opt(c)
	}

	if len(c.schemas) == 0 {
		WithSchemas(DefaultSchemas())(c)
	}

	return c
}

// Schema returns the schema of a namespace. Namespaces without a schema get an
// empty one, under which every relation is only satisfied by itself.
func (c *Checker) Schema(ns Namespace) Schema {
	if s, ok := c.schemas[ns]; ok {
		return s
	}
	return NewSchema(ns, nil)
}

// Satisfying returns the implication closure of required within ns.
func (c *Checker) Satisfying(ns Namespace, required Relation) []Relation {
	return c.Schema(ns).Satisfying(required)
}

// Check returns true if the subject holds required, directly or through an
// implying relation, on the object. Errors are always storage failures and
// must be treated as a denial by callers.
func (c *Checker) Check(ctx context.Context, subjectID string, ns Namespace, objectID string, required Relation) (bool, error) {
	key := TupleKey{Namespace: ns, ObjectID: objectID, Relation: required, SubjectID: subjectID}

	if c.cache == nil {
		return c.resolve(ctx, key)
	}

	// Cache failures degrade to an uncached check.
	gen, err := c.cache.Generation(ctx, ns, objectID)
	if err != nil {
		return c.resolve(ctx, key)
	}
	ck := CacheKey{TupleKey: key, Generation: gen}
	if allowed, found, err := c.cache.Get(ctx, ck); err == nil && found {
		c.observe(ctx, true)
		return allowed, nil
	}
	c.observe(ctx, false)

	allowed, err := c.resolve(ctx, key)
	if err != nil {
		return false, err
	}
	_ = c.cache.Set(ctx, ck, allowed)
	return allowed, nil
}

func (c *Checker) resolve(ctx context.Context, key TupleKey) (bool, error) {
	for _, rel := range c.Satisfying(key.Namespace, key.Relation) {
		probe := key
		probe.Relation = rel
		found, err := c.store.TupleExists(ctx, probe)
		if err != nil {
			return false, StorageError("check "+probe.String(), err)
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Invalidate drops cached decisions for an object.
func (c *Checker) Invalidate(ctx context.Context, ns Namespace, objectID string) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.InvalidateObject(ctx, ns, objectID)
}

func (c *Checker) observe(ctx context.Context, hit bool) {
	if c.onCache != nil {
		c.onCache(ctx, hit)
	}
}
