package rebac

import (
	"context"
	"time"

	"github.com/flowstudio/authz/core/audit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Notifier fans tuple changes out to other replicas so they can drop cached
// decisions for the object.
type Notifier interface {
	NotifyChange(ctx context.Context, ns Namespace, objectID string) error
}

// Metrics receives permission engine measurements.
type Metrics interface {
	RecordCheck(ctx context.Context, ns Namespace, rel Relation, allowed bool, d time.Duration)
	RecordWrite(ctx context.Context, op string, ns Namespace, rel Relation, success bool)
	RecordCache(ctx context.Context, hit bool)
}

// Manager is the entry point route handlers use: permission checks and
// guards, grant/revoke with delegation checks, and reverse lookups.
type Manager struct {
	store    Store
	checker  *Checker
	schemas  []Schema
	cache    Cache
	log      *zap.Logger
	audit    *audit.Logger
	notifier Notifier
	metrics  Metrics
	tracer   trace.Tracer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSchema adds a namespace schema. Without any, DefaultSchemas is used.
func WithSchema(schema Schema) ManagerOption {
	return func(m *Manager) {
		m.schemas = append(m.schemas, schema)
	}
}

// WithDecisionCache enables the check side-cache.
func WithDecisionCache(cache Cache) ManagerOption {
	return func(m *Manager) {
		m.cache = cache
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithAudit records grants, revocations and denials.
func WithAudit(l *audit.Logger) ManagerOption {
	return func(m *Manager) {
		m.audit = l
	}
}

// WithNotifier publishes tuple changes to other replicas.
func WithNotifier(n Notifier) ManagerOption {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithMetrics records check and write measurements.
func WithMetrics(metrics Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer used for check and write spans.
func WithTracer(t trace.Tracer) ManagerOption {
	return func(m *Manager) {
		m.tracer = t
	}
}

// NewManager creates a new ReBAC manager.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store: store,
		log:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if len(m.schemas) == 0 {
		m.schemas = DefaultSchemas()
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer("github.com/flowstudio/authz/core/rebac")
	}

	checkerOpts := []CheckerOption{WithSchemas(m.schemas)}
	if m.cache != nil {
		checkerOpts = append(checkerOpts, WithCache(m.cache), WithCacheObserver(func(ctx context.Context, hit bool) {
			if m.metrics != nil {
				m.metrics.RecordCache(ctx, hit)
			}
		}))
	}
	m.checker = NewChecker(store, checkerOpts...)

	return m
}

// Store returns the underlying tuple store.
func (m *Manager) Store() Store {
	return m.store
}

// Checker returns the relation resolver.
func (m *Manager) Checker() *Checker {
	return m.checker
}

// CheckPermission reports whether subject holds at least rel on the object.
// Denial is (false, nil). An error means the store failed; callers must treat
// it as a denial.
func (m *Manager) CheckPermission(ctx context.Context, subjectID string, ns Namespace, objectID string, rel Relation) (bool, error) {
	if !ns.Valid() {
		return false, Validationf("unknown namespace %q", ns)
	}
	if !rel.Valid() {
		return false, Validationf("unknown relation %q", rel)
	}
	if subjectID == "" || objectID == "" {
		return false, nil
	}

	ctx, span := m.tracer.Start(ctx, "rebac.check", trace.WithAttributes(
		attribute.String("rebac.namespace", string(ns)),
		attribute.String("rebac.object_id", objectID),
		attribute.String("rebac.relation", string(rel)),
		attribute.String("rebac.subject_id", subjectID),
	))
	defer span.End()

	start := time.Now()
	allowed, err := m.checker.Check(ctx, subjectID, ns, objectID, rel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.log.Error("permission check failed",
			zap.String("subject", subjectID),
			zap.String("object", string(ns)+":"+objectID),
			zap.String("relation", string(rel)),
			zap.Error(err),
		)
		return false, err
	}

	span.SetAttributes(attribute.Bool("rebac.allowed", allowed))
	if m.metrics != nil {
		m.metrics.RecordCheck(ctx, ns, rel, allowed, time.Since(start))
	}
	return allowed, nil
}

// RequireRelation returns nil if the subject holds rel on the object,
// ErrUnauthorized for an empty subject, ErrForbidden on denial, or the
// storage error that prevented the check.
func (m *Manager) RequireRelation(ctx context.Context, subjectID string, ns Namespace, objectID string, rel Relation) error {
	if subjectID == "" {
		return Unauthorized()
	}

	allowed, err := m.CheckPermission(ctx, subjectID, ns, objectID, rel)
	if err != nil {
		return err
	}
	if !allowed {
		m.log.Debug("permission denied",
			zap.String("subject", subjectID),
			zap.String("object", string(ns)+":"+objectID),
			zap.String("relation", string(rel)),
		)
		return Forbiddenf("%s access to %s %q denied", rel, ns, objectID)
	}
	return nil
}

// RequireOwner requires the owner relation.
func (m *Manager) RequireOwner(ctx context.Context, subjectID string, ns Namespace, objectID string) error {
	return m.RequireRelation(ctx, subjectID, ns, objectID, RelationOwner)
}

// RequireEditor requires the editor relation or stronger.
func (m *Manager) RequireEditor(ctx context.Context, subjectID string, ns Namespace, objectID string) error {
	return m.RequireRelation(ctx, subjectID, ns, objectID, RelationEditor)
}

// RequireViewer requires the viewer relation or stronger.
func (m *Manager) RequireViewer(ctx context.Context, subjectID string, ns Namespace, objectID string) error {
	return m.RequireRelation(ctx, subjectID, ns, objectID, RelationViewer)
}

// IsAdmin reports whether the subject holds system:global#admin.
func (m *Manager) IsAdmin(ctx context.Context, subjectID string) (bool, error) {
	return m.CheckPermission(ctx, subjectID, NamespaceSystem, SystemObjectID, RelationAdmin)
}

// RequireAdmin is the dedicated admin guard. Admin is never folded into
// CheckPermission; handlers wanting an admin bypass call this explicitly.
func (m *Manager) RequireAdmin(ctx context.Context, subjectID string) error {
	if subjectID == "" {
		return Unauthorized()
	}
	ok, err := m.IsAdmin(ctx, subjectID)
	if err != nil {
		return err
	}
	if !ok {
		return Forbiddenf("administrator access required")
	}
	return nil
}

// afterWrite invalidates cached decisions for the object and tells other
// replicas. The write has already committed, so failures here are logged and
// never reported to the caller: a decision the cache could not drop expires
// with its TTL, and a cache that cannot be reached is not consulted.
func (m *Manager) afterWrite(ctx context.Context, ns Namespace, objectID string) {
	if err := m.checker.Invalidate(ctx, ns, objectID); err != nil {
		m.log.Error("cache invalidation failed",
			zap.String("object", string(ns)+":"+objectID),
			zap.Error(err),
		)
	}
	if m.notifier != nil {
		if err := m.notifier.NotifyChange(ctx, ns, objectID); err != nil {
			m.log.Warn("change notification failed",
				zap.String("object", string(ns)+":"+objectID),
				zap.Error(err),
			)
		}
	}
}

// InvalidateObject drops local cached decisions for an object. Used by
// change subscribers reacting to writes on other replicas.
func (m *Manager) InvalidateObject(ctx context.Context, ns Namespace, objectID string) error {
	return m.checker.Invalidate(ctx, ns, objectID)
}

func (m *Manager) record(ctx context.Context, b *audit.EventBuilder) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, b.Build()); err != nil {
		m.log.Warn("audit log failed", zap.Error(err))
	}
}

func (m *Manager) recordWrite(ctx context.Context, op string, ns Namespace, rel Relation, success bool) {
	if m.metrics != nil {
		m.metrics.RecordWrite(ctx, op, ns, rel, success)
	}
}
