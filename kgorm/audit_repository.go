package kgorm

import (
	"context"
	"time"

	"github.com/flowstudio/authz/core/audit"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditRepository implements audit.Store using GORM.
type AuditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) SaveEvent(ctx context.Context, event *audit.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	return r.db.WithContext(ctx).Create(fromCoreAuditEvent(event)).Error
}

func (r *AuditRepository) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	query := r.applyFilter(r.db.WithContext(ctx), filter).Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var rows []gormAuditEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]audit.Event, len(rows))
	for i := range rows {
		events[i] = toCoreAuditEvent(&rows[i])
	}
	return events, nil
}

func (r *AuditRepository) Count(ctx context.Context, filter audit.Filter) (int64, error) {
	var n int64
	err := r.applyFilter(r.db.WithContext(ctx).Model(&gormAuditEvent{}), filter).Count(&n).Error
	return n, err
}

func (r *AuditRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", olderThan.UTC()).Delete(&gormAuditEvent{})
	return res.RowsAffected, res.Error
}

func (r *AuditRepository) applyFilter(query *gorm.DB, filter audit.Filter) *gorm.DB {
	if filter.ActorID != "" {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.SubjectID != "" {
		query = query.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.Namespace != "" {
		query = query.Where("namespace = ?", filter.Namespace)
	}
	if filter.ObjectID != "" {
		query = query.Where("object_id = ?", filter.ObjectID)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if !filter.StartTime.IsZero() {
		query = query.Where("created_at >= ?", filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		query = query.Where("created_at <= ?", filter.EndTime.UTC())
	}
	return query
}

var _ audit.Store = (*AuditRepository)(nil)
