package kgorm

import (
	"context"
	"errors"

	"github.com/flowstudio/authz/core/rebac"
	"github.com/flowstudio/authz/core/resource"
	"gorm.io/gorm"
)

// ResourceRepository implements resource.Repository using GORM.
type ResourceRepository struct {
	db *gorm.DB
}

// NewResourceRepository creates a new resource repository.
func NewResourceRepository(db *gorm.DB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

func (r *ResourceRepository) Create(ctx context.Context, res *resource.Resource) error {
	return r.db.WithContext(ctx).Create(fromCoreResource(res)).Error
}

// Get returns (nil, nil) when the resource does not exist.
func (r *ResourceRepository) Get(ctx context.Context, ns rebac.Namespace, id string) (*resource.Resource, error) {
	var row gormResource
	err := r.db.WithContext(ctx).First(&row, "namespace = ? AND id = ?", string(ns), id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toCoreResource(&row), nil
}

func (r *ResourceRepository) Update(ctx context.Context, res *resource.Resource) error {
	return r.db.WithContext(ctx).Model(&gormResource{}).
		Where("namespace = ? AND id = ?", string(res.Namespace), res.ID).
		Updates(map[string]any{"name": res.Name, "updated_at": res.UpdatedAt}).Error
}

func (r *ResourceRepository) Delete(ctx context.Context, ns rebac.Namespace, id string) error {
	return r.db.WithContext(ctx).Delete(&gormResource{}, "namespace = ? AND id = ?", string(ns), id).Error
}

func (r *ResourceRepository) List(ctx context.Context, ns rebac.Namespace, ids []string) ([]resource.Resource, error) {
	var rows []gormResource
	err := r.db.WithContext(ctx).
		Where("namespace = ? AND id IN ?", string(ns), ids).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]resource.Resource, len(rows))
	for i := range rows {
		out[i] = *toCoreResource(&rows[i])
	}
	return out, nil
}

// WithTx binds the repository to the transaction of a kgorm tuple store.
// Other stores get r back unchanged.
func (r *ResourceRepository) WithTx(tx rebac.Store) resource.Repository {
	if repo, ok := tx.(*ReBACRepository); ok {
		return &ResourceRepository{db: repo.DB()}
	}
	return r
}

var _ resource.Repository = (*ResourceRepository)(nil)
