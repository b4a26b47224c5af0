package kgorm

import (
	"context"

	"github.com/flowstudio/authz/core/rebac"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReBACRepository implements rebac.Store using GORM.
// It provides persistent storage for relationship tuples.
type ReBACRepository struct {
	db *gorm.DB
}

// NewReBACRepository creates a new ReBAC repository.
func NewReBACRepository(db *gorm.DB) *ReBACRepository {
	return &ReBACRepository{db: db}
}

// DB returns the handle the repository writes through. Inside Transaction
// this is the transaction itself.
func (r *ReBACRepository) DB() *gorm.DB {
	return r.db
}

// AutoMigrate creates the necessary tables for ReBAC.
func (r *ReBACRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&gormRelationTuple{})
}

// WriteTuple inserts a tuple; an existing key is left untouched.
func (r *ReBACRepository) WriteTuple(ctx context.Context, tuple rebac.Tuple) error {
	gt := fromCoreRelationTuple(tuple)

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   tupleColumns,
		DoNothing: true,
	}).Create(gt).Error
}

// DeleteTuple removes a specific relationship tuple.
func (r *ReBACRepository) DeleteTuple(ctx context.Context, key rebac.TupleKey) error {
	return tupleWhere(r.db.WithContext(ctx), key).Delete(&gormRelationTuple{}).Error
}

// DeleteObjectTuples removes every tuple of an object.
func (r *ReBACRepository) DeleteObjectTuples(ctx context.Context, ns rebac.Namespace, objectID string) error {
	return r.db.WithContext(ctx).
		Where("namespace = ? AND object_id = ?", string(ns), objectID).
		Delete(&gormRelationTuple{}).Error
}

// FindBySubject returns the subject's tuples in a namespace, optionally
// restricted to a set of relations.
func (r *ReBACRepository) FindBySubject(ctx context.Context, subjectID string, ns rebac.Namespace, relations ...rebac.Relation) ([]rebac.Tuple, error) {
	query := r.db.WithContext(ctx).
		Where("subject_id = ? AND namespace = ?", subjectID, string(ns))
	if len(relations) > 0 {
		names := make([]string, len(relations))
		for i, rel := range relations {
			names[i] = string(rel)
		}
		query = query.Where("relation IN ?", names)
	}
	return r.find(query.Order("object_id").Order("relation"))
}

// FindByObject returns every tuple of an object.
func (r *ReBACRepository) FindByObject(ctx context.Context, ns rebac.Namespace, objectID string) ([]rebac.Tuple, error) {
	query := r.db.WithContext(ctx).
		Where("namespace = ? AND object_id = ?", string(ns), objectID).
		Order("subject_id").Order("relation")
	return r.find(query)
}

func (r *ReBACRepository) find(query *gorm.DB) ([]rebac.Tuple, error) {
	var tuples []gormRelationTuple
	if err := query.Find(&tuples).Error; err != nil {
		return nil, err
	}

	result := make([]rebac.Tuple, len(tuples))
	for i := range tuples {
		result[i] = toCoreRelationTuple(&tuples[i])
	}
	return result, nil
}

// TupleExists checks if a specific tuple exists.
func (r *ReBACRepository) TupleExists(ctx context.Context, key rebac.TupleKey) (bool, error) {
	var count int64
	if err := tupleWhere(r.db.WithContext(ctx).Model(&gormRelationTuple{}), key).Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

// Transaction runs fn inside a database transaction. The tx store passed to
// fn shares the transaction, and so does any repository built from tx.DB().
func (r *ReBACRepository) Transaction(ctx context.Context, fn func(tx rebac.Store) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ReBACRepository{db: tx})
	})
}

// Compile-time interface check
var _ rebac.Store = (*ReBACRepository)(nil)
