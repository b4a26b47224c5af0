package kgorm

import (
	"time"

	"github.com/flowstudio/authz/core/rebac"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// gormRelationTuple stores relationship tuples in the database.
// idx_subject serves reverse lookups (FindBySubject), idx_object serves
// FindByObject and cascade deletes. The primary key is the four tuple
// columns, so duplicate grants collide whatever characters the ids contain.
type gormRelationTuple struct {
	Namespace string    `gorm:"primaryKey;size:64;index:idx_subject,priority:2;index:idx_object,priority:1"`
	ObjectID  string    `gorm:"primaryKey;size:255;index:idx_object,priority:2"`
	Relation  string    `gorm:"primaryKey;size:64;index:idx_subject,priority:3"`
	SubjectID string    `gorm:"primaryKey;size:255;index:idx_subject,priority:1"`
	GrantedBy string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (gormRelationTuple) TableName() string {
	return "rebac_relation_tuples"
}

// toCoreRelationTuple converts a GORM model to the core domain type.
func toCoreRelationTuple(gt *gormRelationTuple) rebac.Tuple {
	return rebac.Tuple{
		TupleKey: rebac.TupleKey{
			Namespace: rebac.Namespace(gt.Namespace),
			ObjectID:  gt.ObjectID,
			Relation:  rebac.Relation(gt.Relation),
			SubjectID: gt.SubjectID,
		},
		GrantedBy: gt.GrantedBy,
		CreatedAt: gt.CreatedAt,
	}
}

// fromCoreRelationTuple converts a core domain type to a GORM model.
func fromCoreRelationTuple(t rebac.Tuple) *gormRelationTuple {
	return &gormRelationTuple{
		SubjectID: t.SubjectID,
		Namespace: string(t.Namespace),
		ObjectID:  t.ObjectID,
		Relation:  string(t.Relation),
		GrantedBy: t.GrantedBy,
		CreatedAt: t.CreatedAt,
	}
}

// tupleColumns is the conflict target and lookup key of a tuple row.
var tupleColumns = []clause.Column{
	{Name: "namespace"}, {Name: "object_id"}, {Name: "relation"}, {Name: "subject_id"},
}

func tupleWhere(db *gorm.DB, key rebac.TupleKey) *gorm.DB {
	return db.Where("namespace = ? AND object_id = ? AND relation = ? AND subject_id = ?",
		string(key.Namespace), key.ObjectID, string(key.Relation), key.SubjectID)
}
