// Package kgorm persists the permission engine's tuples, audit events and
// resources with GORM over sqlite, postgres or mysql.
package kgorm

import (
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	Register("sqlite", sqlite.Open)
	Register("postgres", postgres.Open)
	Register("mysql", mysql.Open)
}

// Migrate creates or updates every table kgorm owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&gormRelationTuple{},
		&gormAuditEvent{},
		&gormResource{},
	)
}
