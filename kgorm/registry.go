package kgorm

import (
	"fmt"
	"sort"
	"sync"

	"gorm.io/gorm"
)

// DialectorOpener is an alias for a function that returns a gorm.Dialector for a given DSN.
type DialectorOpener = func(string) gorm.Dialector

var (
	registryMu sync.RWMutex
	providers  = make(map[string]DialectorOpener)
)

// Register adds a new database driver to the registry.
func Register(name string, opener DialectorOpener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	providers[name] = opener
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects to the database with the named driver. The caller owns the
// returned handle and closes it at shutdown.
func Open(name, dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	registryMu.RLock()
	opener, ok := providers[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("kgorm: unknown database driver %q", name)
	}
	if cfg == nil {
		cfg = &gorm.Config{}
	}

	db, err := gorm.Open(opener(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("kgorm: open %s: %w", name, err)
	}
	return db, nil
}

// Close releases the connection pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
