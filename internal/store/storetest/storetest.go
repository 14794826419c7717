// Package storetest provides an in-memory GORM handle for package tests
// across Sardis, mirroring the teacher's
// services/otc-gateway/server.setupTestDB helper.
package storetest

import (
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sardis/internal/store"
)

// NewDB opens a fresh, uniquely-named in-memory sqlite database, runs
// store.AutoMigrate against it, and returns the handle. Each call gets
// its own database so tests never interfere with one another.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("storetest: open sqlite: %v", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		t.Fatalf("storetest: migrate: %v", err)
	}
	return db
}
