package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	next int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("record-%d", g.next), nil
}

var testClockStart = time.Date(2025, 2, 14, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:parking_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}, &Setting{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return testClockStart },
		IDProvider: &staticIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct ledger service: %v", err)
	}

	return service, db
}

func mustCreateEntry(t *testing.T, service *Service, request EntryRequest) Record {
	t.Helper()
	record, err := service.CreateEntry(context.Background(), request)
	if err != nil {
		t.Fatalf("unexpected create entry error: %v", err)
	}
	return record
}
