package events

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE events (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			source TEXT NOT NULL,
			device_id TEXT,
			data TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
		CREATE INDEX idx_events_type ON events(type);
		CREATE INDEX idx_events_device_id ON events(device_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestCreate_GeneratesIDAndTimestamp(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	event := &Event{
		Type:   TypeAutomationTriggered,
		Source: "engine",
		Data:   map[string]any{"rule_id": "rule-1"},
	}
	if err := repo.Create(context.Background(), event); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if event.ID == "" {
		t.Error("expected generated ID")
	}
	if event.CreatedAt.IsZero() {
		t.Error("expected generated timestamp")
	}
}

func TestList_FilterByType(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, e := range []*Event{
		{Type: TypeDeviceStateChanged, Source: "bridge", DeviceID: "dev-1"},
		{Type: TypeAutomationTriggered, Source: "engine"},
		{Type: TypeDeviceStateChanged, Source: "bridge", DeviceID: "dev-2"},
	} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{Type: TypeDeviceStateChanged})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("expected total 2, got %d", result.Total)
	}
	for _, e := range result.Events {
		if e.Type != TypeDeviceStateChanged {
			t.Errorf("unexpected event type %q", e.Type)
		}
	}
}

func TestList_FilterByDevice(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	for _, e := range []*Event{
		{Type: TypeDeviceStateChanged, Source: "bridge", DeviceID: "dev-1"},
		{Type: TypeDeviceOffline, Source: "bridge", DeviceID: "dev-1"},
		{Type: TypeDeviceStateChanged, Source: "bridge", DeviceID: "dev-2"},
	} {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("expected total 2, got %d", result.Total)
	}
}

func TestList_Pagination(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := &Event{
			Type:      TypeDeviceStateChanged,
			Source:    "bridge",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	result, err := repo.List(ctx, Filter{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 5 {
		t.Errorf("expected total 5, got %d", result.Total)
	}
	if len(result.Events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result.Events))
	}
	// Most recent first, offset 1 skips the newest
	if !result.Events[0].CreatedAt.Equal(base.Add(3 * time.Minute)) {
		t.Errorf("unexpected ordering: %v", result.Events[0].CreatedAt)
	}
}

func TestList_Since(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		e := &Event{
			Type:      TypeAutomationTriggered,
			Source:    "engine",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	cutoff := base.Add(2 * time.Hour).Format(time.RFC3339)
	result, err := repo.List(ctx, Filter{Since: cutoff})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("expected 2 events since cutoff, got %d", result.Total)
	}
}

func TestList_DataRoundTrip(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	event := &Event{
		Type:     TypeDeviceStateChanged,
		Source:   "bridge",
		DeviceID: "dev-1",
		Data:     map[string]any{"on": true, "brightness": 80.0},
	}
	if err := repo.Create(ctx, event); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(result.Events))
	}
	got := result.Events[0]
	if got.Data["brightness"] != 80.0 {
		t.Errorf("data not round-tripped: %v", got.Data)
	}
	if got.DeviceID != "dev-1" {
		t.Errorf("expected device_id dev-1, got %q", got.DeviceID)
	}
}

func TestList_EmptyResult(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Events == nil {
		t.Error("expected non-nil empty slice")
	}
	if result.Total != 0 {
		t.Errorf("expected total 0, got %d", result.Total)
	}
}

func TestPruneOlderThan(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	ages := []time.Duration{-72 * time.Hour, -48 * time.Hour, -1 * time.Hour}
	for i, age := range ages {
		event := &Event{
			Type:      TypeDeviceStateChanged,
			Source:    "test",
			CreatedAt: now.Add(age),
		}
		if err := repo.Create(ctx, event); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}

	pruned, err := repo.PruneOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PruneOlderThan failed: %v", err)
	}
	if pruned != 2 {
		t.Errorf("expected 2 pruned, got %d", pruned)
	}

	result, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("expected 1 remaining event, got %d", result.Total)
	}
}
