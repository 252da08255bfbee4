package ops

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hpungsan/tcap/internal/bookmark"
	"github.com/hpungsan/tcap/internal/config"
	"github.com/hpungsan/tcap/internal/db"
	"github.com/hpungsan/tcap/internal/logging"
	"github.com/hpungsan/tcap/internal/metrics"
	"github.com/hpungsan/tcap/internal/ownerlock"
)

// testEnv is a sqlite-backed engine with a clock that advances one second per read.
type testEnv struct {
	Deps
	col   *db.Collection
	store *db.CapsuleStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	locks := ownerlock.New()
	col := db.NewCollection(database, locks)
	store := db.NewCapsuleStore(database)

	var mu sync.Mutex
	clock := testTime()

	return &testEnv{
		Deps: Deps{
			Store:   store,
			Live:    col,
			Locks:   locks,
			Config:  config.DefaultConfig(),
			Logger:  logging.Discard(),
			Metrics: metrics.New(prometheus.NewRegistry()),
			Now: func() time.Time {
				mu.Lock()
				defer mu.Unlock()
				clock = clock.Add(time.Second)
				return clock
			},
		},
		col:   col,
		store: store,
	}
}

func testTime() time.Time {
	return time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
}

func (e *testEnv) addOwner(t *testing.T, id string) {
	t.Helper()
	if err := e.col.CreateOwner(context.Background(), db.Owner{ID: id, Name: id, CreatedAt: 1}); err != nil {
		t.Fatalf("CreateOwner failed: %v", err)
	}
}

func (e *testEnv) put(t *testing.T, r bookmark.Record) {
	t.Helper()
	if err := e.col.UpsertRecord(context.Background(), r); err != nil {
		t.Fatalf("UpsertRecord(%s) failed: %v", r.ID, err)
	}
}

func (e *testEnv) live(t *testing.T, owner string) bookmark.Collection {
	t.Helper()
	col, err := e.col.ReadCollection(context.Background(), owner)
	if err != nil {
		t.Fatalf("ReadCollection failed: %v", err)
	}
	return col
}

func (e *testEnv) snapshot(t *testing.T, owner, title string) string {
	t.Helper()
	out, err := Snapshot(context.Background(), e.Deps, SnapshotInput{
		OwnerID:         owner,
		Title:           title,
		IncludeSettings: true,
	})
	if err != nil {
		t.Fatalf("Snapshot(%q) failed: %v", title, err)
	}
	return out.Capsule.ID
}

func rec(owner, id, title string, visits int) bookmark.Record {
	return bookmark.Record{
		ID:          id,
		OwnerID:     owner,
		Title:       title,
		URL:         "https://example.com/" + id,
		CategoryIDs: []string{},
		TagIDs:      []string{},
		VisitCount:  visits,
		CreatedAt:   100,
		UpdatedAt:   100,
	}
}

// seedAlice creates owner alice with two bookmarks, a category, a tag, and a setting.
func (e *testEnv) seedAlice(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	e.addOwner(t, "alice")
	if err := e.col.UpsertCategory(ctx, bookmark.Category{ID: "c1", OwnerID: "alice", Name: "Dev"}); err != nil {
		t.Fatal(err)
	}
	if err := e.col.UpsertTag(ctx, bookmark.Tag{ID: "t1", OwnerID: "alice", Name: "go"}); err != nil {
		t.Fatal(err)
	}
	if err := e.col.SetSetting(ctx, "alice", "theme", "dark"); err != nil {
		t.Fatal(err)
	}
	r1 := rec("alice", "b1", "Go", 5)
	r1.CategoryIDs = []string{"c1"}
	r1.TagIDs = []string{"t1"}
	r1.Favorite = true
	e.put(t, r1)
	e.put(t, rec("alice", "b2", "Docs", 2))
}
