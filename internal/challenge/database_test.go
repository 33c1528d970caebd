package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/nridwan/elysian-realm-sub000/internal/models"
	"gorm.io/gorm"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestDBStore(t *testing.T) (*DBStore, *gorm.DB, *fakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.AutoMigrate(&models.Challenge{}); err != nil {
		t.Fatalf("failed automigrating challenge table: %v", err)
	}

	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewDBStore(db)
	store.now = clock.Now
	return store, db, clock
}

func TestDBStore(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and returns a record", func(t *testing.T) {
		store, _, _ := newTestDBStore(t)

		rec := Record{Challenge: "abc", Auxiliary: "Laptop", Session: []byte(`{"challenge":"abc"}`)}
		if err := store.Put(ctx, NamespaceRegistration, "user-1", rec, TTL); err != nil {
			t.Fatalf("put failed: %v", err)
		}

		got, err := store.Get(ctx, NamespaceRegistration, "user-1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Challenge != "abc" || got.Auxiliary != "Laptop" || string(got.Session) != `{"challenge":"abc"}` {
			t.Fatalf("unexpected record: %+v", got)
		}
	})

	t.Run("expired records are not returned", func(t *testing.T) {
		store, _, clock := newTestDBStore(t)

		for _, ns := range []Namespace{NamespaceRegistration, NamespaceAuthentication, NamespacePasswordless} {
			if err := store.Put(ctx, ns, "key", Record{Challenge: "abc"}, TTL); err != nil {
				t.Fatalf("put %s failed: %v", ns, err)
			}
		}

		clock.Advance(TTL - time.Second)
		if _, err := store.Get(ctx, NamespacePasswordless, "key"); err != nil {
			t.Fatalf("expected record before ttl, got %v", err)
		}

		clock.Advance(2 * time.Second)
		for _, ns := range []Namespace{NamespaceRegistration, NamespaceAuthentication, NamespacePasswordless} {
			if _, err := store.Get(ctx, ns, "key"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound for %s after ttl, got %v", ns, err)
			}
		}
	})

	t.Run("later put replaces the row", func(t *testing.T) {
		store, db, _ := newTestDBStore(t)

		_ = store.Put(ctx, NamespaceRegistration, "user-1", Record{Challenge: "first"}, TTL)
		_ = store.Put(ctx, NamespaceRegistration, "user-1", Record{Challenge: "second"}, TTL)

		var count int64
		db.Model(&models.Challenge{}).Count(&count)
		if count != 1 {
			t.Fatalf("expected one row per key, got %d", count)
		}

		got, err := store.Get(ctx, NamespaceRegistration, "user-1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Challenge != "second" {
			t.Fatalf("expected second challenge, got %s", got.Challenge)
		}
	})

	t.Run("delete removes the record", func(t *testing.T) {
		store, _, _ := newTestDBStore(t)

		_ = store.Put(ctx, NamespaceAuthentication, "user-1", Record{Challenge: "abc"}, TTL)
		if err := store.Delete(ctx, NamespaceAuthentication, "user-1"); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := store.Get(ctx, NamespaceAuthentication, "user-1"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after delete, got %v", err)
		}
	})

	t.Run("purge removes only expired rows", func(t *testing.T) {
		store, db, clock := newTestDBStore(t)

		_ = store.Put(ctx, NamespacePasswordless, "old", Record{Challenge: "old"}, TTL)
		clock.Advance(TTL + time.Minute)
		_ = store.Put(ctx, NamespacePasswordless, "fresh", Record{Challenge: "fresh"}, TTL)

		purged, err := store.PurgeExpired(ctx)
		if err != nil {
			t.Fatalf("purge failed: %v", err)
		}
		if purged != 1 {
			t.Fatalf("expected 1 purged row, got %d", purged)
		}

		var remaining []models.Challenge
		db.Find(&remaining)
		if len(remaining) != 1 || remaining[0].SubjectKey != "fresh" {
			t.Fatalf("unexpected remaining rows: %+v", remaining)
		}
	})

	t.Run("rejects empty subject keys", func(t *testing.T) {
		store, _, _ := newTestDBStore(t)

		if err := store.Delete(ctx, NamespaceRegistration, ""); !errors.Is(err, ErrEmptyKey) {
			t.Fatalf("expected ErrEmptyKey, got %v", err)
		}
	})
}
