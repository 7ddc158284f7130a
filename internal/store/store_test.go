package store

import (
	"context"
	"errors"
	"testing"

	"github.com/nexguard/nexbot/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Document{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// implementations runs fn against every Store implementation.
func implementations(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("gorm", func(t *testing.T) { fn(t, NewGorm(testDB(t))) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
}

func TestStore_GetMissing(t *testing.T) {
	implementations(t, func(t *testing.T, s Store) {
		_, err := s.Get(context.Background(), Sessions, "nobody")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestStore_PutGetOverwrite(t *testing.T) {
	implementations(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Put(ctx, Orders, "alice", []byte(`[1]`)); err != nil {
			t.Fatalf("Put: %v", err)
		}
		if err := s.Put(ctx, Orders, "alice", []byte(`[1,2]`)); err != nil {
			t.Fatalf("Put overwrite: %v", err)
		}
		got, err := s.Get(ctx, Orders, "alice")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != `[1,2]` {
			t.Errorf("Get = %s, want [1,2]", got)
		}
	})
}

func TestStore_CollectionsAreIsolated(t *testing.T) {
	implementations(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Put(ctx, Sessions, "a", []byte(`{}`))
		s.Put(ctx, Messages, "a", []byte(`[]`))
		s.Put(ctx, Messages, "b", []byte(`[]`))

		sessions, err := s.ListAll(ctx, Sessions)
		if err != nil {
			t.Fatalf("ListAll: %v", err)
		}
		if len(sessions) != 1 {
			t.Errorf("len(sessions) = %d, want 1", len(sessions))
		}
		msgs, _ := s.ListAll(ctx, Messages)
		if len(msgs) != 2 {
			t.Errorf("len(messages) = %d, want 2", len(msgs))
		}
	})
}

func TestStore_Delete(t *testing.T) {
	implementations(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Put(ctx, Sessions, "a", []byte(`{}`))
		if err := s.Delete(ctx, Sessions, "a"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, Sessions, "a"); !errors.Is(err, ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound after delete", err)
		}
		if err := s.Delete(ctx, Sessions, "missing"); err != nil {
			t.Errorf("Delete missing: %v", err)
		}
	})
}

func TestCredentialCache(t *testing.T) {
	implementations(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c := NewCredentialCache(s)
		got, err := c.Load(ctx)
		if err != nil || got != "" {
			t.Fatalf("Load empty = %q, %v; want empty, nil", got, err)
		}
		if err := c.Save(ctx, "3x-ui=abc"); err != nil {
			t.Fatalf("Save: %v", err)
		}
		got, _ = c.Load(ctx)
		if got != "3x-ui=abc" {
			t.Errorf("Load = %q, want 3x-ui=abc", got)
		}
	})
}

func TestMemory_FailPuts(t *testing.T) {
	m := NewMemory()
	m.FailPuts = errors.New("disk full")
	if err := m.Put(context.Background(), Orders, "a", nil); err == nil {
		t.Error("expected Put to fail")
	}
}
