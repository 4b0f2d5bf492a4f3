package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/imprisonedmind/olarmd/internal/infrastructure/database"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "session.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(context.Background(), db.DB)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	return store
}

func TestSQLiteStore_LoadEmpty(t *testing.T) {
	store := testStore(t)

	sess, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !sess.IsZero() {
		t.Errorf("Load() on empty store = %+v, want zero session", sess)
	}
}

func TestSQLiteStore_SaveLoadRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	want := Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
		UserIndex:    7,
		UserID:       "user-abc",
	}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestSQLiteStore_SaveOverwrites(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	first := Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour),
		UserIndex:    7,
		UserID:       "user-abc",
	}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Clearing persists an all-empty record, not a deleted row with the
	// old tokens still readable.
	if err := store.Save(ctx, Session{}); err != nil {
		t.Fatalf("Save(cleared) error = %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.IsZero() {
		t.Errorf("Load() after clear = %+v, want zero session", got)
	}
}

func TestSession_ValidFor(t *testing.T) {
	now := time.Now()
	margin := 5 * time.Minute

	tests := []struct {
		name string
		sess Session
		want bool
	}{
		{
			name: "fresh token",
			sess: Session{AccessToken: "a", ExpiresAt: now.Add(time.Hour)},
			want: true,
		},
		{
			name: "inside margin",
			sess: Session{AccessToken: "a", ExpiresAt: now.Add(time.Minute)},
			want: false,
		},
		{
			name: "expired",
			sess: Session{AccessToken: "a", ExpiresAt: now.Add(-time.Minute)},
			want: false,
		},
		{
			name: "no token",
			sess: Session{ExpiresAt: now.Add(time.Hour)},
			want: false,
		},
		{
			name: "zero session",
			sess: Session{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sess.ValidFor(margin, now); got != tt.want {
				t.Errorf("ValidFor() = %v, want %v", got, tt.want)
			}
		})
	}
}
