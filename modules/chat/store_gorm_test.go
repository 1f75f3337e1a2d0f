package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
	"github.com/luisnisc/flowpilot-sub000/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates an in-memory SQLite message store.
func setupTestStore(t *testing.T) *GormStore {
	t.Helper()

	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, store Store, projectID string, n int) []domain.Message {
	t.Helper()
	out := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		m := domain.Message{
			ID:        fmt.Sprintf("%s-m%03d", projectID, i),
			ProjectID: projectID,
			Author:    "a@x.com",
			Body:      fmt.Sprintf("message %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, store.Save(context.Background(), &m))
		out = append(out, m)
	}
	return out
}

func TestGormStore_RecentReturnsNewestAscending(t *testing.T) {
	store := setupTestStore(t)
	all := seed(t, store, "p1", 60)
	seed(t, store, "p2", 3)

	got, err := store.Recent(context.Background(), "p1", 50)
	require.NoError(t, err)

	require.Len(t, got, 50)
	assert.Equal(t, all[10].ID, got[0].ID)
	assert.Equal(t, all[59].ID, got[49].ID)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].CreatedAt.Before(got[i].CreatedAt))
		assert.Equal(t, "p1", got[i].ProjectID)
	}
}

func TestGormStore_RecentEmptyProject(t *testing.T) {
	store := setupTestStore(t)

	got, err := store.Recent(context.Background(), "nobody", 50)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGormStore_AfterIsStrict(t *testing.T) {
	store := setupTestStore(t)
	all := seed(t, store, "p1", 5)

	got, err := store.After(context.Background(), "p1", all[2].CreatedAt, 50)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, all[3].ID, got[0].ID)
	assert.Equal(t, all[4].ID, got[1].ID)
}

func TestGormStore_TiesKeepInsertionOrder(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"b", "a", "c"} {
		m := domain.Message{ID: id, ProjectID: "p1", Author: "u", Body: id, CreatedAt: base}
		require.NoError(t, store.Save(ctx, &m))
	}

	got, err := store.Recent(ctx, "p1", 50)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestGormStore_DuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	m := domain.Message{ID: "dup", ProjectID: "p1", Author: "u", Body: "x", CreatedAt: base}

	require.NoError(t, store.Save(ctx, &m))
	assert.Error(t, store.Save(ctx, &m))
}

func TestGormStore_RoundTripsTimestamp(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123000000, time.UTC)
	m := domain.Message{ID: "m1", ProjectID: "p1", Author: "u", Body: "x", CreatedAt: ts}
	require.NoError(t, store.Save(ctx, &m))

	got, err := store.Recent(ctx, "p1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, ts.Equal(got[0].CreatedAt))
	assert.Equal(t, "sqlite", store.Driver())
	assert.NoError(t, store.Ping(ctx))
}
