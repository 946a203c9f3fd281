package secrets

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir(), 2)
	require.NoError(t, err)
	return store
}

func TestLocalStoreStoreAndRetrieve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fp, err := store.StoreToken(ctx, "workers-api", "super-secret-value", time.Now().Add(time.Hour), []string{"deploy"}, "production")
	require.NoError(t, err)
	assert.Len(t, fp, 16)

	plaintext, err := store.RetrieveToken(ctx, "workers-api", fp, []string{"deploy"})
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", plaintext)
}

func TestLocalStoreExpiredTokenIsInclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// expires exactly "now" at store time; by the time Retrieve runs, now
	// has definitely reached or passed expires, so this must read as expired.
	fp, err := store.StoreToken(ctx, "d1-api", "value", time.Now(), nil, "production")
	require.NoError(t, err)

	_, err = store.RetrieveToken(ctx, "d1-api", fp, nil)
	assert.Error(t, err)
}

func TestLocalStoreRetrieveMissingPermission(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fp, err := store.StoreToken(ctx, "workers-api", "value", time.Now().Add(time.Hour), []string{"read"}, "staging")
	require.NoError(t, err)

	_, err = store.RetrieveToken(ctx, "workers-api", fp, []string{"write"})
	assert.Error(t, err)
}

func TestLocalStoreEvictsOldestBeyondCap(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	fp1, err := store.StoreToken(ctx, "svc", "one", time.Now().Add(time.Hour), nil, "production")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = store.StoreToken(ctx, "svc", "two", time.Now().Add(time.Hour), nil, "production")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = store.StoreToken(ctx, "svc", "three", time.Now().Add(time.Hour), nil, "production")
	require.NoError(t, err)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = store.RetrieveToken(ctx, "svc", fp1, nil)
	assert.Error(t, err, "oldest token should have been evicted")
}

func TestLocalStoreRotateTokenPreservesCardinality(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	oldFP, err := store.StoreToken(ctx, "svc", "old-value", time.Now().Add(time.Hour), []string{"deploy"}, "production")
	require.NoError(t, err)

	newFP, err := store.RotateToken(ctx, "svc", oldFP, "new-value")
	require.NoError(t, err)
	assert.NotEqual(t, oldFP, newFP)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, oldFP, list[0].RotatedFrom)

	_, err = store.RetrieveToken(ctx, "svc", oldFP, nil)
	assert.Error(t, err)
}

func TestLocalStoreRotateExpiredTokensSweeps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.StoreToken(ctx, "svc", "expiring", time.Now().Add(-time.Minute), nil, "production")
	require.NoError(t, err)
	_, err = store.StoreToken(ctx, "svc2", "fresh", time.Now().Add(time.Hour), nil, "production")
	require.NoError(t, err)

	removed, err := store.RotateExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, "svc2", list[0].Service)
}

func TestLocalStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir, 10)
	require.NoError(t, err)

	fp, err := store.StoreToken(context.Background(), "svc", "value", time.Now().Add(time.Hour), []string{"deploy"}, "production")
	require.NoError(t, err)

	reopened, err := NewLocalStore(dir, 10)
	require.NoError(t, err)

	plaintext, err := reopened.RetrieveToken(context.Background(), "svc", fp, []string{"deploy"})
	require.NoError(t, err)
	assert.Equal(t, "value", plaintext)
}
