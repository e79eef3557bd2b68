// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lunahealth/recovery/internal/redisstore"
	"github.com/lunahealth/recovery/internal/repository"
	"github.com/lunahealth/recovery/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	return redisstore.New(client, 10*time.Minute), mr
}

func TestReplaceAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record := testutil.NewRecoveryRecord("a@x.com", "123456", 5*time.Minute)

	err := store.ReplaceRecoveryRecord(ctx, record)

	require.NoError(t, err)

	got, err := store.GetRecoveryRecord(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, "123456", got.Credential)
	assert.False(t, got.Verified)
	assert.WithinDuration(t, record.ExpiresAt, got.ExpiresAt, time.Second)
}

func TestReplace_SupersedesPrior(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first := testutil.NewRecoveryRecord("a@x.com", "111111", 5*time.Minute)
	second := testutil.NewRecoveryRecord("a@x.com", "222222", 5*time.Minute)

	require.NoError(t, store.ReplaceRecoveryRecord(ctx, first))
	require.NoError(t, store.ReplaceRecoveryRecord(ctx, second))

	got, err := store.GetRecoveryRecord(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, "222222", got.Credential)
}

func TestGet_NotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.GetRecoveryRecord(context.Background(), "nobody@x.com")

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestGet_AfterTTLExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	record := testutil.NewRecoveryRecord("a@x.com", "123456", 5*time.Minute)
	require.NoError(t, store.ReplaceRecoveryRecord(ctx, record))

	// Past expiry plus the retention window the key is gone.
	mr.FastForward(16 * time.Minute)

	_, err := store.GetRecoveryRecord(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMarkRecoveryVerified(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record := testutil.NewRecoveryRecord("a@x.com", "123456", 5*time.Minute)
	require.NoError(t, store.ReplaceRecoveryRecord(ctx, record))

	err := store.MarkRecoveryVerified(ctx, "a@x.com", record.ID)

	require.NoError(t, err)

	got, err := store.GetRecoveryRecord(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, got.Verified)
}

func TestMarkRecoveryVerified_WrongID(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record := testutil.NewRecoveryRecord("a@x.com", "123456", 5*time.Minute)
	require.NoError(t, store.ReplaceRecoveryRecord(ctx, record))

	err := store.MarkRecoveryVerified(ctx, "a@x.com", "not-the-id")

	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDeleteRecoveryRecord(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	record := testutil.NewRecoveryRecord("a@x.com", "123456", 5*time.Minute)
	require.NoError(t, store.ReplaceRecoveryRecord(ctx, record))

	deleted, err := store.DeleteRecoveryRecord(ctx, "a@x.com", record.ID)

	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.DeleteRecoveryRecord(ctx, "a@x.com", record.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
