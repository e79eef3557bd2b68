// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package redisstore implements the recovery record store on Redis, for
// deployments that already run Redis and prefer native TTL expiry over the
// SQLite table.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/lunahealth/recovery/internal/models"
	"github.com/lunahealth/recovery/internal/repository"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "recovery:"

// deleteScript removes the record only when it still carries the expected
// ID, so of two concurrent deletes exactly one observes a removal.
var deleteScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'id') == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// verifyScript flips the verified flag only when the record still carries
// the expected ID.
var verifyScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'id') == ARGV[1] then
	redis.call('HSET', KEYS[1], 'verified', '1')
	return 1
end
return 0
`)

// Store keeps one hash per in-flight recovery attempt, keyed by normalized
// email. Keys expire retention past the record expiry so the password
// commit grace window stays usable.
type Store struct {
	client    *redis.Client
	retention time.Duration
}

// New creates a Redis-backed recovery store. retention is added to each
// key's TTL beyond the record expiry.
func New(client *redis.Client, retention time.Duration) *Store {
	return &Store{client: client, retention: retention}
}

func key(email string) string {
	return keyPrefix + email
}

// GetRecoveryRecord retrieves the live recovery record for an email address.
func (s *Store) GetRecoveryRecord(ctx context.Context, email string) (*models.RecoveryRecord, error) {
	fields, err := s.client.HGetAll(ctx, key(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	if len(fields) == 0 {
		return nil, repository.ErrNotFound
	}
	return decode(email, fields)
}

// ReplaceRecoveryRecord stores a recovery record, superseding any prior
// record for the same email.
func (s *Store) ReplaceRecoveryRecord(ctx context.Context, record *models.RecoveryRecord) error {
	k := key(record.Email)
	ttl := time.Until(record.ExpiresAt) + s.retention

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			"id", record.ID,
			"credential", record.Credential,
			"verified", boolField(record.Verified),
			"expires_at", record.ExpiresAt.UTC().Format(time.RFC3339Nano),
			"created_at", record.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.PExpire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis replace: %w", err)
	}
	return nil
}

// MarkRecoveryVerified flips the verified flag for a record.
func (s *Store) MarkRecoveryVerified(ctx context.Context, email, id string) error {
	n, err := verifyScript.Run(ctx, s.client, []string{key(email)}, id).Int()
	if err != nil {
		return fmt.Errorf("redis verify: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteRecoveryRecord deletes a record by email and ID. The returned bool
// reports whether this call removed the key.
func (s *Store) DeleteRecoveryRecord(ctx context.Context, email, id string) (bool, error) {
	n, err := deleteScript.Run(ctx, s.client, []string{key(email)}, id).Int()
	if err != nil {
		return false, fmt.Errorf("redis delete: %w", err)
	}
	return n > 0, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func decode(email string, fields map[string]string) (*models.RecoveryRecord, error) {
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("redis decode expires_at: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("redis decode created_at: %w", err)
	}
	verified, err := strconv.ParseBool(fields["verified"])
	if err != nil {
		return nil, fmt.Errorf("redis decode verified: %w", err)
	}

	return &models.RecoveryRecord{
		ID:         fields["id"],
		Email:      email,
		Credential: fields["credential"],
		Verified:   verified,
		ExpiresAt:  expiresAt,
		CreatedAt:  createdAt,
	}, nil
}
