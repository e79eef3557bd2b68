// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lunahealth/recovery/internal/database"
	"github.com/lunahealth/recovery/internal/models"
	"github.com/lunahealth/recovery/internal/repository"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
	"golang.org/x/crypto/bcrypt"
)

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	repo := repository.New(db)
	return db, repo
}

// NewTestUser creates a test user with a bcrypt-hashed password.
func NewTestUser(t *testing.T, repo *repository.Repository, email, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	user, err := repo.CreateUser(context.Background(), email, string(hash))
	require.NoError(t, err)
	return user
}

// NewRecoveryRecord builds an unsaved recovery record with sensible defaults.
func NewRecoveryRecord(email, credential string, ttl time.Duration) *models.RecoveryRecord {
	now := time.Now()
	return &models.RecoveryRecord{
		ID:         uuid.New().String(),
		Email:      email,
		Credential: credential,
		Verified:   false,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
}
