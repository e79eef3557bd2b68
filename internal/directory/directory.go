// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package directory adapts the platform's user accounts for the recovery
// flow. The recovery service only needs two operations from the account
// system: look up a user by email and commit a new password.
package directory

import (
	"context"
	"fmt"

	"github.com/lunahealth/recovery/internal/models"
	"github.com/lunahealth/recovery/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// bcryptCost is the cost factor for bcrypt hashing.
const bcryptCost = 10

// Directory is the narrow view of the account system the recovery flow
// depends on.
type Directory interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	SetPassword(ctx context.Context, userID int64, newPassword string) error
}

// SQLDirectory serves the directory from the local users table.
type SQLDirectory struct {
	repo *repository.Repository
}

// NewSQL creates a directory backed by the shared repository.
func NewSQL(repo *repository.Repository) *SQLDirectory {
	return &SQLDirectory{repo: repo}
}

// FindByEmail looks up a user by their (normalized) email address.
// Returns repository.ErrNotFound when no account exists.
func (d *SQLDirectory) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.repo.GetUserByEmail(ctx, email)
}

// SetPassword hashes the new password with bcrypt and commits it.
func (d *SQLDirectory) SetPassword(ctx context.Context, userID int64, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	return d.repo.UpdateUserPassword(ctx, userID, string(hash))
}
