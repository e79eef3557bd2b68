// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// RecoveryRecord is one in-flight password recovery attempt. There is at
// most one live record per email address; issuing a new credential replaces
// any predecessor.
type RecoveryRecord struct { //nolint:govet // fieldalignment: readability over optimization
	ID         string    `db:"id" json:"id"`
	Email      string    `db:"email" json:"email"`
	Credential string    `db:"credential" json:"-"` // OTP digits or hex token, never serialized
	Verified   bool      `db:"verified" json:"verified"`
	ExpiresAt  time.Time `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Expired reports whether the record is past its expiry at the given time.
func (r *RecoveryRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}
