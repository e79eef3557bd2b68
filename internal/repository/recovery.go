// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"github.com/lunahealth/recovery/internal/models"
)

// GetRecoveryRecord retrieves the live recovery record for an email address.
func (r *Repository) GetRecoveryRecord(ctx context.Context, email string) (*models.RecoveryRecord, error) {
	var record models.RecoveryRecord
	err := r.db.GetContext(ctx, &record, `SELECT * FROM recovery_records WHERE email = ?`, email)
	if err != nil {
		return nil, wrapError(err)
	}
	return &record, nil
}

// ReplaceRecoveryRecord stores a recovery record, superseding any prior
// record for the same email. The UNIQUE constraint on email enforces the
// one-live-record-per-account invariant.
func (r *Repository) ReplaceRecoveryRecord(ctx context.Context, record *models.RecoveryRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recovery_records (id, email, credential, verified, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(email) DO UPDATE SET
		   id = excluded.id,
		   credential = excluded.credential,
		   verified = excluded.verified,
		   expires_at = excluded.expires_at,
		   created_at = excluded.created_at`,
		record.ID, record.Email, record.Credential, record.Verified, record.ExpiresAt, record.CreatedAt)
	return err
}

// MarkRecoveryVerified flips the verified flag for a record.
func (r *Repository) MarkRecoveryVerified(ctx context.Context, email, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE recovery_records SET verified = 1 WHERE email = ? AND id = ?`, email, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRecoveryRecord deletes a record by email and ID. The returned bool
// reports whether this call removed the row; with two concurrent deletes of
// the same record only one caller observes true, which is what makes the
// final delete the race-losing check during password commitment.
func (r *Repository) DeleteRecoveryRecord(ctx context.Context, email, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM recovery_records WHERE email = ? AND id = ?`, email, id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteExpiredRecoveryRecords removes records whose expiry, extended by the
// given retention window, has passed. Returns the number of deleted rows.
func (r *Repository) DeleteExpiredRecoveryRecords(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM recovery_records WHERE expires_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
