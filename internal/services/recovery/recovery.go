// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package recovery implements the passwordless account-recovery pipeline:
// issuing a credential, verifying it, and committing a new password.
//
// Two flow variants share the same record shape and store contract. The OTP
// variant mails a six-digit code, exchanges it for a reset ticket on verify,
// and consumes the ticket on commit. The link variant mails a high-entropy
// token embedded in a URL; validation is an idempotent read and the token is
// consumed directly by the commit.
package recovery

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lunahealth/recovery/internal/config"
	"github.com/lunahealth/recovery/internal/directory"
	"github.com/lunahealth/recovery/internal/models"
	"github.com/lunahealth/recovery/internal/repository"
	"github.com/lunahealth/recovery/internal/services/email"
)

// MinPasswordLength is the minimum accepted length for a new password.
const MinPasswordLength = 6

var (
	// ErrInvalidOrExpired covers every credential failure: missing record,
	// wrong value, or expiry. Collapsing them is deliberate; the caller must
	// not learn which condition failed.
	ErrInvalidOrExpired = errors.New("invalid or expired recovery credential")
	// ErrWeakPassword is returned before any store access when the new
	// password fails the length policy.
	ErrWeakPassword = errors.New("password does not meet the minimum length")
	// ErrAccountNotFound is returned when the account vanished between
	// issuing and committing. Safe to surface at this point: the caller has
	// already proven control of the inbox.
	ErrAccountNotFound = errors.New("account not found")
)

// Store is the persistence contract shared by both flow variants. The
// SQLite repository and the Redis store both satisfy it.
type Store interface {
	GetRecoveryRecord(ctx context.Context, email string) (*models.RecoveryRecord, error)
	ReplaceRecoveryRecord(ctx context.Context, record *models.RecoveryRecord) error
	MarkRecoveryVerified(ctx context.Context, email, id string) error
	DeleteRecoveryRecord(ctx context.Context, email, id string) (bool, error)
}

// Service runs the recovery flows against a store, the user directory and
// an outbound mailer.
type Service struct {
	store  Store
	dir    directory.Directory
	mailer email.Mailer
	cfg    config.RecoveryConfig
}

// NewService creates a new recovery service.
func NewService(store Store, dir directory.Directory, mailer email.Mailer, cfg config.RecoveryConfig) *Service {
	return &Service{
		store:  store,
		dir:    dir,
		mailer: mailer,
		cfg:    cfg,
	}
}

// NormalizeEmail lowercases and trims an email address. All store and
// directory lookups key on the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IssueOTP generates and mails a one-time code. When no account exists for
// the email the call is a silent no-op: no store write, no email, no error.
// The handler returns the same acknowledgment either way.
func (s *Service) IssueOTP(ctx context.Context, emailAddr string) error {
	emailAddr = NormalizeEmail(emailAddr)

	if exists, err := s.accountExists(ctx, emailAddr); err != nil {
		return err
	} else if !exists {
		slog.Info("recovery requested for unknown account", "email", emailAddr)
		return nil
	}

	code, err := GenerateOTP()
	if err != nil {
		return fmt.Errorf("generating otp: %w", err)
	}

	record := newRecord(emailAddr, code, s.cfg.OTPTTL)
	if err := s.store.ReplaceRecoveryRecord(ctx, record); err != nil {
		return fmt.Errorf("storing recovery record: %w", err)
	}

	// A silent acknowledgment without a deliverable message is useless, so
	// a failed send is a hard failure, unlike the existence check above.
	if err := s.mailer.SendOTPCode(ctx, emailAddr, code, s.cfg.OTPTTL); err != nil {
		return fmt.Errorf("sending otp email: %w", err)
	}

	slog.Info("otp issued", "email", emailAddr, "expires_at", record.ExpiresAt)
	return nil
}

// VerifyOTP checks the submitted code and, on success, marks the record
// verified and returns the reset ticket the commit step requires. The code
// itself is not reusable as that ticket.
func (s *Service) VerifyOTP(ctx context.Context, emailAddr, code string) (string, error) {
	emailAddr = NormalizeEmail(emailAddr)

	record, err := s.fetchLive(ctx, emailAddr)
	if err != nil {
		return "", err
	}

	if subtle.ConstantTimeCompare([]byte(record.Credential), []byte(code)) != 1 {
		slog.Debug("otp verification failed", "email", emailAddr, "reason", "mismatch")
		return "", ErrInvalidOrExpired
	}

	if err := s.store.MarkRecoveryVerified(ctx, emailAddr, record.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Superseded or consumed between fetch and update.
			return "", ErrInvalidOrExpired
		}
		return "", fmt.Errorf("marking record verified: %w", err)
	}

	slog.Info("otp verified", "email", emailAddr)
	return record.ID, nil
}

// CommitOTP re-validates the reset ticket and commits the new password.
// The OTP expiry is extended by the configured grace window here, to
// tolerate the delay between the verify and commit steps.
func (s *Service) CommitOTP(ctx context.Context, emailAddr, resetToken, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	emailAddr = NormalizeEmail(emailAddr)

	record, err := s.store.GetRecoveryRecord(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Debug("password commit failed", "email", emailAddr, "reason", "no record")
			return ErrInvalidOrExpired
		}
		return fmt.Errorf("fetching recovery record: %w", err)
	}

	if record.ID != resetToken || !record.Verified {
		slog.Debug("password commit failed", "email", emailAddr, "reason", "unverified or wrong ticket")
		return ErrInvalidOrExpired
	}

	if !time.Now().Before(record.ExpiresAt.Add(s.cfg.CommitGrace)) {
		slog.Debug("password commit failed", "email", emailAddr, "reason", "expired")
		if _, err := s.store.DeleteRecoveryRecord(ctx, emailAddr, record.ID); err != nil {
			slog.Warn("failed to delete expired recovery record", "email", emailAddr, "error", err)
		}
		return ErrInvalidOrExpired
	}

	return s.commitPassword(ctx, emailAddr, record, newPassword)
}

// IssueLink generates and mails a reset link pointing at redirectURL with
// the token and normalized email as query parameters. Unknown accounts are
// a silent no-op, as in IssueOTP.
func (s *Service) IssueLink(ctx context.Context, emailAddr, redirectURL string) error {
	emailAddr = NormalizeEmail(emailAddr)

	if exists, err := s.accountExists(ctx, emailAddr); err != nil {
		return err
	} else if !exists {
		slog.Info("recovery requested for unknown account", "email", emailAddr)
		return nil
	}

	token, err := GenerateToken()
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	record := newRecord(emailAddr, token, s.cfg.LinkTTL)
	if err := s.store.ReplaceRecoveryRecord(ctx, record); err != nil {
		return fmt.Errorf("storing recovery record: %w", err)
	}

	link := fmt.Sprintf("%s?token=%s&email=%s", redirectURL, token, url.QueryEscape(emailAddr))
	if err := s.mailer.SendResetLink(ctx, emailAddr, link, s.cfg.LinkTTL); err != nil {
		return fmt.Errorf("sending reset link email: %w", err)
	}

	slog.Info("reset link issued", "email", emailAddr, "expires_at", record.ExpiresAt)
	return nil
}

// ValidateLink checks a reset token without consuming it. It may be called
// repeatedly, e.g. on page reloads; consumption is deferred to CommitLink.
func (s *Service) ValidateLink(ctx context.Context, emailAddr, token string) error {
	emailAddr = NormalizeEmail(emailAddr)

	record, err := s.fetchLive(ctx, emailAddr)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(record.Credential), []byte(token)) != 1 {
		slog.Debug("link validation failed", "email", emailAddr, "reason", "mismatch")
		return ErrInvalidOrExpired
	}

	return nil
}

// CommitLink re-validates the token and commits the new password. No
// separate verify step exists in this variant, so no grace window applies.
func (s *Service) CommitLink(ctx context.Context, emailAddr, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return ErrWeakPassword
	}

	emailAddr = NormalizeEmail(emailAddr)

	record, err := s.fetchLive(ctx, emailAddr)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(record.Credential), []byte(token)) != 1 {
		slog.Debug("password commit failed", "email", emailAddr, "reason", "mismatch")
		return ErrInvalidOrExpired
	}

	return s.commitPassword(ctx, emailAddr, record, newPassword)
}

// accountExists distinguishes the enumeration-sensitive lookup from real
// infrastructure failures. Only the latter surface as errors.
func (s *Service) accountExists(ctx context.Context, emailAddr string) (bool, error) {
	_, err := s.dir.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("directory lookup: %w", err)
	}
	return true, nil
}

// fetchLive fetches the record for an email and lazily deletes it when
// already expired. Both the missing and the expired case collapse into
// ErrInvalidOrExpired.
func (s *Service) fetchLive(ctx context.Context, emailAddr string) (*models.RecoveryRecord, error) {
	record, err := s.store.GetRecoveryRecord(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Debug("recovery lookup failed", "email", emailAddr, "reason", "no record")
			return nil, ErrInvalidOrExpired
		}
		return nil, fmt.Errorf("fetching recovery record: %w", err)
	}

	if record.Expired(time.Now()) {
		slog.Debug("recovery lookup failed", "email", emailAddr, "reason", "expired")
		if _, err := s.store.DeleteRecoveryRecord(ctx, emailAddr, record.ID); err != nil {
			slog.Warn("failed to delete expired recovery record", "email", emailAddr, "error", err)
		}
		return nil, ErrInvalidOrExpired
	}

	return record, nil
}

// commitPassword performs the final directory update and consumes the
// record. When the delete finds the record already gone, a concurrent
// commit won the race; the password was still changed exactly once by this
// call, so that is reported as success.
func (s *Service) commitPassword(ctx context.Context, emailAddr string, record *models.RecoveryRecord, newPassword string) error {
	user, err := s.dir.FindByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			slog.Warn("account vanished before password commit", "email", emailAddr)
			return ErrAccountNotFound
		}
		return fmt.Errorf("directory lookup: %w", err)
	}

	if err := s.dir.SetPassword(ctx, user.ID, newPassword); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("updating password: %w", err)
	}

	deleted, err := s.store.DeleteRecoveryRecord(ctx, emailAddr, record.ID)
	if err != nil {
		// The password is committed; the record will age out via expiry.
		slog.Warn("failed to delete consumed recovery record", "email", emailAddr, "error", err)
	} else if !deleted {
		slog.Debug("recovery record already consumed by concurrent commit", "email", emailAddr)
	}

	slog.Info("password updated via recovery", "email", emailAddr)
	return nil
}

func newRecord(emailAddr, credential string, ttl time.Duration) *models.RecoveryRecord {
	now := time.Now()
	return &models.RecoveryRecord{
		ID:         uuid.New().String(),
		Email:      emailAddr,
		Credential: credential,
		Verified:   false,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
}
