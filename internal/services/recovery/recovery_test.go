// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lunahealth/recovery/internal/config"
	"github.com/lunahealth/recovery/internal/directory"
	"github.com/lunahealth/recovery/internal/repository"
	"github.com/lunahealth/recovery/internal/services/recovery"
	"github.com/lunahealth/recovery/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// fakeMailer records outbound emails instead of sending them.
type fakeMailer struct {
	mu    sync.Mutex
	otps  []sentMail
	links []sentMail
	err   error
}

type sentMail struct {
	To      string
	Payload string // code or link
}

func (m *fakeMailer) SendOTPCode(_ context.Context, to, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.otps = append(m.otps, sentMail{To: to, Payload: code})
	return nil
}

func (m *fakeMailer) SendResetLink(_ context.Context, to, link string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.links = append(m.links, sentMail{To: to, Payload: link})
	return nil
}

func (m *fakeMailer) sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.otps) + len(m.links)
}

func testConfig() config.RecoveryConfig {
	return config.RecoveryConfig{
		OTPTTL:      5 * time.Minute,
		LinkTTL:     time.Hour,
		CommitGrace: 10 * time.Minute,
	}
}

func newTestService(t *testing.T) (*recovery.Service, *repository.Repository, *fakeMailer) {
	t.Helper()
	_, repo := testutil.NewTestDB(t)
	mailer := &fakeMailer{}
	svc := recovery.NewService(repo, directory.NewSQL(repo), mailer, testConfig())
	return svc, repo, mailer
}

func assertPassword(t *testing.T, repo *repository.Repository, email, password string) {
	t.Helper()
	user, err := repo.GetUserByEmail(context.Background(), email)
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)))
}

func TestIssueOTP_UnknownAccount(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	err := svc.IssueOTP(ctx, "nobody@x.com")

	// Silent no-op: no error, no store write, no email.
	require.NoError(t, err)
	assert.Zero(t, mailer.sent())
	_, err = repo.GetRecoveryRecord(ctx, "nobody@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestIssueOTP_StoresRecordAndSendsCode(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")

	err := svc.IssueOTP(ctx, "A@X.com")

	require.NoError(t, err)

	record, err := repo.GetRecoveryRecord(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^\d{6}$`), record.Credential)
	assert.False(t, record.Verified)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), record.ExpiresAt, 5*time.Second)

	require.Len(t, mailer.otps, 1)
	assert.Equal(t, "a@x.com", mailer.otps[0].To)
	assert.Equal(t, record.Credential, mailer.otps[0].Payload)
}

func TestIssueOTP_MailerFailure(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	mailer.err = errors.New("smtp unreachable")

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")

	err := svc.IssueOTP(context.Background(), "a@x.com")

	assert.ErrorContains(t, err, "sending otp email")
}

func TestIssueOTP_SupersedesPrior(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")

	require.NoError(t, svc.IssueOTP(ctx, "a@x.com"))
	firstCode := mailer.otps[0].Payload
	require.NoError(t, svc.IssueOTP(ctx, "a@x.com"))
	secondCode := mailer.otps[1].Payload

	// Only the newest code is valid.
	_, err := svc.VerifyOTP(ctx, "a@x.com", firstCode)
	if firstCode != secondCode {
		assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
	}

	ticket, err := svc.VerifyOTP(ctx, "a@x.com", secondCode)
	require.NoError(t, err)
	assert.NotEmpty(t, ticket)
}

func TestVerifyOTP_ReturnsTicketAndMarksVerified(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	require.NoError(t, svc.IssueOTP(ctx, "a@x.com"))
	code := mailer.otps[0].Payload

	ticket, err := svc.VerifyOTP(ctx, "a@x.com", code)

	require.NoError(t, err)

	record, err := repo.GetRecoveryRecord(ctx, "a@x.com")
	require.NoError(t, err)
	assert.True(t, record.Verified)
	assert.Equal(t, record.ID, ticket)
	// The code itself is not the ticket.
	assert.NotEqual(t, code, ticket)
}

func TestVerifyOTP_WrongCode(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	require.NoError(t, svc.IssueOTP(ctx, "a@x.com"))

	wrong := "000000"
	if mailer.otps[0].Payload == wrong {
		wrong = "000001"
	}

	_, err := svc.VerifyOTP(ctx, "a@x.com", wrong)

	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
}

func TestVerifyOTP_NoRecord(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.VerifyOTP(context.Background(), "a@x.com", "123456")

	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
}

func TestVerifyOTP_Expired_DeletesRecord(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	// A record whose five-minute TTL ran out a minute ago.
	record := testutil.NewRecoveryRecord("a@x.com", "123456", -time.Minute)
	require.NoError(t, repo.ReplaceRecoveryRecord(ctx, record))

	_, err := svc.VerifyOTP(ctx, "a@x.com", "123456")

	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)

	// Lazy cleanup removed the stale record.
	_, err = repo.GetRecoveryRecord(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCommitOTP_WeakPassword_NoStoreMutation(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	record := testutil.NewRecoveryRecord("a@x.com", "123456", 5*time.Minute)
	record.Verified = true
	require.NoError(t, repo.ReplaceRecoveryRecord(ctx, record))

	err := svc.CommitOTP(ctx, "a@x.com", record.ID, "short")

	assert.ErrorIs(t, err, recovery.ErrWeakPassword)

	// The weak-password check precedes any store access.
	got, err := repo.GetRecoveryRecord(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.True(t, got.Verified)
}

func TestCommitOTP_HappyPath(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	require.NoError(t, svc.IssueOTP(ctx, "a@x.com"))
	ticket, err := svc.VerifyOTP(ctx, "a@x.com", mailer.otps[0].Payload)
	require.NoError(t, err)

	err = svc.CommitOTP(ctx, "a@x.com", ticket, "newpass1")

	require.NoError(t, err)
	assertPassword(t, repo, "a@x.com", "newpass1")

	// Single use: the record is gone.
	_, err = repo.GetRecoveryRecord(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCommitOTP_SecondCommitFails(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	require.NoError(t, svc.IssueOTP(ctx, "a@x.com"))
	ticket, err := svc.VerifyOTP(ctx, "a@x.com", mailer.otps[0].Payload)
	require.NoError(t, err)

	require.NoError(t, svc.CommitOTP(ctx, "a@x.com", ticket, "newpass1"))

	err = svc.CommitOTP(ctx, "a@x.com", ticket, "otherpass2")

	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
	assertPassword(t, repo, "a@x.com", "newpass1")
}

func TestCommitOTP_Unverified(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	record := testutil.NewRecoveryRecord("a@x.com", "123456", 5*time.Minute)
	require.NoError(t, repo.ReplaceRecoveryRecord(ctx, record))

	err := svc.CommitOTP(ctx, "a@x.com", record.ID, "newpass1")

	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
}

func TestCommitOTP_WrongTicket(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	record := testutil.NewRecoveryRecord("a@x.com", "123456", 5*time.Minute)
	record.Verified = true
	require.NoError(t, repo.ReplaceRecoveryRecord(ctx, record))

	err := svc.CommitOTP(ctx, "a@x.com", uuid.New().String(), "newpass1")

	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
}

func TestCommitOTP_WithinGraceWindow(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")

	// Expired five minutes ago, still inside the ten-minute grace window.
	record := testutil.NewRecoveryRecord("a@x.com", "123456", -5*time.Minute)
	record.Verified = true
	require.NoError(t, repo.ReplaceRecoveryRecord(ctx, record))

	err := svc.CommitOTP(ctx, "a@x.com", record.ID, "newpass1")

	require.NoError(t, err)
	assertPassword(t, repo, "a@x.com", "newpass1")
}

func TestCommitOTP_PastGraceWindow(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")

	record := testutil.NewRecoveryRecord("a@x.com", "123456", -11*time.Minute)
	record.Verified = true
	require.NoError(t, repo.ReplaceRecoveryRecord(ctx, record))

	err := svc.CommitOTP(ctx, "a@x.com", record.ID, "newpass1")

	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)

	_, err = repo.GetRecoveryRecord(ctx, "a@x.com")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCommitOTP_AccountVanished(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	require.NoError(t, svc.IssueOTP(ctx, "a@x.com"))
	ticket, err := svc.VerifyOTP(ctx, "a@x.com", mailer.otps[0].Payload)
	require.NoError(t, err)

	// The account disappears between the verify and commit steps.
	require.NoError(t, repo.DeleteUserByEmail(ctx, "a@x.com"))

	err = svc.CommitOTP(ctx, "a@x.com", ticket, "newpass1")

	assert.ErrorIs(t, err, recovery.ErrAccountNotFound)
}

func TestCommitOTP_ConcurrentSingleEffect(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	require.NoError(t, svc.IssueOTP(ctx, "a@x.com"))
	ticket, err := svc.VerifyOTP(ctx, "a@x.com", mailer.otps[0].Payload)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.CommitOTP(ctx, "a@x.com", ticket, "newpass1")
		}(i)
	}
	wg.Wait()

	// At least one caller observes success; any failure is the well-defined
	// generic error, and the password is changed exactly once.
	successes := 0
	for _, res := range results {
		if res == nil {
			successes++
		} else {
			assert.ErrorIs(t, res, recovery.ErrInvalidOrExpired)
		}
	}
	assert.GreaterOrEqual(t, successes, 1)
	assertPassword(t, repo, "a@x.com", "newpass1")
}

func TestIssueLink_BuildsLinkWithTokenAndEmail(t *testing.T) {
	svc, repo, mailer := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")

	err := svc.IssueLink(ctx, "a@x.com", "https://app.example.com/reset-password")

	require.NoError(t, err)

	record, err := repo.GetRecoveryRecord(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Len(t, record.Credential, 64) // 32 bytes hex-encoded
	assert.WithinDuration(t, time.Now().Add(time.Hour), record.ExpiresAt, 5*time.Second)

	require.Len(t, mailer.links, 1)
	assert.Equal(t,
		"https://app.example.com/reset-password?token="+record.Credential+"&email=a%40x.com",
		mailer.links[0].Payload)
}

func TestIssueLink_UnknownAccount(t *testing.T) {
	svc, _, mailer := newTestService(t)

	err := svc.IssueLink(context.Background(), "nobody@x.com", "https://app.example.com/reset")

	require.NoError(t, err)
	assert.Zero(t, mailer.sent())
}

func TestValidateLink_IdempotentUntilCommit(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	require.NoError(t, svc.IssueLink(ctx, "a@x.com", "https://app.example.com/reset"))

	record, err := repo.GetRecoveryRecord(ctx, "a@x.com")
	require.NoError(t, err)
	token := record.Credential

	// Validation does not consume the token; page reloads keep working.
	require.NoError(t, svc.ValidateLink(ctx, "a@x.com", token))
	require.NoError(t, svc.ValidateLink(ctx, "a@x.com", token))

	require.NoError(t, svc.CommitLink(ctx, "a@x.com", token, "newpass1"))
	assertPassword(t, repo, "a@x.com", "newpass1")

	// Consumed: further validation fails.
	err = svc.ValidateLink(ctx, "a@x.com", token)
	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
}

func TestValidateLink_WrongToken(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	require.NoError(t, svc.IssueLink(ctx, "a@x.com", "https://app.example.com/reset"))

	err := svc.ValidateLink(ctx, "a@x.com", "deadbeef")

	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
}

func TestCommitLink_WeakPassword(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.CommitLink(context.Background(), "a@x.com", "token", "short")

	assert.ErrorIs(t, err, recovery.ErrWeakPassword)
}

func TestCommitLink_Expired(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	testutil.NewTestUser(t, repo, "a@x.com", "oldpass")
	record := testutil.NewRecoveryRecord("a@x.com", "sometoken", -time.Minute)
	require.NoError(t, repo.ReplaceRecoveryRecord(ctx, record))

	err := svc.CommitLink(ctx, "a@x.com", "sometoken", "newpass1")

	// No grace window in the link variant.
	assert.ErrorIs(t, err, recovery.ErrInvalidOrExpired)
}
