package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/dbtest"
	"github.com/smallbiznis/appointly/internal/notification"
	"github.com/smallbiznis/appointly/internal/verification/domain"
	"github.com/smallbiznis/appointly/internal/verification/otp"
	"github.com/smallbiznis/appointly/internal/verification/repository"
	"github.com/smallbiznis/appointly/internal/verification/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userID = "u_1"
	email  = "ada@example.com"
)

type recordingNotifier struct {
	messages []notification.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notification.Message) error {
	n.messages = append(n.messages, msg)
	return nil
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	notifier *recordingNotifier
	t0       time.Time
}

func newFixture(t *testing.T, codes ...string) fixture {
	t.Helper()
	db := dbtest.Open(t)
	t0 := time.Date(2025, 6, 9, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(t0)
	notifier := &recordingNotifier{}
	gen := otp.Fixed(codes)

	svc := service.New(service.Params{
		DB:        db,
		Log:       zap.NewNop(),
		Clock:     clk,
		Policy:    config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Repo:      repository.Provide(),
		Notifier:  notifier,
		Generator: &gen,
	})
	return fixture{svc: svc, db: db, clock: clk, notifier: notifier, t0: t0}
}

func TestIssueSendsCodeAndStoresHash(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "483920")

	result, err := f.svc.Issue(ctx, userID, "Ada@Example.com")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotNil(t, result.ExpiresAt)
	assert.Equal(t, f.t0.Add(30*time.Minute), result.ExpiresAt.UTC())

	require.Len(t, f.notifier.messages, 1)
	msg := f.notifier.messages[0]
	assert.Equal(t, email, msg.To)
	assert.Equal(t, notification.TemplateVerifyEmail, msg.Template)
	assert.Equal(t, "483920", msg.Data["otp"])

	record, err := repository.Provide().Find(ctx, f.db, userID, email)
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.NotContains(t, record.OTPHash, "483920")
	assert.Equal(t, 0, record.Attempts)
	assert.Equal(t, 5, record.MaxAttempts)
	assert.False(t, record.IsVerified)
}

func TestVerifyCorrectCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "483920")
	_, err := f.svc.Issue(ctx, userID, email)
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	result, err := f.svc.Verify(ctx, userID, email, "483920")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Verified)

	again, err := f.svc.Verify(ctx, userID, email, "000000")
	require.NoError(t, err)
	assert.True(t, again.Verified)
	assert.Equal(t, "Email already verified", again.Message)

	record, err := repository.Provide().Find(ctx, f.db, userID, email)
	require.NoError(t, err)
	assert.Equal(t, 1, record.Attempts)
	assert.True(t, record.IsVerified)
	require.NotNil(t, record.VerifiedAt)

	resend, err := f.svc.Resend(ctx, userID, email)
	require.NoError(t, err)
	assert.False(t, resend.Success)
	assert.Equal(t, domain.KindAlreadyVerified, resend.Kind)
	assert.Len(t, f.notifier.messages, 1)
}

func TestAttemptsAreExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "483920", "715302")
	_, err := f.svc.Issue(ctx, userID, email)
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		f.clock.Advance(10 * time.Second)
		result, err := f.svc.Verify(ctx, userID, email, "111111")
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, domain.KindInvalidCode, result.Kind)
		require.NotNil(t, result.Remaining)
		assert.Equal(t, 5-i, *result.Remaining)
	}

	f.clock.Advance(10 * time.Second)
	fifth, err := f.svc.Verify(ctx, userID, email, "111111")
	require.NoError(t, err)
	assert.Equal(t, domain.KindLocked, fifth.Kind)
	assert.Equal(t, "Maximum verification attempts reached", fifth.Message)

	correct, err := f.svc.Verify(ctx, userID, email, "483920")
	require.NoError(t, err)
	assert.False(t, correct.Success)
	assert.Equal(t, domain.KindLocked, correct.Kind)

	record, err := repository.Provide().Find(ctx, f.db, userID, email)
	require.NoError(t, err)
	assert.Equal(t, 5, record.Attempts)

	// the cooldown runs from issue time, so +61s allows a resend
	f.clock.Set(f.t0.Add(61 * time.Second))
	resend, err := f.svc.Resend(ctx, userID, email)
	require.NoError(t, err)
	require.True(t, resend.Success, resend.Message)

	fresh, err := f.svc.Verify(ctx, userID, email, "715302")
	require.NoError(t, err)
	assert.True(t, fresh.Verified)
}

func TestResendCooldown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "483920", "715302")
	_, err := f.svc.Issue(ctx, userID, email)
	require.NoError(t, err)

	f.clock.Set(f.t0.Add(30 * time.Second))
	early, err := f.svc.Resend(ctx, userID, email)
	require.NoError(t, err)
	assert.False(t, early.Success)
	assert.Equal(t, domain.KindCooldown, early.Kind)
	assert.Equal(t, "Please wait 30 seconds before requesting a new code", early.Message)
	assert.Equal(t, 30*time.Second, early.RetryAfter)
	assert.Len(t, f.notifier.messages, 1)

	f.clock.Set(f.t0.Add(61 * time.Second))
	later, err := f.svc.Resend(ctx, userID, email)
	require.NoError(t, err)
	assert.True(t, later.Success)
	require.Len(t, f.notifier.messages, 2)
	assert.Equal(t, "715302", f.notifier.messages[1].Data["otp"])

	old, err := f.svc.Verify(ctx, userID, email, "483920")
	require.NoError(t, err)
	assert.Equal(t, domain.KindInvalidCode, old.Kind)
}

func TestExpiredCodeIsRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, "483920")
	_, err := f.svc.Issue(ctx, userID, email)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)
	result, err := f.svc.Verify(ctx, userID, email, "483920")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, domain.KindExpired, result.Kind)

	record, err := repository.Provide().Find(ctx, f.db, userID, email)
	require.NoError(t, err)
	assert.Equal(t, 0, record.Attempts)
}

func TestVerifyWithoutIssue(t *testing.T) {
	f := newFixture(t, "483920")

	result, err := f.svc.Verify(context.Background(), userID, email, "483920")
	require.NoError(t, err)
	assert.Equal(t, domain.KindNotIssued, result.Kind)

	_, err = f.svc.Issue(context.Background(), userID, "not-an-email")
	assert.ErrorIs(t, err, domain.ErrInvalidEmail)
	_, err = f.svc.Issue(context.Background(), " ", email)
	assert.ErrorIs(t, err, domain.ErrInvalidUser)
}
