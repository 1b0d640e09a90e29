package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/text2mesh/internal/crypto"
	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/audit"
	"github.com/iudanet/text2mesh/internal/server/storage"
)

func TestStartRegistration(t *testing.T) {
	t.Run("stores pending verification and sends code", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))

		pending, err := e.store.GetVerification(ctx, testEmail)
		require.NoError(t, err)
		assert.Equal(t, testUserName, pending.UserName)
		assert.Regexp(t, `^\d{6}$`, pending.Code)
		assert.Equal(t, e.clock.Now().Add(DefaultVerificationTTL), pending.ExpiresAt)
		assert.NotEqual(t, testPassword, pending.PasswordHash)
		assert.NoError(t, crypto.CheckPassword(pending.PasswordHash, testPassword))

		msg := e.mail.last(t)
		assert.Equal(t, testEmail, msg.To)
		assert.Equal(t, "Verify your email", msg.Subject)
		assert.Equal(t, pending.Code, e.mail.code(t))
		assert.Contains(t, e.sink.types(), audit.RegistrationStarted)
	})

	t.Run("second registration for same email conflicts", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		first, err := e.store.GetVerification(ctx, testEmail)
		require.NoError(t, err)

		err = e.svc.StartRegistration(ctx, testEmail, "other", "otherpassword")
		assert.ErrorIs(t, err, ErrVerificationPending)

		// запись не перезаписана
		second, err := e.store.GetVerification(ctx, testEmail)
		require.NoError(t, err)
		assert.Equal(t, first.Code, second.Code)
		assert.Equal(t, testUserName, second.UserName)
		assert.Equal(t, 1, e.mail.count())
	})

	t.Run("existing user conflicts", func(t *testing.T) {
		e := newTestEnv(t)
		e.registerUser(t, testEmail)

		err := e.svc.StartRegistration(context.Background(), testEmail, testUserName, testPassword)
		assert.ErrorIs(t, err, ErrUserExists)
	})

	t.Run("expired pending verification is replaced", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		e.clock.Advance(DefaultVerificationTTL)

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, "renamed", testPassword))

		pending, err := e.store.GetVerification(ctx, testEmail)
		require.NoError(t, err)
		assert.Equal(t, "renamed", pending.UserName)
		assert.Equal(t, e.clock.Now().Add(DefaultVerificationTTL), pending.ExpiresAt)
	})

	t.Run("mail failure is not fatal", func(t *testing.T) {
		e := newTestEnv(t)
		e.mail.err = errBoom
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))

		_, err := e.store.GetVerification(ctx, testEmail)
		assert.NoError(t, err)
	})

	t.Run("validation errors before store access", func(t *testing.T) {
		e := newTestEnv(t)
		e.store.failGetUser = errBoom

		err := e.svc.StartRegistration(context.Background(), "not-an-email", "", "short")

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields, "email")
		assert.Contains(t, verr.Fields, "userName")
		assert.Contains(t, verr.Fields, "password")
		assert.Zero(t, e.mail.count())
	})

	t.Run("store failure is wrapped", func(t *testing.T) {
		e := newTestEnv(t)
		e.store.failGetUser = errBoom

		err := e.svc.StartRegistration(context.Background(), testEmail, testUserName, testPassword)
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestResendVerification(t *testing.T) {
	t.Run("rotates code and expiry", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		e.clock.Advance(5 * time.Minute)

		require.NoError(t, e.svc.ResendVerification(ctx, testEmail))

		pending, err := e.store.GetVerification(ctx, testEmail)
		require.NoError(t, err)
		assert.Equal(t, e.clock.Now().Add(DefaultVerificationTTL), pending.ExpiresAt)

		msg := e.mail.last(t)
		assert.Equal(t, "Verify your email - Resent", msg.Subject)
		assert.Equal(t, pending.Code, e.mail.code(t))
		assert.Equal(t, 2, e.mail.count())
	})

	t.Run("not found", func(t *testing.T) {
		e := newTestEnv(t)
		err := e.svc.ResendVerification(context.Background(), testEmail)
		assert.ErrorIs(t, err, ErrVerificationNotFound)
	})

	t.Run("expired is gone and deleted", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		e.clock.Advance(DefaultVerificationTTL + time.Second)

		err := e.svc.ResendVerification(ctx, testEmail)
		assert.ErrorIs(t, err, ErrVerificationExpired)

		_, err = e.store.GetVerification(ctx, testEmail)
		assert.ErrorIs(t, err, storage.ErrVerificationNotFound)
	})

	t.Run("mail failure is fatal", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		e.mail.err = errBoom

		err := e.svc.ResendVerification(ctx, testEmail)
		assert.ErrorIs(t, err, ErrMailDelivery)
		assert.ErrorIs(t, err, errBoom)
	})
}

func TestCompleteRegistration(t *testing.T) {
	t.Run("creates verified user and removes pending record", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))

		user, err := e.svc.CompleteRegistration(ctx, testEmail, e.mail.code(t))
		require.NoError(t, err)

		assert.NotEmpty(t, user.ID)
		assert.Equal(t, testEmail, user.Email)
		assert.Equal(t, testUserName, user.UserName)
		assert.True(t, user.EmailVerified)
		assert.Equal(t, []models.Role{models.RoleUser}, user.Roles)
		assert.Equal(t, models.DefaultSettings(), user.Settings)
		assert.Empty(t, user.PasswordHash, "returned user must be sanitized")

		_, err = e.store.GetVerification(ctx, testEmail)
		assert.ErrorIs(t, err, storage.ErrVerificationNotFound)
		assert.Equal(t, 1, e.store.userCount(testEmail))

		stored, err := e.store.GetUserByEmail(ctx, testEmail)
		require.NoError(t, err)
		assert.NoError(t, crypto.CheckPassword(stored.PasswordHash, testPassword))
		assert.Contains(t, e.sink.types(), audit.RegistrationCompleted)
	})

	t.Run("wrong code", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		code := e.mail.code(t)
		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}

		_, err := e.svc.CompleteRegistration(ctx, testEmail, wrong)
		assert.ErrorIs(t, err, ErrInvalidCode)

		// запись остается, правильный код все еще работает
		_, err = e.svc.CompleteRegistration(ctx, testEmail, code)
		assert.NoError(t, err)
	})

	t.Run("not found", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.svc.CompleteRegistration(context.Background(), testEmail, "123456")
		assert.ErrorIs(t, err, ErrVerificationNotFound)
	})

	t.Run("expiry instant counts as expired", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		code := e.mail.code(t)
		e.clock.Advance(DefaultVerificationTTL)

		_, err := e.svc.CompleteRegistration(ctx, testEmail, code)
		assert.ErrorIs(t, err, ErrVerificationExpired)

		_, err = e.store.GetVerification(ctx, testEmail)
		assert.ErrorIs(t, err, storage.ErrVerificationNotFound)
		assert.Zero(t, e.store.userCount(testEmail))
	})

	t.Run("one nanosecond before expiry succeeds", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		code := e.mail.code(t)
		e.clock.Advance(DefaultVerificationTTL - time.Nanosecond)

		_, err := e.svc.CompleteRegistration(ctx, testEmail, code)
		assert.NoError(t, err)
	})

	t.Run("race created user conflicts and cleans up", func(t *testing.T) {
		e := newTestEnv(t)
		ctx := context.Background()

		require.NoError(t, e.svc.StartRegistration(ctx, testEmail, testUserName, testPassword))
		code := e.mail.code(t)

		require.NoError(t, e.store.CreateUser(ctx, &models.User{
			ID:    "racer",
			Email: testEmail,
			Roles: []models.Role{models.RoleUser},
		}))

		_, err := e.svc.CompleteRegistration(ctx, testEmail, code)
		assert.ErrorIs(t, err, ErrUserExists)

		_, err = e.store.GetVerification(ctx, testEmail)
		assert.ErrorIs(t, err, storage.ErrVerificationNotFound)
		assert.Equal(t, 1, e.store.userCount(testEmail))
	})

	t.Run("malformed code is a validation error", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.svc.CompleteRegistration(context.Background(), testEmail, "12ab")

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Contains(t, verr.Fields, "code")
	})
}
