package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/text2mesh/internal/models"
	"github.com/iudanet/text2mesh/internal/server/storage"
)

func TestReplaceResetToken(t *testing.T) {
	rt := &models.PasswordResetToken{
		ID: "0b9e2a4c-1f0a-4bd4-8d1e-3a6c9f2b7e10", Email: "a@example.com", Token: "tok",
		ExpiresAt: fixedNow.Add(time.Hour), CreatedAt: fixedNow,
	}

	t.Run("success", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM password_resets WHERE email = \$1`).
			WithArgs("a@example.com").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO password_resets`).
			WithArgs(rt.ID, rt.Email, rt.Token, rt.ExpiresAt, rt.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, s.ReplaceResetToken(context.Background(), rt))
	})

	t.Run("insert failure rolls back the delete", func(t *testing.T) {
		s, mock := newStoreWithMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(`DELETE FROM password_resets`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO password_resets`).WillReturnError(errors.New("boom"))
		mock.ExpectRollback()

		assert.Error(t, s.ReplaceResetToken(context.Background(), rt))
	})
}

func TestGetActiveResetToken(t *testing.T) {
	s, mock := newStoreWithMock(t)

	q := `SELECT id, email, token, expires_at, created_at\s+FROM password_resets WHERE token = \$1 AND expires_at > \$2`
	mock.ExpectQuery(q).
		WithArgs("tok", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "token", "expires_at", "created_at"}).
			AddRow("id1", "a@example.com", "tok", fixedNow.Add(time.Hour), fixedNow))
	mock.ExpectQuery(q).
		WithArgs("stale", fixedNow).
		WillReturnError(sql.ErrNoRows)

	got, err := s.GetActiveResetToken(context.Background(), "tok", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", got.Email)

	_, err = s.GetActiveResetToken(context.Background(), "stale", fixedNow)
	assert.ErrorIs(t, err, storage.ErrResetTokenNotFound)
}

func TestDeleteResetToken(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`DELETE FROM password_resets WHERE token = \$1`).
		WithArgs("tok").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, s.DeleteResetToken(context.Background(), "tok"))
}
