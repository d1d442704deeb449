package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSocialAccountRepoWithMock(t *testing.T) (SocialAccountRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewSocialAccountRepository(db), mock, db
}

func TestListExpiringBoundsWindow(t *testing.T) {
	repo, mock, db := newSocialAccountRepoWithMock(t)
	defer db.Close()

	initialTime := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	finalTime := initialTime.Add(30 * time.Minute)

	q := `(?s)SELECT\s+id,\s*user_id,\s*platform,\s*access_token,\s*refresh_token,\s*token_expires_at\s+FROM\s+social_accounts\s+WHERE\s+is_active\s*=\s*TRUE\s+AND\s+token_expires_at\s+IS\s+NOT\s+NULL\s+AND\s+token_expires_at\s*>\s*\$1\s+AND\s+token_expires_at\s*<\s*\$2`

	expiresAt := initialTime.Add(10 * time.Minute)
	rows := sqlmock.NewRows([]string{"id", "user_id", "platform", "access_token", "refresh_token", "token_expires_at"}).
		AddRow(int64(3), int64(1), "tiktok", "enc-access", "enc-refresh", expiresAt)

	mock.ExpectQuery(q).
		WithArgs(initialTime, finalTime).
		WillReturnRows(rows)

	accounts, err := repo.ListExpiring(context.Background(), initialTime, finalTime)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, int64(3), accounts[0].ID)
	assert.Equal(t, "enc-refresh", accounts[0].RefreshToken)
	require.NotNil(t, accounts[0].TokenExpiresAt)
	assert.Equal(t, expiresAt, *accounts[0].TokenExpiresAt)

	require.NoError(t, mock.ExpectationsWereMet())
}
