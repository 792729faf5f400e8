//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/db/testutil"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

const migrationsDir = "../../../migrations"

func strPtr(s string) *string { return &s }

func newCredential(accountID string, p platform.Platform, expiry *time.Time) *models.Credential {
	return &models.Credential{
		AccountID:         accountID,
		Platform:          p,
		AccessToken:       "access-" + accountID,
		RefreshToken:      strPtr("refresh-" + accountID),
		TokenExpiry:       expiry,
		PlatformAccountID: "UC-" + accountID,
	}
}

// insertCredential seeds a credential the way the account-connect flow stores it.
func insertCredential(t *testing.T, pool *pgxpool.Pool, cred *models.Credential) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO platform_credentials (account_id, platform, access_token, refresh_token,
		                                  token_expiry, platform_account_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, cred.AccountID, cred.Platform.String(), cred.AccessToken, cred.RefreshToken, cred.TokenExpiry, cred.PlatformAccountID)
	require.NoError(t, err)
}

func TestCredentialRepository_Get(t *testing.T) {
	td := testutil.SetupTestDatabase(t, migrationsDir)
	defer td.Cleanup(t)

	repo := NewCredentialRepository(td.Pool)
	ctx := context.Background()

	t.Run("creates and retrieves credential", func(t *testing.T) {
		td.TruncateTables(t)

		expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
		cred := newCredential("acct-1", platform.YouTube, &expiry)
		insertCredential(t, td.Pool, cred)

		got, err := repo.Get(ctx, "acct-1", platform.YouTube)
		require.NoError(t, err)
		assert.NotZero(t, got.CreatedAt)
		assert.Equal(t, "access-acct-1", got.AccessToken)
		assert.Equal(t, "UC-acct-1", got.PlatformAccountID)
		require.NotNil(t, got.TokenExpiry)
		assert.True(t, expiry.Equal(*got.TokenExpiry))
		assert.True(t, got.HasRefreshToken())
	})

	t.Run("missing credential is not found", func(t *testing.T) {
		td.TruncateTables(t)

		_, err := repo.Get(ctx, "nobody", platform.Instagram)
		assert.True(t, db.IsNotFound(err))
	})

	t.Run("same account on two platforms", func(t *testing.T) {
		td.TruncateTables(t)

		insertCredential(t, td.Pool, newCredential("acct-1", platform.YouTube, nil))
		ig := newCredential("acct-1", platform.Instagram, nil)
		ig.RefreshToken = nil
		insertCredential(t, td.Pool, ig)

		got, err := repo.Get(ctx, "acct-1", platform.Instagram)
		require.NoError(t, err)
		assert.False(t, got.HasRefreshToken())
		assert.Nil(t, got.TokenExpiry)
	})
}

func TestCredentialRepository_UpdateToken(t *testing.T) {
	td := testutil.SetupTestDatabase(t, migrationsDir)
	defer td.Cleanup(t)

	repo := NewCredentialRepository(td.Pool)
	ctx := context.Background()

	t.Run("keeps refresh token when none is rotated", func(t *testing.T) {
		td.TruncateTables(t)
		insertCredential(t, td.Pool, newCredential("acct-1", platform.YouTube, nil))

		expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.UpdateToken(ctx, "acct-1", platform.YouTube, "new-access", nil, expiry))

		got, err := repo.Get(ctx, "acct-1", platform.YouTube)
		require.NoError(t, err)
		assert.Equal(t, "new-access", got.AccessToken)
		assert.Equal(t, "refresh-acct-1", *got.RefreshToken)
		assert.True(t, expiry.Equal(*got.TokenExpiry))
	})

	t.Run("stores rotated refresh token", func(t *testing.T) {
		td.TruncateTables(t)
		insertCredential(t, td.Pool, newCredential("acct-1", platform.YouTube, nil))

		require.NoError(t, repo.UpdateToken(ctx, "acct-1", platform.YouTube, "new-access", strPtr("rotated"), time.Now().Add(time.Hour)))

		got, err := repo.Get(ctx, "acct-1", platform.YouTube)
		require.NoError(t, err)
		assert.Equal(t, "rotated", *got.RefreshToken)
	})

	t.Run("unknown credential", func(t *testing.T) {
		td.TruncateTables(t)

		err := repo.UpdateToken(ctx, "ghost", platform.YouTube, "x", nil, time.Now())
		assert.True(t, db.IsNotFound(err))
	})
}

func TestCredentialRepository_ListConnected(t *testing.T) {
	td := testutil.SetupTestDatabase(t, migrationsDir)
	defer td.Cleanup(t)

	repo := NewCredentialRepository(td.Pool)
	ctx := context.Background()
	td.TruncateTables(t)

	insertCredential(t, td.Pool, newCredential("acct-b", platform.YouTube, nil))
	insertCredential(t, td.Pool, newCredential("acct-a", platform.YouTube, nil))
	insertCredential(t, td.Pool, newCredential("acct-c", platform.Instagram, nil))

	accounts, err := repo.ListConnected(ctx, platform.YouTube)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acct-a", accounts[0].AccountID)
	assert.Equal(t, "acct-b", accounts[1].AccountID)
	assert.Equal(t, platform.YouTube, accounts[0].Platform)
}
