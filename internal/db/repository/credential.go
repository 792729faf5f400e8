package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ad-tracker/analytics-sync-go/internal/db"
	"github.com/ad-tracker/analytics-sync-go/internal/db/models"
	"github.com/ad-tracker/analytics-sync-go/internal/platform"
)

// CredentialRepository defines operations for stored platform credentials.
type CredentialRepository interface {
	// Get retrieves the credential for an account on a platform.
	Get(ctx context.Context, accountID string, p platform.Platform) (*models.Credential, error)

	// UpdateToken persists a refreshed access token. A nil refreshToken keeps the stored one.
	UpdateToken(ctx context.Context, accountID string, p platform.Platform, accessToken string, refreshToken *string, expiry time.Time) error

	// ListConnected returns every account holding a credential for the platform.
	ListConnected(ctx context.Context, p platform.Platform) ([]*models.ConnectedAccount, error)
}

type credentialRepository struct {
	pool *pgxpool.Pool
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(pool *pgxpool.Pool) CredentialRepository {
	return &credentialRepository{pool: pool}
}

func (r *credentialRepository) Get(ctx context.Context, accountID string, p platform.Platform) (*models.Credential, error) {
	query := `
		SELECT account_id, platform, access_token, refresh_token, token_expiry,
		       platform_account_id, created_at, updated_at
		FROM platform_credentials
		WHERE account_id = $1 AND platform = $2
	`

	cred := &models.Credential{}
	err := r.pool.QueryRow(ctx, query, accountID, p.String()).Scan(
		&cred.AccountID,
		&cred.Platform,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.TokenExpiry,
		&cred.PlatformAccountID,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)

	if err != nil {
		return nil, db.WrapError(err, "get credential")
	}

	return cred, nil
}

func (r *credentialRepository) UpdateToken(ctx context.Context, accountID string, p platform.Platform, accessToken string, refreshToken *string, expiry time.Time) error {
	query := `
		UPDATE platform_credentials
		SET access_token = $3,
		    refresh_token = COALESCE($4, refresh_token),
		    token_expiry = $5,
		    updated_at = NOW()
		WHERE account_id = $1 AND platform = $2
	`

	tag, err := r.pool.Exec(ctx, query, accountID, p.String(), accessToken, refreshToken, expiry)
	if err != nil {
		return db.WrapError(err, "update token")
	}

	if tag.RowsAffected() == 0 {
		return db.WrapError(pgx.ErrNoRows, "update token")
	}

	return nil
}

func (r *credentialRepository) ListConnected(ctx context.Context, p platform.Platform) ([]*models.ConnectedAccount, error) {
	query := `
		SELECT account_id, platform, platform_account_id
		FROM platform_credentials
		WHERE platform = $1
		ORDER BY account_id
	`

	rows, err := r.pool.Query(ctx, query, p.String())
	if err != nil {
		return nil, db.WrapError(err, "list connected accounts")
	}
	defer rows.Close()

	var accounts []*models.ConnectedAccount
	for rows.Next() {
		acct := &models.ConnectedAccount{}
		if err := rows.Scan(&acct.AccountID, &acct.Platform, &acct.PlatformAccountID); err != nil {
			return nil, db.WrapError(err, "scan connected account")
		}
		accounts = append(accounts, acct)
	}

	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "iterate connected accounts")
	}

	return accounts, nil
}
