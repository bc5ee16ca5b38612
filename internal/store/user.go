package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/accountd/apiserver/types"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

const userColumns = `id, email, name, password_hash, is_verified,
		verification_secret, verification_expires_at,
		reset_secret, reset_expires_at,
		last_login_at, created_at, updated_at`

// UserRepository handles persistence for users in Postgres.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.getOne(ctx, query, email)
}

// GetByVerificationSecret returns the user whose pending verification code
// matches code and has not expired at now.
func (r *UserRepository) GetByVerificationSecret(ctx context.Context, code string, now time.Time) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE verification_secret = $1 AND verification_expires_at > $2`
	return r.getOne(ctx, query, code, now)
}

// GetByResetSecret returns the user whose pending reset token matches token
// and has not expired at now.
func (r *UserRepository) GetByResetSecret(ctx context.Context, token string, now time.Time) (types.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE reset_secret = $1 AND reset_expires_at > $2`
	return r.getOne(ctx, query, token, now)
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	verificationSecret, verificationExpires := secretColumns(user.Verification)
	resetSecret, resetExpires := secretColumns(user.Reset)

	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.IsVerified,
		verificationSecret,
		verificationExpires,
		resetSecret,
		resetExpires,
		nullTime(user.LastLoginAt),
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// Update overwrites the stored record with user. Absent secrets are written
// as NULL, which is how consumed or superseded secrets get cleared.
func (r *UserRepository) Update(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = time.Now().UTC()

	verificationSecret, verificationExpires := secretColumns(user.Verification)
	resetSecret, resetExpires := secretColumns(user.Reset)

	const query = `
		UPDATE users
		SET email = $1,
			name = $2,
			password_hash = $3,
			is_verified = $4,
			verification_secret = $5,
			verification_expires_at = $6,
			reset_secret = $7,
			reset_expires_at = $8,
			last_login_at = $9,
			updated_at = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.IsVerified,
		verificationSecret,
		verificationExpires,
		resetSecret,
		resetExpires,
		nullTime(user.LastLoginAt),
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, ErrDuplicate
		}
		return types.User{}, fmt.Errorf("update user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (types.User, error) {
	var (
		user                types.User
		verificationSecret  sql.NullString
		verificationExpires sql.NullTime
		resetSecret         sql.NullString
		resetExpires        sql.NullTime
		lastLogin           sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.IsVerified,
		&verificationSecret,
		&verificationExpires,
		&resetSecret,
		&resetExpires,
		&lastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, fmt.Errorf("query user: %w", err)
	}

	user.Verification = secretFromColumns(verificationSecret, verificationExpires)
	user.Reset = secretFromColumns(resetSecret, resetExpires)
	if lastLogin.Valid {
		t := lastLogin.Time
		user.LastLoginAt = &t
	}
	return user, nil
}

func secretColumns(secret *types.PendingSecret) (sql.NullString, sql.NullTime) {
	if secret == nil {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: secret.Value, Valid: true},
		sql.NullTime{Time: secret.ExpiresAt, Valid: true}
}

func secretFromColumns(value sql.NullString, expiresAt sql.NullTime) *types.PendingSecret {
	if !value.Valid || !expiresAt.Valid {
		return nil
	}
	return &types.PendingSecret{Value: value.String, ExpiresAt: expiresAt.Time}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
