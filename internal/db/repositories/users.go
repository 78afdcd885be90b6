package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/craftastic-dev/orchestrator/internal/errs"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

type UserRepo struct {
	db *sql.DB
}

func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db}
}

func scanUser(row interface{ Scan(dest ...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.VCSCredentialBlob, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, username string) (*models.User, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, username, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, vcs_credential_blob, created_at, updated_at FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("user %s not found", id))
	}
	return u, err
}

func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, username, vcs_credential_blob, created_at, updated_at FROM users WHERE username = ?`, username)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("user %q not found", username))
	}
	return u, err
}

// SetVCSCredential stores the KMS-encrypted blob produced by
// internal/crypto.KMS.Encrypt.
func (r *UserRepo) SetVCSCredential(ctx context.Context, id string, blob []byte) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET vcs_credential_blob = ?, updated_at = ? WHERE id = ?`,
		blob, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set vcs credential: %w", err)
	}
	return nil
}
