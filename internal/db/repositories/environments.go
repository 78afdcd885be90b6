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

type EnvironmentRepo struct {
	db *sql.DB
}

func NewEnvironmentRepo(db *sql.DB) *EnvironmentRepo {
	return &EnvironmentRepo{db: db}
}

func scanEnvironment(row interface {
	Scan(dest ...any) error
}) (*models.Environment, error) {
	var env models.Environment
	var repoURL sql.NullString
	if err := row.Scan(&env.ID, &env.UserID, &env.Name, &repoURL, &env.DefaultBranch,
		&env.Status, &env.CreatedAt, &env.UpdatedAt); err != nil {
		return nil, err
	}
	if repoURL.Valid {
		env.RepositoryURL = &repoURL.String
	}
	return &env, nil
}

// Create inserts a new environment. Duplicate (user_id, name) returns a
// typed NameInUse error carrying the conflicting row (spec §4.7).
func (r *EnvironmentRepo) Create(ctx context.Context, userID, name string, repositoryURL *string, defaultBranch string) (*models.Environment, error) {
	if existing, err := r.GetByName(ctx, userID, name); err == nil {
		return nil, errs.NameInUseErr(existing)
	}

	if defaultBranch == "" {
		defaultBranch = "main"
	}

	id := uuid.NewString()
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO environments (id, user_id, name, repository_url, default_branch, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, name, repositoryURL, defaultBranch, models.EnvironmentStatusReady, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *EnvironmentRepo) GetByID(ctx context.Context, id string) (*models.Environment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, repository_url, default_branch, status, created_at, updated_at
		FROM environments WHERE id = ?`, id)

	env, err := scanEnvironment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("environment %s not found", id))
	}
	return env, err
}

func (r *EnvironmentRepo) GetByName(ctx context.Context, userID, name string) (*models.Environment, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, repository_url, default_branch, status, created_at, updated_at
		FROM environments WHERE user_id = ? AND name = ?`, userID, name)

	env, err := scanEnvironment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("environment %q not found", name))
	}
	return env, err
}

func (r *EnvironmentRepo) ListByUser(ctx context.Context, userID string) ([]*models.Environment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, repository_url, default_branch, status, created_at, updated_at
		FROM environments WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var result []*models.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, env)
	}
	return result, rows.Err()
}

func (r *EnvironmentRepo) SetStatus(ctx context.Context, id string, status models.EnvironmentStatus) error {
	_, err := r.db.ExecContext(ctx, `UPDATE environments SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update environment status: %w", err)
	}
	return nil
}

// CheckName reports whether name is available for userID, and when not,
// returns availability-check suggestions (spec §6 check-name endpoint).
func (r *EnvironmentRepo) CheckName(ctx context.Context, userID, name string) (available bool, suggestions []string, err error) {
	_, getErr := r.GetByName(ctx, userID, name)
	if getErr != nil {
		if errs.Is(getErr, errs.NotFound) {
			return true, nil, nil
		}
		return false, nil, getErr
	}

	for i := 2; i <= 4; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if _, cErr := r.GetByName(ctx, userID, candidate); cErr != nil && errs.Is(cErr, errs.NotFound) {
			suggestions = append(suggestions, candidate)
		}
	}
	return false, suggestions, nil
}

// Delete removes the environment row. Cascading deletion of sessions (and
// their containers) is the caller's responsibility (the deleteEnvironment
// handler calls SessionReconciler.CleanupSession for each session first) —
// the DB foreign key ON DELETE CASCADE only deletes the rows, not live
// containers (invariant S2/P3).
func (r *EnvironmentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM environments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete environment: %w", err)
	}
	return nil
}
