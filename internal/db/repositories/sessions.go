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

type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

const sessionColumns = `id, environment_id, name, pty_mux_name, working_directory, status,
	container_id, git_branch, session_type, agent_id, created_at, updated_at, last_activity`

func scanSession(row interface{ Scan(dest ...any) error }) (*models.Session, error) {
	var s models.Session
	var containerID, gitBranch, agentID sql.NullString
	var lastActivity sql.NullTime

	if err := row.Scan(&s.ID, &s.EnvironmentID, &s.Name, &s.PtyMuxName, &s.WorkingDirectory, &s.Status,
		&containerID, &gitBranch, &s.SessionType, &agentID, &s.CreatedAt, &s.UpdatedAt, &lastActivity); err != nil {
		return nil, err
	}
	if containerID.Valid {
		s.ContainerID = &containerID.String
	}
	if gitBranch.Valid {
		s.GitBranch = &gitBranch.String
	}
	if agentID.Valid {
		s.AgentID = &agentID.String
	}
	if lastActivity.Valid {
		s.LastActivity = &lastActivity.Time
	}
	return &s, nil
}

type CreateSessionParams struct {
	EnvironmentID    string
	Name             string
	WorkingDirectory string
	GitBranch        *string
	SessionType      models.SessionType
	AgentID          *string
}

// Create inserts a new session in status=inactive. Duplicate live
// (environment_id, name) or (environment_id, git_branch) returns a typed
// NameInUse/BranchInUse error carrying the conflicting row — the partial
// unique indexes in migrations/0001_init.sql are the ultimate arbiter
// (spec §4.7); this pre-check exists only to produce a friendly typed error
// instead of a raw SQLite constraint violation.
func (r *SessionRepo) Create(ctx context.Context, p CreateSessionParams) (*models.Session, error) {
	if existing, err := r.GetLiveByName(ctx, p.EnvironmentID, p.Name); err == nil {
		return nil, errs.NameInUseErr(existing)
	}
	if p.GitBranch != nil {
		if existing, err := r.GetLiveByBranch(ctx, p.EnvironmentID, *p.GitBranch); err == nil {
			return nil, errs.BranchInUseErr(existing)
		}
	}

	if p.WorkingDirectory == "" {
		p.WorkingDirectory = "/workspace"
	}
	if p.SessionType == "" {
		p.SessionType = models.SessionTypeShell
	}

	id := uuid.NewString()
	ptyMuxName := fmt.Sprintf("session-%s", id)
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, environment_id, name, pty_mux_name, working_directory, status,
			git_branch, session_type, agent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, p.EnvironmentID, p.Name, ptyMuxName, p.WorkingDirectory, models.SessionStatusInactive,
		p.GitBranch, p.SessionType, p.AgentID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *SessionRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("session %s not found", id))
	}
	return s, err
}

func (r *SessionRepo) GetLiveByName(ctx context.Context, environmentID, name string) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE environment_id = ? AND name = ? AND status <> 'dead'`, environmentID, name)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("session %q not found", name))
	}
	return s, err
}

func (r *SessionRepo) GetLiveByBranch(ctx context.Context, environmentID, branch string) (*models.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE environment_id = ? AND git_branch = ? AND status <> 'dead'`, environmentID, branch)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("session with branch %q not found", branch))
	}
	return s, err
}

func (r *SessionRepo) ListByEnvironment(ctx context.Context, environmentID string) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE environment_id = ? ORDER BY created_at`, environmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// ListNonDead returns every session across all environments whose status is
// not dead — used by Janitor to inspect container liveness (spec §4.6 step 1).
func (r *SessionRepo) ListNonDead(ctx context.Context) ([]*models.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE status <> 'dead' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list non-dead sessions: %w", err)
	}
	defer rows.Close()

	var result []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// SetActiveContainer records a successful reconcile: container_id set,
// status=active, updated_at bumped. This is the single Store write every
// non-null-container-writing path in SessionReconciler funnels through
// (spec §4.4: "All Store updates that write a non-null container_id also
// set status=active and updated_at").
func (r *SessionRepo) SetActiveContainer(ctx context.Context, id, containerID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET container_id = ?, status = ?, updated_at = ? WHERE id = ?`,
		containerID, models.SessionStatusActive, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set active container: %w", err)
	}
	return nil
}

// SetDead marks the session dead and clears container_id — written by
// SessionReconciler failure paths and by Janitor (spec state machine §4.4).
func (r *SessionRepo) SetDead(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, container_id = NULL, updated_at = ? WHERE id = ?`,
		models.SessionStatusDead, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark session dead: %w", err)
	}
	return nil
}

// SetInactive is written only by PtyAttachPipeline on websocket close.
func (r *SessionRepo) SetInactive(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, updated_at = ? WHERE id = ?`,
		models.SessionStatusInactive, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark session inactive: %w", err)
	}
	return nil
}

// TouchActivity bumps last_activity without touching status — the "last
// writer wins" rule for concurrent websockets on the same session (spec
// §4.5 Concurrency per session).
func (r *SessionRepo) TouchActivity(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity = ?, updated_at = ? WHERE id = ?`, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to touch session activity: %w", err)
	}
	return nil
}

// ClearContainerBeforeDestroy implements the cleanup-path ordering from
// spec §4.4: "on the cleanup path, clear container_id before destroying the
// container" so a crash mid-cleanup never leaves Store pointing at a
// container about to disappear.
func (r *SessionRepo) ClearContainerBeforeDestroy(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET container_id = NULL, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to clear container id: %w", err)
	}
	return nil
}

func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *SessionRepo) CheckName(ctx context.Context, environmentID, name string) (available bool, suggestions []string, err error) {
	_, getErr := r.GetLiveByName(ctx, environmentID, name)
	if getErr != nil {
		if errs.Is(getErr, errs.NotFound) {
			return true, nil, nil
		}
		return false, nil, getErr
	}
	for i := 2; i <= 4; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if _, cErr := r.GetLiveByName(ctx, environmentID, candidate); cErr != nil && errs.Is(cErr, errs.NotFound) {
			suggestions = append(suggestions, candidate)
		}
	}
	return false, suggestions, nil
}

func (r *SessionRepo) CheckBranch(ctx context.Context, environmentID, branch string) (available bool, err error) {
	_, getErr := r.GetLiveByBranch(ctx, environmentID, branch)
	if getErr != nil {
		if errs.Is(getErr, errs.NotFound) {
			return true, nil
		}
		return false, getErr
	}
	return false, nil
}
