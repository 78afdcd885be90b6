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

type AgentRepo struct {
	db *sql.DB
}

func NewAgentRepo(db *sql.DB) *AgentRepo {
	return &AgentRepo{db: db}
}

func scanAgent(row interface{ Scan(dest ...any) error }) (*models.Agent, error) {
	var a models.Agent
	if err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Type, &a.CredentialBlob, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AgentRepo) Create(ctx context.Context, userID, name, agentType string) (*models.Agent, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO agents (id, user_id, name, type, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, userID, name, agentType, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *AgentRepo) GetByID(ctx context.Context, id string) (*models.Agent, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, credential_blob, created_at, updated_at FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.NotFound, fmt.Sprintf("agent %s not found", id))
	}
	return a, err
}

// Delete cascade-deletes the agent's credential along with its row (the
// credential is a column, not a separate table, so DELETE already removes
// it — invariant from spec §3 "0-1 encrypted credential per agent; cascade-
// deletes credential").
func (r *AgentRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return nil
}
