// Package swc implements SessionReconciler (C4), the Session-Worktree-
// Container coordinator core: the case analysis of spec.md §4.4 that
// converges Store/Runtime/Worktree state and the keyed mutex that
// serializes it per session.
package swc

import (
	"context"
	"fmt"
	"time"

	"github.com/craftastic-dev/orchestrator/internal/errs"
	"github.com/craftastic-dev/orchestrator/internal/metrics"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

// SessionStore is the narrow slice of Repositories.Sessions the reconciler
// needs — kept as an interface so swc/swctest can exercise the case
// analysis against an in-memory fake.
type SessionStore interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
	SetActiveContainer(ctx context.Context, id, containerID string) error
	SetDead(ctx context.Context, id string) error
	ClearContainerBeforeDestroy(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type EnvironmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Environment, error)
}

type RepoCache interface {
	Ensure(ctx context.Context, envID, repositoryURL string) (string, error)
}

type Containers interface {
	Create(ctx context.Context, p runtime.CreateParams) (string, error)
	EnsureRunning(ctx context.Context, containerID string) error
	Inspect(ctx context.Context, containerID string) (*runtime.ContainerInfo, error)
	ReuseByName(ctx context.Context, envSlug, sessionSlug, sessionID string) (*runtime.ContainerInfo, error)
	Destroy(ctx context.Context, containerID string)
}

type Worktrees interface {
	EnsureWorktree(ctx context.Context, containerID, envID, branch string) error
}

type Reconciler struct {
	sessions     SessionStore
	environments EnvironmentStore
	repos        RepoCache
	containers   Containers
	worktrees    Worktrees
	locks        *keyedMutex
}

func NewReconciler(sessions SessionStore, environments EnvironmentStore, repos RepoCache, containers Containers, worktrees Worktrees) *Reconciler {
	return &Reconciler{
		sessions:     sessions,
		environments: environments,
		repos:        repos,
		containers:   containers,
		worktrees:    worktrees,
		locks:        newKeyedMutex(),
	}
}

// EnsureSessionContainer is the public contract of spec.md §4.4: converge
// session_id onto a running, worktree-correct container and return its id.
// On any error the session row is marked dead with container_id cleared.
func (r *Reconciler) EnsureSessionContainer(ctx context.Context, sessionID string) (string, error) {
	lock := r.locks.lock(sessionID)
	defer lock.Unlock()

	start := time.Now()
	containerID, err := r.ensureLocked(ctx, sessionID)
	outcome := "active"
	if err != nil {
		outcome = "dead"
	}
	metrics.ReconcileTotal.WithLabelValues(outcome).Inc()
	metrics.ReconcileDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		_ = r.sessions.SetDead(ctx, sessionID)
		return "", err
	}
	return containerID, nil
}

func (r *Reconciler) ensureLocked(ctx context.Context, sessionID string) (string, error) {
	session, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session.GitBranch == nil {
		return "", errs.New(errs.Internal, "session has no git branch bound")
	}
	branch := *session.GitBranch

	env, err := r.environments.GetByID(ctx, session.EnvironmentID)
	if err != nil {
		return "", err
	}
	if env.RepositoryURL == nil {
		return "", errs.New(errs.RepoUnavailable, "environment has no repository_url")
	}

	envSlug := runtime.Slug(env.Name)
	sessionSlug := runtime.Slug(session.Name)

	if session.ContainerID != nil {
		return r.reconcileExisting(ctx, session, env, branch, envSlug, sessionSlug)
	}
	return r.reconcileByName(ctx, session, env, branch, envSlug, sessionSlug)
}

// reconcileExisting handles cases A, B, C of the table: session.container_id
// is set, and Runtime tells us whether it's running, stopped, or gone.
func (r *Reconciler) reconcileExisting(ctx context.Context, session *models.Session, env *models.Environment, branch, envSlug, sessionSlug string) (string, error) {
	containerID := *session.ContainerID

	info, err := r.containers.Inspect(ctx, containerID)
	if err != nil {
		return "", err
	}

	if info == nil {
		// Case C: container gone. Destroy is idempotent; fall through to
		// the name-based cases as if container_id were null.
		r.containers.Destroy(ctx, containerID)
		return r.reconcileByName(ctx, session, env, branch, envSlug, sessionSlug)
	}

	if info.State != runtime.ContainerRunning {
		// Case B: exists but stopped.
		if err := r.containers.EnsureRunning(ctx, containerID); err != nil {
			return "", err
		}
	}

	// Case A (and B after starting): ensure worktree, mark active.
	if err := r.worktrees.EnsureWorktree(ctx, containerID, env.ID, branch); err != nil {
		return "", err
	}
	if err := r.sessions.SetActiveContainer(ctx, session.ID, containerID); err != nil {
		return "", err
	}
	return containerID, nil
}

// reconcileByName handles cases D, E, F: session.container_id is null (or
// was just cleared), and the deterministic name either resolves to a
// running container (adopt, case D), a stopped one (ContainerManager
// removes it, falls to F), or nothing (create fresh, case F).
func (r *Reconciler) reconcileByName(ctx context.Context, session *models.Session, env *models.Environment, branch, envSlug, sessionSlug string) (string, error) {
	existing, err := r.containers.ReuseByName(ctx, envSlug, sessionSlug, session.ID)
	if err != nil {
		return "", err
	}

	if existing != nil {
		// Case D: adopt.
		if err := r.worktrees.EnsureWorktree(ctx, existing.ID, env.ID, branch); err != nil {
			return "", err
		}
		if err := r.sessions.SetActiveContainer(ctx, session.ID, existing.ID); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	// Case E falls straight into F: name is free (ContainerManager already
	// removed any stopped container of that name inside ReuseByName).
	hostPath, err := r.repos.Ensure(ctx, env.ID, *env.RepositoryURL)
	if err != nil {
		return "", err
	}
	_ = hostPath // ContainerManager derives the mount path itself from env.ID + data root.

	containerID, err := r.containers.Create(ctx, runtime.CreateParams{
		SessionID:       session.ID,
		UserID:          env.UserID,
		EnvironmentID:   env.ID,
		EnvironmentSlug: envSlug,
		SessionSlug:     sessionSlug,
		SessionName:     session.Name,
	})
	if err != nil {
		return "", err
	}

	if err := r.worktrees.EnsureWorktree(ctx, containerID, env.ID, branch); err != nil {
		return "", err
	}
	if err := r.sessions.SetActiveContainer(ctx, session.ID, containerID); err != nil {
		return "", err
	}
	return containerID, nil
}

// CleanupSession implements spec.md §4.4's cleanup_session: destroy the
// container if present (clearing container_id first, per the atomicity
// ordering rule), then delete the session row.
func (r *Reconciler) CleanupSession(ctx context.Context, sessionID string) error {
	lock := r.locks.lock(sessionID)
	defer lock.Unlock()

	session, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil
		}
		return err
	}

	if session.ContainerID != nil {
		containerID := *session.ContainerID
		if err := r.sessions.ClearContainerBeforeDestroy(ctx, sessionID); err != nil {
			return fmt.Errorf("failed to clear container id before destroy: %w", err)
		}
		r.containers.Destroy(ctx, containerID)
	}

	return r.sessions.Delete(ctx, sessionID)
}
