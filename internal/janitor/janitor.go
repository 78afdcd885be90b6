// Package janitor implements Janitor (C6): a periodic sweep that marks
// dead sessions whose container vanished, reaps orphaned pty-mux sessions,
// and prunes stale worktree registrations — never creating containers or
// resurrecting rows (spec.md §4.6).
package janitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/craftastic-dev/orchestrator/internal/metrics"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

type SessionStore interface {
	ListNonDead(ctx context.Context) ([]*models.Session, error)
	SetDead(ctx context.Context, id string) error
}

type Containers interface {
	Inspect(ctx context.Context, containerID string) (*runtime.ContainerInfo, error)
	ListAllSessionContainers(ctx context.Context) ([]*runtime.ContainerInfo, error)
	Exec(ctx context.Context, containerID string, argv []string, opts runtime.ExecOptions) (*runtime.Stream, error)
	Destroy(ctx context.Context, containerID string)
}

type RepoPruner interface {
	PruneWorktrees(ctx context.Context, envID string) error
}

type Janitor struct {
	sessions   SessionStore
	containers Containers
	pruner     RepoPruner
	interval   time.Duration
	logger     *slog.Logger
}

func New(sessions SessionStore, containers Containers, pruner RepoPruner, interval time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{sessions: sessions, containers: containers, pruner: pruner, interval: interval, logger: logger}
}

// Run blocks, sweeping every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil {
				j.logger.Warn("janitor sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass of the three steps of spec.md §4.6.
func (j *Janitor) Sweep(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.JanitorSweepDurationSeconds.Observe(time.Since(start).Seconds()) }()

	sessions, err := j.sessions.ListNonDead(ctx)
	if err != nil {
		return fmt.Errorf("failed to list non-dead sessions: %w", err)
	}

	liveSessionIDs := make(map[string]bool, len(sessions))
	ptyMuxNames := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		liveSessionIDs[s.ID] = true
		ptyMuxNames[s.PtyMuxName] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range sessions {
		s := s
		g.Go(func() error {
			return j.reapDeadSession(gctx, s)
		})
	}
	if err := g.Wait(); err != nil {
		j.logger.Warn("dead-session reconciliation had errors", "error", err)
	}

	if err := j.reapOrphanPtyMuxSessions(ctx, liveSessionIDs, ptyMuxNames); err != nil {
		j.logger.Warn("orphan pty-mux reap failed", "error", err)
	}

	envIDs := map[string]bool{}
	for _, s := range sessions {
		envIDs[s.EnvironmentID] = true
	}
	for envID := range envIDs {
		if err := j.pruner.PruneWorktrees(ctx, envID); err != nil {
			j.logger.Warn("worktree prune failed", "environment_id", envID, "error", err)
		}
	}

	return nil
}

// reapDeadSession implements step 1: a non-dead session whose container is
// not running, or gone entirely, transitions to dead.
func (j *Janitor) reapDeadSession(ctx context.Context, s *models.Session) error {
	if s.ContainerID == nil {
		return nil
	}
	info, err := j.containers.Inspect(ctx, *s.ContainerID)
	if err != nil {
		return err
	}
	if info != nil && info.State == runtime.ContainerRunning {
		return nil
	}

	reason := "gone"
	if info != nil {
		reason = "stopped"
	}
	metrics.SessionsMarkedDeadTotal.WithLabelValues(reason).Inc()
	return j.sessions.SetDead(ctx, s.ID)
}

// reapOrphanPtyMuxSessions implements step 2: for every running container
// reachable by the session label, list its pty-mux sessions and kill any
// whose name is not referenced by a live Store row.
func (j *Janitor) reapOrphanPtyMuxSessions(ctx context.Context, liveSessionIDs, livePtyMuxNames map[string]bool) error {
	containers, err := j.containers.ListAllSessionContainers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list session containers: %w", err)
	}

	for _, c := range containers {
		if c.State != runtime.ContainerRunning {
			continue
		}
		if !liveSessionIDs[c.Labels[runtime.LabelSession]] {
			// The owning session row is gone entirely (e.g. deleted) — no
			// reconcile/cleanup call is coming for it, so Janitor itself is
			// the only thing that will ever reap this container (spec.md
			// §4.6 step 2, §8 P10).
			j.containers.Destroy(ctx, c.ID)
			metrics.OrphansReapedTotal.WithLabelValues("orphan_container").Inc()
			continue
		}

		names, err := j.listPtyMuxSessions(ctx, c.ID)
		if err != nil {
			j.logger.Warn("failed to list pty-mux sessions", "container_id", c.ID, "error", err)
			continue
		}
		for _, name := range names {
			if livePtyMuxNames[name] {
				continue
			}
			if err := j.killPtyMuxSession(ctx, c.ID, name); err != nil {
				j.logger.Warn("failed to kill orphan pty-mux session", "container_id", c.ID, "session", name, "error", err)
				continue
			}
			metrics.OrphansReapedTotal.WithLabelValues("pty_mux_orphan").Inc()
		}
	}
	return nil
}

func (j *Janitor) listPtyMuxSessions(ctx context.Context, containerID string) ([]string, error) {
	out, _, err := j.runCaptured(ctx, containerID, []string{"tmux", "list-sessions", "-F", "#{session_name}"})
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

func (j *Janitor) killPtyMuxSession(ctx context.Context, containerID, name string) error {
	_, exitCode, err := j.runCaptured(ctx, containerID, []string{"tmux", "kill-session", "-t", name})
	if err != nil {
		return err
	}
	if exitCode != 0 {
		return fmt.Errorf("tmux kill-session exited %d", exitCode)
	}
	return nil
}

func (j *Janitor) runCaptured(ctx context.Context, containerID string, argv []string) (string, int, error) {
	stream, err := j.containers.Exec(ctx, containerID, argv, runtime.ExecOptions{TTY: true})
	if err != nil {
		return "", 0, err
	}
	defer stream.Close()

	out, err := io.ReadAll(stream.Reader)
	if err != nil {
		return "", 0, err
	}
	code, _ := stream.ExitCode(ctx)
	return string(out), code, nil
}
