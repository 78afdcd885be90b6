package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/craftastic-dev/orchestrator/internal/errs"
)

const (
	LabelSession     = "orchestrator.session"
	LabelUser        = "orchestrator.user"
	LabelEnvironment = "orchestrator.environment"
	LabelSessionName = "orchestrator.session-name"
)

// ManagerConfig is the operator-tunable half of spec.md §4.3's
// "configuration of a created container" table — the rest (labels, mounts,
// name) is computed per call from CreateParams.
type ManagerConfig struct {
	Image     string
	MemoryMiB int64
	CPUQuota  float64
	DataRoot  string
}

// Manager is ContainerManager (C3): create/reuse/destroy/exec over the
// narrow Runtime interface, generalized from DockerBackend per
// SPEC_FULL.md §4.3.
type Manager struct {
	rt  Runtime
	cfg ManagerConfig
}

func NewManager(rt Runtime, cfg ManagerConfig) *Manager {
	return &Manager{rt: rt, cfg: cfg}
}

type CreateParams struct {
	SessionID       string
	UserID          string
	EnvironmentID   string
	EnvironmentSlug string
	SessionSlug     string
	SessionName     string
}

// Name computes the deterministic slug of spec.md §3:
// orchestrator-<env-slug>-<session-slug>-<session-id[0:8]>.
func Name(envSlug, sessionSlug, sessionID string) string {
	suffix := sessionID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("orchestrator-%s-%s-%s", envSlug, sessionSlug, suffix)
}

func (m *Manager) labels(p CreateParams) map[string]string {
	return map[string]string{
		LabelSession:     p.SessionID,
		LabelUser:        p.UserID,
		LabelEnvironment: p.EnvironmentID,
		LabelSessionName: p.SessionName,
	}
}

// Create builds and creates a container per spec.md §4.3's configuration
// table. On a 409 name collision it retries once with a deterministic
// base36-timestamp suffix (spec §4.4 "Collision on create"); a second
// collision is fatal.
func (m *Manager) Create(ctx context.Context, p CreateParams) (string, error) {
	ok, err := m.rt.ImageExists(ctx, m.cfg.Image)
	if err != nil {
		return "", errs.Wrap(errs.RuntimeFailure, "failed to check sandbox image", err)
	}
	if !ok {
		return "", errs.ImageMissingErr(m.cfg.Image)
	}

	name := Name(p.EnvironmentSlug, p.SessionSlug, p.SessionID)
	spec := m.spec(p, name)

	id, err := m.rt.CreateContainer(ctx, spec)
	if _, conflict := err.(*ErrNameConflict); conflict {
		spec.Name = fmt.Sprintf("%s-%s", name, strconv.FormatInt(time.Now().Unix(), 36))
		id, err = m.rt.CreateContainer(ctx, spec)
	}
	if err != nil {
		return "", errs.Wrap(errs.ContainerCreateFailed, "failed to create container", err)
	}

	if err := m.rt.StartContainer(ctx, id); err != nil {
		_ = m.rt.RemoveContainer(ctx, id)
		return "", errs.Wrap(errs.ContainerCreateFailed, "failed to start container", err)
	}
	return id, nil
}

func (m *Manager) spec(p CreateParams, name string) ContainerSpec {
	return ContainerSpec{
		Name:       name,
		Image:      m.cfg.Image,
		WorkingDir: "/workspace",
		Env: []string{
			"ENV=development",
			"USER_ID=" + p.UserID,
			"SESSION_ID=" + p.SessionID,
			"ENVIRONMENT_NAME=" + p.EnvironmentSlug,
		},
		Labels: m.labels(p),
		Mounts: []Mount{
			{
				Source:   m.cfg.DataRoot + "/repos/" + p.EnvironmentID,
				Target:   "/repos/" + p.EnvironmentID,
				ReadOnly: false,
			},
		},
		MemoryMiB: m.cfg.MemoryMiB,
		CPUQuota:  m.cfg.CPUQuota,
	}
}

// EnsureRunning starts the container if Runtime reports it stopped; fails
// ContainerGone if Runtime no longer knows about it at all.
func (m *Manager) EnsureRunning(ctx context.Context, containerID string) error {
	info, err := m.rt.InspectContainer(ctx, containerID)
	if err != nil {
		return errs.Wrap(errs.RuntimeFailure, "failed to inspect container", err)
	}
	if info == nil {
		return errs.New(errs.ContainerGone, fmt.Sprintf("container %s no longer exists", containerID))
	}
	if info.State == ContainerRunning {
		return nil
	}
	if err := m.rt.StartContainer(ctx, containerID); err != nil {
		return errs.Wrap(errs.RuntimeFailure, "failed to start container", err)
	}
	return nil
}

// Inspect exposes the raw Runtime state for SessionReconciler's case
// analysis (running / stopped / gone).
func (m *Manager) Inspect(ctx context.Context, containerID string) (*ContainerInfo, error) {
	return m.rt.InspectContainer(ctx, containerID)
}

// ReuseByName implements spec.md §4.3's reuse_by_name: present+running is
// returned as-is; present+stopped is removed (the caller falls through to
// Create); absent returns (nil, nil).
func (m *Manager) ReuseByName(ctx context.Context, envSlug, sessionSlug, sessionID string) (*ContainerInfo, error) {
	name := Name(envSlug, sessionSlug, sessionID)
	info, err := m.rt.FindContainerByName(ctx, name)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "failed to look up container by name", err)
	}
	if info == nil {
		return nil, nil
	}
	if info.State == ContainerRunning {
		return info, nil
	}
	if err := m.rt.RemoveContainer(ctx, info.ID); err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "failed to remove stopped container", err)
	}
	return nil, nil
}

// Destroy is best-effort: stop+remove never surfaces an error to the
// caller, matching DockerBackend.DestroySession and spec.md §4.3's
// "never throws (logged warning on failure)".
func (m *Manager) Destroy(ctx context.Context, containerID string) {
	_ = m.rt.StopContainer(ctx, containerID)
	_ = m.rt.RemoveContainer(ctx, containerID)
}

// ListBySessionLabel enumerates every container bearing a given session's
// label. Janitor does not use it; its sweep goes through
// ListAllSessionContainers.
func (m *Manager) ListBySessionLabel(ctx context.Context, sessionID string) ([]*ContainerInfo, error) {
	return m.rt.ListContainersByLabel(ctx, LabelSession, sessionID)
}

// ListAllSessionContainers returns every running or stopped container this
// manager created for any session — Janitor's label-reachability sweep
// (spec §4.6 step 2) iterates this set, not a per-session lookup.
func (m *Manager) ListAllSessionContainers(ctx context.Context) ([]*ContainerInfo, error) {
	return m.rt.ListContainersByLabelKey(ctx, LabelSession)
}

// Exec runs argv inside the container and returns the live stream. Callers
// that only need a one-shot command (WorktreeCoordinator) should read Stream
// to completion and call ExitCode; PtyAttachPipeline keeps the stream open
// for the life of the websocket.
func (m *Manager) Exec(ctx context.Context, containerID string, argv []string, opts ExecOptions) (*Stream, error) {
	s, err := m.rt.Exec(ctx, containerID, argv, opts)
	if err != nil {
		return nil, errs.Wrap(errs.RuntimeFailure, "failed to exec in container", err)
	}
	return s, nil
}

// Slug lowercases and replaces anything not [a-z0-9-] with '-', collapsing
// runs of '-', per the deterministic naming rule of spec.md §3.
func Slug(s string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevDash = false
		default:
			if !prevDash {
				b.WriteByte('-')
				prevDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
