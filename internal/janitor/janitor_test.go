package janitor_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftastic-dev/orchestrator/internal/janitor"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSessions struct {
	rows   []*models.Session
	dead   []string
}

func (f *fakeSessions) ListNonDead(context.Context) ([]*models.Session, error) { return f.rows, nil }
func (f *fakeSessions) SetDead(_ context.Context, id string) error {
	f.dead = append(f.dead, id)
	return nil
}

type fakeStream struct {
	body string
}

func (s *fakeStream) toStream() *runtime.Stream {
	return &runtime.Stream{
		Reader:   strings.NewReader(s.body),
		Writer:   io.Discard,
		Close:    func() error { return nil },
		ExitCode: func(context.Context) (int, error) { return 0, nil },
	}
}

type fakeContainers struct {
	infos     map[string]*runtime.ContainerInfo
	all       []*runtime.ContainerInfo
	sessions  map[string]string // containerID -> tmux list-sessions output
	killed    []string
	destroyed []string
}

func (f *fakeContainers) Inspect(_ context.Context, containerID string) (*runtime.ContainerInfo, error) {
	return f.infos[containerID], nil
}

func (f *fakeContainers) ListAllSessionContainers(context.Context) ([]*runtime.ContainerInfo, error) {
	return f.all, nil
}

func (f *fakeContainers) Destroy(_ context.Context, containerID string) {
	f.destroyed = append(f.destroyed, containerID)
}

func (f *fakeContainers) Exec(_ context.Context, containerID string, argv []string, _ runtime.ExecOptions) (*runtime.Stream, error) {
	if len(argv) >= 2 && argv[0] == "tmux" && argv[1] == "list-sessions" {
		return (&fakeStream{body: f.sessions[containerID]}).toStream(), nil
	}
	if len(argv) >= 2 && argv[0] == "tmux" && argv[1] == "kill-session" {
		f.killed = append(f.killed, argv[len(argv)-1])
		return (&fakeStream{body: ""}).toStream(), nil
	}
	return (&fakeStream{body: ""}).toStream(), nil
}

type fakePruner struct {
	pruned []string
}

func (f *fakePruner) PruneWorktrees(_ context.Context, envID string) error {
	f.pruned = append(f.pruned, envID)
	return nil
}

func TestSweep_MarksDeadWhenContainerGone(t *testing.T) {
	containerID := "c1"
	sessions := &fakeSessions{rows: []*models.Session{
		{ID: "s1", EnvironmentID: "e1", PtyMuxName: "session-s1", ContainerID: &containerID},
	}}
	containers := &fakeContainers{
		infos:    map[string]*runtime.ContainerInfo{}, // containerID absent => gone
		all:      nil,
		sessions: map[string]string{},
	}
	pruner := &fakePruner{}

	j := janitor.New(sessions, containers, pruner, time.Minute, discardLogger())
	require.NoError(t, j.Sweep(context.Background()))

	assert.Equal(t, []string{"s1"}, sessions.dead)
	assert.Equal(t, []string{"e1"}, pruner.pruned)
}

func TestSweep_ReapsOrphanPtyMuxSession(t *testing.T) {
	containerID := "c1"
	sessions := &fakeSessions{rows: []*models.Session{
		{ID: "s1", EnvironmentID: "e1", PtyMuxName: "session-s1", ContainerID: &containerID},
	}}
	containers := &fakeContainers{
		infos: map[string]*runtime.ContainerInfo{
			containerID: {ID: containerID, State: runtime.ContainerRunning, Labels: map[string]string{runtime.LabelSession: "s1"}},
		},
		all: []*runtime.ContainerInfo{
			{ID: containerID, State: runtime.ContainerRunning, Labels: map[string]string{runtime.LabelSession: "s1"}},
		},
		sessions: map[string]string{containerID: "session-s1\nsession-orphan\n"},
	}
	pruner := &fakePruner{}

	j := janitor.New(sessions, containers, pruner, time.Minute, discardLogger())
	require.NoError(t, j.Sweep(context.Background()))

	assert.Empty(t, sessions.dead)
	assert.Equal(t, []string{"session-orphan"}, containers.killed)
}

// TestSweep_DestroysOrphanContainerWhenSessionDeleted covers the other half
// of step 2 (spec.md §4.6 "(orphan reap)", §8 P10): a container still running
// but whose owning session row is gone entirely (deleted, not just dead) has
// no reconcile/cleanup call coming, so Janitor must destroy it directly.
func TestSweep_DestroysOrphanContainerWhenSessionDeleted(t *testing.T) {
	liveContainerID := "c-live"
	orphanContainerID := "c-orphan"
	sessions := &fakeSessions{rows: []*models.Session{
		{ID: "s1", EnvironmentID: "e1", PtyMuxName: "session-s1", ContainerID: &liveContainerID},
	}}
	containers := &fakeContainers{
		infos: map[string]*runtime.ContainerInfo{
			liveContainerID: {ID: liveContainerID, State: runtime.ContainerRunning, Labels: map[string]string{runtime.LabelSession: "s1"}},
		},
		all: []*runtime.ContainerInfo{
			{ID: liveContainerID, State: runtime.ContainerRunning, Labels: map[string]string{runtime.LabelSession: "s1"}},
			{ID: orphanContainerID, State: runtime.ContainerRunning, Labels: map[string]string{runtime.LabelSession: "s-deleted"}},
		},
		sessions: map[string]string{liveContainerID: "session-s1\n"},
	}
	pruner := &fakePruner{}

	j := janitor.New(sessions, containers, pruner, time.Minute, discardLogger())
	require.NoError(t, j.Sweep(context.Background()))

	assert.Equal(t, []string{orphanContainerID}, containers.destroyed)
	assert.Empty(t, containers.killed)
}
