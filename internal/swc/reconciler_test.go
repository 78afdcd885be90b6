package swc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/craftastic-dev/orchestrator/internal/swc"
	"github.com/craftastic-dev/orchestrator/internal/swc/swctest"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

func newFixture() (*swc.Reconciler, *swctest.Sessions, *swctest.Environments, *swctest.Containers, *swctest.Worktrees) {
	sessions := swctest.NewSessions()
	environments := swctest.NewEnvironments()
	repoCache := &swctest.RepoCache{}
	containers := swctest.NewContainers()
	worktrees := &swctest.Worktrees{}

	r := swc.NewReconciler(sessions, environments, repoCache, containers, worktrees)
	return r, sessions, environments, containers, worktrees
}

func seedEnvSession(sessions *swctest.Sessions, environments *swctest.Environments) (envID, sessionID string) {
	repoURL := "https://example.invalid/repo.git"
	envID, sessionID = "env-1", "sess-1"
	branch := "feat"

	environments.Put(&models.Environment{
		ID:            envID,
		UserID:        "user-1",
		Name:          "My Env",
		RepositoryURL: &repoURL,
	})
	sessions.Put(&models.Session{
		ID:            sessionID,
		EnvironmentID: envID,
		Name:          "my-session",
		GitBranch:     &branch,
		Status:        models.SessionStatusInactive,
	})
	return envID, sessionID
}

// TestCaseF_CreateFresh covers case F: container_id is null and no
// container with the deterministic name exists, so the reconciler creates
// one from scratch.
func TestCaseF_CreateFresh(t *testing.T) {
	r, sessions, environments, containers, worktrees := newFixture()
	_, sessionID := seedEnvSession(sessions, environments)

	containerID, err := r.EnsureSessionContainer(context.Background(), sessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, containerID)
	assert.Equal(t, 1, containers.CreateCalls)
	assert.Len(t, worktrees.Calls, 1)

	updated, err := sessions.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, updated.Status)
	require.NotNil(t, updated.ContainerID)
	assert.Equal(t, containerID, *updated.ContainerID)
}

// TestCaseD_AdoptByName covers case D: container_id is null but a running
// container with the deterministic name already exists (e.g. pre-seeded
// after a crash) — the reconciler adopts it without creating a new one.
func TestCaseD_AdoptByName(t *testing.T) {
	r, sessions, environments, containers, _ := newFixture()
	envID, sessionID := seedEnvSession(sessions, environments)

	expectedName := "orchestrator-my-env-my-session-" + sessionID[:min(8, len(sessionID))]
	containers.Seed(&swctest.FakeContainer{ID: "preexisting", Name: expectedName, Running: true})

	containerID, err := r.EnsureSessionContainer(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, "preexisting", containerID)
	assert.Equal(t, 0, containers.CreateCalls)

	updated, err := sessions.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusActive, updated.Status)
	_ = envID
}

// TestCaseC_ContainerGoneRecreates covers case C: the stored container_id
// points at a container Runtime no longer knows about — the reconciler
// destroys (idempotent no-op) and falls through to create a fresh one.
func TestCaseC_ContainerGoneRecreates(t *testing.T) {
	r, sessions, environments, containers, _ := newFixture()
	_, sessionID := seedEnvSession(sessions, environments)

	stale := "container-stale"
	session, _ := sessions.GetByID(context.Background(), sessionID)
	session.ContainerID = &stale
	sessions.Put(session)

	containerID, err := r.EnsureSessionContainer(context.Background(), sessionID)
	require.NoError(t, err)
	assert.NotEqual(t, stale, containerID)
	assert.Equal(t, 1, containers.CreateCalls)
}

// TestEnsureSessionContainer_WorktreeFailureMarksDead asserts the error
// path of spec.md §4.4: any failure marks the session dead with
// container_id cleared.
func TestEnsureSessionContainer_WorktreeFailureMarksDead(t *testing.T) {
	r, sessions, environments, _, worktrees := newFixture()
	_, sessionID := seedEnvSession(sessions, environments)
	worktrees.Fail = assertError{"worktree exploded"}

	_, err := r.EnsureSessionContainer(context.Background(), sessionID)
	require.Error(t, err)

	updated, err := sessions.GetByID(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusDead, updated.Status)
	assert.Nil(t, updated.ContainerID)
}

// TestEnsureThenCleanupSession_LeavesNothing is the L1 property: cleanup after
// ensure leaves the session row deleted and no surviving labeled container.
func TestEnsureThenCleanupSession_LeavesNothing(t *testing.T) {
	r, sessions, environments, containers, _ := newFixture()
	_, sessionID := seedEnvSession(sessions, environments)

	containerID, err := r.EnsureSessionContainer(context.Background(), sessionID)
	require.NoError(t, err)

	require.NoError(t, r.CleanupSession(context.Background(), sessionID))

	_, err = sessions.GetByID(context.Background(), sessionID)
	assert.Error(t, err)

	info, err := containers.Inspect(context.Background(), containerID)
	require.NoError(t, err)
	assert.Nil(t, info)
}

type assertError struct{ msg string }

func (e assertError) Error() string { return e.msg }
