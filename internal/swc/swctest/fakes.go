// Package swctest provides in-memory fakes for the Reconciler's
// collaborator interfaces (SessionStore, EnvironmentStore, RepoCache,
// Containers, Worktrees), so the case analysis of spec.md §4.4 can be
// exercised without Docker or a real git remote.
package swctest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/craftastic-dev/orchestrator/internal/errs"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/pkg/models"
)

// Sessions is an in-memory SessionStore.
type Sessions struct {
	mu   sync.Mutex
	rows map[string]*models.Session
}

func NewSessions() *Sessions {
	return &Sessions{rows: make(map[string]*models.Session)}
}

func (s *Sessions) Put(session *models.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.rows[session.ID] = &cp
}

func (s *Sessions) GetByID(_ context.Context, id string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "session not found")
	}
	cp := *row
	return &cp, nil
}

func (s *Sessions) SetActiveContainer(_ context.Context, id, containerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return errs.New(errs.NotFound, "session not found")
	}
	row.ContainerID = &containerID
	row.Status = models.SessionStatusActive
	row.UpdatedAt = time.Now()
	return nil
}

func (s *Sessions) SetDead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return nil
	}
	row.Status = models.SessionStatusDead
	row.ContainerID = nil
	return nil
}

func (s *Sessions) ClearContainerBeforeDestroy(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return errs.New(errs.NotFound, "session not found")
	}
	row.ContainerID = nil
	return nil
}

func (s *Sessions) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

// Environments is an in-memory EnvironmentStore.
type Environments struct {
	rows map[string]*models.Environment
}

func NewEnvironments() *Environments {
	return &Environments{rows: make(map[string]*models.Environment)}
}

func (e *Environments) Put(env *models.Environment) {
	cp := *env
	e.rows[env.ID] = &cp
}

func (e *Environments) GetByID(_ context.Context, id string) (*models.Environment, error) {
	row, ok := e.rows[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "environment not found")
	}
	cp := *row
	return &cp, nil
}

// RepoCache is a no-op fake — Ensure succeeds with a synthetic path unless
// Fail is set.
type RepoCache struct {
	EnsureCalls int
	Fail        error
}

func (r *RepoCache) Ensure(_ context.Context, envID, _ string) (string, error) {
	r.EnsureCalls++
	if r.Fail != nil {
		return "", r.Fail
	}
	return "/fake/repos/" + envID, nil
}

// FakeContainer models one Runtime-observed container for Containers.
type FakeContainer struct {
	ID      string
	Name    string
	Running bool
	Labels  map[string]string
}

// Containers is an in-memory Containers fake keyed by container id, with a
// secondary name index so ReuseByName behaves like spec.md §4.3.
type Containers struct {
	mu          sync.Mutex
	byID        map[string]*FakeContainer
	byName      map[string]*FakeContainer
	CreateCalls int
	CreateErr   error
}

func NewContainers() *Containers {
	return &Containers{byID: make(map[string]*FakeContainer), byName: make(map[string]*FakeContainer)}
}

// Seed pre-populates Runtime with a container, simulating a crash-orphan or
// a pre-existing adoption target.
func (c *Containers) Seed(fc *FakeContainer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[fc.ID] = fc
	c.byName[fc.Name] = fc
}

func (c *Containers) Create(_ context.Context, p runtime.CreateParams) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CreateCalls++
	if c.CreateErr != nil {
		return "", c.CreateErr
	}
	name := runtime.Name(p.EnvironmentSlug, p.SessionSlug, p.SessionID)
	id := fmt.Sprintf("container-%s", p.SessionID)
	fc := &FakeContainer{ID: id, Name: name, Running: true, Labels: map[string]string{runtime.LabelSession: p.SessionID}}
	c.byID[id] = fc
	c.byName[name] = fc
	return id, nil
}

func (c *Containers) EnsureRunning(_ context.Context, containerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fc, ok := c.byID[containerID]
	if !ok {
		return errs.New(errs.ContainerGone, "container gone")
	}
	fc.Running = true
	return nil
}

func (c *Containers) Inspect(_ context.Context, containerID string) (*runtime.ContainerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fc, ok := c.byID[containerID]
	if !ok {
		return nil, nil
	}
	return toInfo(fc), nil
}

func (c *Containers) ReuseByName(_ context.Context, envSlug, sessionSlug, sessionID string) (*runtime.ContainerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := runtime.Name(envSlug, sessionSlug, sessionID)
	fc, ok := c.byName[name]
	if !ok {
		return nil, nil
	}
	if fc.Running {
		return toInfo(fc), nil
	}
	delete(c.byName, name)
	delete(c.byID, fc.ID)
	return nil, nil
}

func (c *Containers) Destroy(_ context.Context, containerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fc, ok := c.byID[containerID]; ok {
		delete(c.byName, fc.Name)
	}
	delete(c.byID, containerID)
}

func toInfo(fc *FakeContainer) *runtime.ContainerInfo {
	state := runtime.ContainerStopped
	if fc.Running {
		state = runtime.ContainerRunning
	}
	return &runtime.ContainerInfo{ID: fc.ID, Name: fc.Name, State: state, Labels: fc.Labels}
}

// Worktrees is a no-op fake that records calls and can be made to fail.
type Worktrees struct {
	mu    sync.Mutex
	Calls []string
	Fail  error
}

func (w *Worktrees) EnsureWorktree(_ context.Context, containerID, _, branch string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.Calls = append(w.Calls, containerID+":"+branch)
	return w.Fail
}
