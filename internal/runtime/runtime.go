// Package runtime is the concrete backing of the Runtime collaborator
// spec.md treats as external (create, start, stop, remove, inspect, exec,
// list). It defines a narrow Runtime interface so ContainerManager can be
// exercised against a fake in tests, and a Docker-backed implementation
// grounded on internal/services/sandbox_docker_backend.go's DockerBackend.
package runtime

import (
	"context"
	"io"
)

// ContainerSpec describes the container ContainerManager asks Runtime to
// create — the configuration table of spec.md §4.3.
type ContainerSpec struct {
	Name       string
	Image      string
	WorkingDir string
	Env        []string
	Labels     map[string]string
	Mounts     []Mount
	MemoryMiB  int64
	CPUQuota   float64
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// ContainerState is Runtime's notion of a container's liveness, independent
// of what Store thinks is true.
type ContainerState string

const (
	ContainerRunning ContainerState = "running"
	ContainerStopped ContainerState = "stopped"
	ContainerGone    ContainerState = "gone"
)

type ContainerInfo struct {
	ID     string
	Name   string
	State  ContainerState
	Labels map[string]string
}

type ExecOptions struct {
	TTY bool
	Env []string
}

// Stream is a live docker exec attachment: Reader carries the raw
// multiplexed frames (docker's 8-byte-header protocol) when TTY is false, or
// a plain byte stream when TTY is true; Writer carries stdin. Resize is a
// no-op for non-tty execs.
type Stream struct {
	Reader io.Reader
	Writer io.Writer
	Resize func(ctx context.Context, cols, rows uint) error
	Close  func() error
	// ExitCode blocks until the exec process has finished.
	ExitCode func(ctx context.Context) (int, error)
}

// Runtime is the narrow surface ContainerManager needs from the container
// engine. A Docker-backed implementation lives in docker.go; swc/swctest
// carries an in-memory fake with the same shape for reconciler tests.
type Runtime interface {
	ImageExists(ctx context.Context, image string) (bool, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (id string, err error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string) error
	RemoveContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (*ContainerInfo, error)
	FindContainerByName(ctx context.Context, name string) (*ContainerInfo, error)
	ListContainersByLabel(ctx context.Context, key, value string) ([]*ContainerInfo, error)
	ListContainersByLabelKey(ctx context.Context, key string) ([]*ContainerInfo, error)
	Exec(ctx context.Context, id string, argv []string, opts ExecOptions) (*Stream, error)
}

// ErrNameConflict is returned by CreateContainer when the requested name is
// already in use — ContainerManager.Create maps this to the 409 retry path
// of spec.md §4.4 "Collision on create".
type ErrNameConflict struct {
	Name string
}

func (e *ErrNameConflict) Error() string {
	return "container name already in use: " + e.Name
}
