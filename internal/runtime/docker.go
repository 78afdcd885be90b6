package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-units"
)

// DockerRuntime is the production Runtime, adapted from
// internal/services/sandbox_docker_backend.go's DockerBackend: same client
// construction, same ContainerExecAttach + raw-frame exec path — generalized from a single hardcoded sandbox shape to
// the configurable ContainerSpec spec.md §4.3 calls for.
type DockerRuntime struct {
	cli *client.Client
}

func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (d *DockerRuntime) Close() error {
	return d.cli.Close()
}

func (d *DockerRuntime) ImageExists(ctx context.Context, img string) (bool, error) {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to inspect image %s: %w", img, err)
}

// PullImage pulls img and discards the progress output, mirroring
// DockerBackend.CreateSession's pull-then-discard-output behavior. It is not
// part of the Runtime interface: ContainerManager never pulls, and reports a
// missing image as ImageMissing.
func (d *DockerRuntime) PullImage(ctx context.Context, img string) error {
	r, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer r.Close()
	_, _ = io.Copy(io.Discard, r)
	return nil
}

func (d *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	mounts := make([]string, 0, len(spec.Mounts))
	binds := make([]string, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mode := "rw"
		if m.ReadOnly {
			mode = "ro"
		}
		binds = append(binds, fmt.Sprintf("%s:%s:%s", m.Source, m.Target, mode))
		mounts = append(mounts, m.Target)
	}

	cfg := &container.Config{
		Image:      spec.Image,
		WorkingDir: spec.WorkingDir,
		Env:        spec.Env,
		Labels:     spec.Labels,
		Tty:        true,
		OpenStdin:  true,
		Cmd:        []string{"tail", "-f", "/dev/null"},
	}

	memBytes, err := units.RAMInBytes(fmt.Sprintf("%dMiB", spec.MemoryMiB))
	if err != nil {
		memBytes = spec.MemoryMiB * 1024 * 1024
	}

	hostCfg := &container.HostConfig{
		Binds:       binds,
		NetworkMode: "bridge",
		CapDrop:     []string{"ALL"},
		CapAdd:      []string{"CHOWN", "SETUID", "SETGID"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:   memBytes,
			NanoCPUs: int64(spec.CPUQuota * 1e9),
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsConflict(err) || strings.Contains(err.Error(), "already in use") {
			return "", &ErrNameConflict{Name: spec.Name}
		}
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	return resp.ID, nil
}

func (d *DockerRuntime) StartContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

func (d *DockerRuntime) StopContainer(ctx context.Context, id string) error {
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to stop container %s: %w", id, err)
	}
	return nil
}

func (d *DockerRuntime) RemoveContainer(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}

func (d *DockerRuntime) InspectContainer(ctx context.Context, id string) (*ContainerInfo, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", id, err)
	}
	return toContainerInfo(info.ID, info.Name, info.State.Running, info.Config.Labels), nil
}

func (d *DockerRuntime) FindContainerByName(ctx context.Context, name string) (*ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("name", "^/"+name+"$")
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers by name %s: %w", name, err)
	}
	if len(containers) == 0 {
		return nil, nil
	}
	c := containers[0]
	return toContainerInfo(c.ID, c.Names[0], c.State == "running", c.Labels), nil
}

func (d *DockerRuntime) ListContainersByLabel(ctx context.Context, key, value string) ([]*ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("label", fmt.Sprintf("%s=%s", key, value))
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers by label %s=%s: %w", key, value, err)
	}
	out := make([]*ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		out = append(out, toContainerInfo(c.ID, name, c.State == "running", c.Labels))
	}
	return out, nil
}

// ListContainersByLabelKey returns every container carrying the given label
// key, regardless of its value — used by Janitor to enumerate every
// session-owned container across all sessions (spec §4.6 step 2).
func (d *DockerRuntime) ListContainersByLabelKey(ctx context.Context, key string) ([]*ContainerInfo, error) {
	f := filters.NewArgs()
	f.Add("label", key)
	containers, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers by label key %s: %w", key, err)
	}
	out := make([]*ContainerInfo, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0]
		}
		out = append(out, toContainerInfo(c.ID, name, c.State == "running", c.Labels))
	}
	return out, nil
}

func toContainerInfo(id, name string, running bool, labels map[string]string) *ContainerInfo {
	state := ContainerStopped
	if running {
		state = ContainerRunning
	}
	return &ContainerInfo{ID: id, Name: strings.TrimPrefix(name, "/"), State: state, Labels: labels}
}

// Exec attaches to a new exec process, following DockerBackend.Exec's
// ContainerExecCreate/ContainerExecAttach shape but without stdcopy.StdCopy
// demultiplexing — non-tty callers (PtyAttachPipeline, WorktreeCoordinator)
// parse the 8-byte docker frame header themselves with FrameReader; tty
// callers (Janitor) read the plain stream directly.
func (d *DockerRuntime) Exec(ctx context.Context, id string, argv []string, opts ExecOptions) (*Stream, error) {
	execCfg := container.ExecOptions{
		Cmd:          argv,
		Env:          opts.Env,
		Tty:          opts.TTY,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	execResp, err := d.cli.ContainerExecCreate(ctx, id, execCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := d.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{Tty: opts.TTY})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}

	execID := execResp.ID
	return &Stream{
		Reader: attachResp.Reader,
		Writer: attachResp.Conn,
		Resize: func(ctx context.Context, cols, rows uint) error {
			return d.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{Width: cols, Height: rows})
		},
		Close: func() error {
			attachResp.Close()
			return nil
		},
		ExitCode: func(ctx context.Context) (int, error) {
			inspect, err := d.cli.ContainerExecInspect(ctx, execID)
			if err != nil {
				return 0, fmt.Errorf("failed to inspect exec %s: %w", execID, err)
			}
			return inspect.ExitCode, nil
		},
	}, nil
}
