// Package worktree implements WorktreeCoordinator (C2): inside a container,
// ensure a git worktree for a branch exists at /workspace, self-healing
// corrupt or stale registrations. Each step runs as one or more
// ContainerManager exec calls of an `sh -c` script (branch inventory takes
// up to three: list, fetch, list again), shaped like
// internal/services/sandbox_docker_backend.go's
// DockerBackend.buildExecCommand shell command, per SPEC_FULL.md §4.2. No
// timeout is applied to these exec calls beyond the caller's context.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/craftastic-dev/orchestrator/internal/errs"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
)

// Execer is the slice of ContainerManager that WorktreeCoordinator needs —
// narrow on purpose so swc/swctest can fake it without pulling in Docker.
type Execer interface {
	Exec(ctx context.Context, containerID string, argv []string, opts runtime.ExecOptions) (*runtime.Stream, error)
}

type Coordinator struct {
	exec Execer
}

func NewCoordinator(exec Execer) *Coordinator {
	return &Coordinator{exec: exec}
}

// EnsureWorktree runs the six-step algorithm of spec.md §4.2 against
// containerID: preflight mount check, fast path, reset, branch inventory,
// checkout, postflight.
func (c *Coordinator) EnsureWorktree(ctx context.Context, containerID, envID, branch string) error {
	repoPath := fmt.Sprintf("/repos/%s", envID)

	if err := c.preflight(ctx, containerID, repoPath); err != nil {
		return err
	}

	current, err := c.run(ctx, containerID, "git -C /workspace branch --show-current 2>/dev/null")
	if err == nil && strings.TrimSpace(current) == branch {
		return nil
	}

	if err := c.reset(ctx, containerID, repoPath); err != nil {
		return err
	}

	branches, err := c.branchInventory(ctx, containerID, repoPath)
	if err != nil {
		return err
	}

	if err := c.checkout(ctx, containerID, repoPath, branch, branches); err != nil {
		return err
	}

	return c.postflight(ctx, containerID)
}

// preflight verifies /repos/<env_id> exists and is writable, per step 1.
func (c *Coordinator) preflight(ctx context.Context, containerID, repoPath string) error {
	script := fmt.Sprintf(`
set -e
test -d %[1]q || { echo "MOUNT_MISSING"; exit 10; }
test -d %[1]q/objects || test -f %[1]q/config || { echo "MOUNT_MISSING"; exit 10; }
touch %[1]q/.orchestrator-probe 2>/tmp/probe-err || true
if [ -s /tmp/probe-err ]; then
  cat /tmp/probe-err >&2
  exit 11
fi
rm -f %[1]q/.orchestrator-probe
`, repoPath)

	_, stderr, exitCode, err := c.runCombined(ctx, containerID, script)
	if err != nil {
		return errs.Wrap(errs.GitFailure, "preflight probe failed", err)
	}
	if exitCode == 10 {
		return errs.New(errs.MountMissing, fmt.Sprintf("bare repository mount %s is missing", repoPath))
	}
	if exitCode != 0 {
		return mapStderr(stderr, repoPath)
	}
	return nil
}

// reset removes /workspace's contents and unregisters any stale worktree
// pointing at it, per step 3 — necessary after a container restart where
// the worktree registration can outlive the deleted directory.
func (c *Coordinator) reset(ctx context.Context, containerID, repoPath string) error {
	script := fmt.Sprintf(`
git --git-dir=%[1]q worktree remove --force /workspace 2>/dev/null || true
rm -rf /workspace/* /workspace/.git 2>/dev/null || true
git --git-dir=%[1]q worktree prune
`, repoPath)
	_, stderr, exitCode, err := c.runCombined(ctx, containerID, script)
	if err != nil {
		return errs.Wrap(errs.GitFailure, "worktree reset failed", err)
	}
	if exitCode != 0 {
		return mapStderr(stderr, repoPath)
	}
	return nil
}

func (c *Coordinator) branchInventory(ctx context.Context, containerID, repoPath string) ([]string, error) {
	out, err := c.run(ctx, containerID, fmt.Sprintf(`git --git-dir=%q branch --format='%%(refname:short)'`, repoPath))
	if err != nil {
		return nil, errs.Wrap(errs.GitFailure, "failed to list branches", err)
	}
	branches := splitNonEmpty(out)
	if len(branches) > 0 {
		return branches, nil
	}

	_, _ = c.run(ctx, containerID, fmt.Sprintf(`git --git-dir=%q fetch origin '+refs/heads/*:refs/heads/*'`, repoPath))
	out, err = c.run(ctx, containerID, fmt.Sprintf(`git --git-dir=%q branch --format='%%(refname:short)'`, repoPath))
	if err != nil {
		return nil, errs.Wrap(errs.GitFailure, "failed to list branches after fetch", err)
	}
	branches = splitNonEmpty(out)
	if len(branches) == 0 {
		return nil, errs.New(errs.BranchNotFoundAndNoDefault, "bare repository has no local branches and no default could be determined")
	}
	return branches, nil
}

func (c *Coordinator) checkout(ctx context.Context, containerID, repoPath, branch string, branches []string) error {
	var script string
	if contains(branches, branch) {
		script = fmt.Sprintf(`git --git-dir=%q worktree add /workspace %q`, repoPath, branch)
	} else {
		base := pickDefault(branches)
		script = fmt.Sprintf(`git --git-dir=%q worktree add -b %q /workspace %q`, repoPath, branch, base)
	}
	_, stderr, exitCode, err := c.runCombined(ctx, containerID, script)
	if err != nil {
		return errs.Wrap(errs.GitFailure, "worktree checkout failed", err)
	}
	if exitCode != 0 {
		return mapStderr(stderr, repoPath)
	}
	return nil
}

func (c *Coordinator) postflight(ctx context.Context, containerID string) error {
	_, stderr, exitCode, err := c.runCombined(ctx, containerID, `git -C /workspace status --porcelain`)
	if err != nil {
		return errs.Wrap(errs.GitFailure, "postflight status failed", err)
	}
	if exitCode != 0 {
		return errs.New(errs.GitFailure, fmt.Sprintf("postflight git status failed: %s", stderr))
	}
	return nil
}

// run executes script via /bin/sh -c and returns trimmed stdout, failing on
// any non-zero exit — used for read-only inventory commands.
func (c *Coordinator) run(ctx context.Context, containerID, script string) (string, error) {
	out, _, exitCode, err := c.runCombined(ctx, containerID, script)
	if err != nil {
		return "", err
	}
	if exitCode != 0 {
		return "", fmt.Errorf("command exited %d: %s", exitCode, script)
	}
	return out, nil
}

// runCombined runs script with TTY:false so Docker demultiplexes stdout and
// stderr through the framed exec protocol FrameReader decodes (the same
// reader internal/terminal uses), and reports script's own real exit code
// instead of a composite shell pipeline's — a TTY:true combined stream has no
// per-channel framing, and a ";"-joined wrapper script's exit status is only
// ever that of its last command, so neither would let the error-mapping
// table below ever see a real failure.
func (c *Coordinator) runCombined(ctx context.Context, containerID, script string) (stdout, stderr string, exitCode int, err error) {
	stream, execErr := c.exec.Exec(ctx, containerID, []string{"sh", "-c", script}, runtime.ExecOptions{TTY: false})
	if execErr != nil {
		return "", "", 0, execErr
	}
	defer stream.Close()

	var stdoutBuf, stderrBuf strings.Builder
	reader := runtime.NewFrameReader(stream.Reader)
	for {
		id, payload, readErr := reader.ReadFrame()
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return "", "", 0, readErr
			}
			break
		}
		switch id {
		case runtime.StreamStdout:
			stdoutBuf.Write(payload)
		case runtime.StreamStderr:
			stderrBuf.Write(payload)
		}
	}

	code, err := stream.ExitCode(ctx)
	if err != nil {
		return stdoutBuf.String(), stderrBuf.String(), 0, err
	}
	return stdoutBuf.String(), stderrBuf.String(), code, nil
}

func mapStderr(stderr, mountPath string) error {
	switch {
	case strings.Contains(stderr, "Read-only file system"):
		return errs.MountReadOnlyErr(mountPath)
	case strings.Contains(stderr, "No space left"):
		return errs.New(errs.Internal, "no space left on device")
	case strings.Contains(stderr, "Permission denied"):
		return errs.MountPermissionDeniedErr(mountPath)
	default:
		return errs.New(errs.GitFailure, stderr)
	}
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func pickDefault(branches []string) string {
	for _, preferred := range []string{"main", "master"} {
		if contains(branches, preferred) {
			return preferred
		}
	}
	return branches[0]
}
