// Package git implements RepoCache (C1): a host-side bare git repository per
// environment, kept in sync with its remote, exposed as a host path for
// ContainerManager to mount read-write. Uses go-git/go-git/v5 for the
// clone/fetch, grounded on ConfigButler-gitops-reverser and
// driftlessaf-go-driftlessaf's use of the same library for host-side
// clone+fetch (SPEC_FULL.md §4.1).
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/craftastic-dev/orchestrator/internal/errs"
)

type RepoCache struct {
	dataRoot string
	logger   *slog.Logger
}

func NewRepoCache(dataRoot string, logger *slog.Logger) *RepoCache {
	return &RepoCache{dataRoot: dataRoot, logger: logger}
}

// HostPath is the deterministic path ContainerManager mounts read-write
// into every container belonging to this environment.
func (c *RepoCache) HostPath(envID string) string {
	return filepath.Join(c.dataRoot, "repos", envID)
}

var fetchRefSpec = config.RefSpec("+refs/heads/*:refs/heads/*")

// Ensure is idempotent: clones the bare repo if the path is missing or
// partial, fetches branches if the existing clone has none, and cleans up
// any partial directory on clone failure (spec §4.1).
func (c *RepoCache) Ensure(ctx context.Context, envID, repositoryURL string) (string, error) {
	path := c.HostPath(envID)

	if !isValidBareRepo(path) {
		if err := os.RemoveAll(path); err != nil {
			return "", errs.Wrap(errs.Internal, "failed to clean partial repo directory", err)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", errs.Wrap(errs.Internal, "failed to create repos parent directory", err)
		}

		repo, err := gogit.PlainClone(path, true, &gogit.CloneOptions{
			URL: repositoryURL,
		})
		if err != nil {
			_ = os.RemoveAll(path)
			return "", errs.Wrap(errs.RepoUnavailable, fmt.Sprintf("failed to clone %s", repositoryURL), err)
		}

		if err := fetchAllBranches(repo); err != nil {
			c.logger.Warn("initial branch fetch failed", "env_id", envID, "error", err)
		}
		return path, nil
	}

	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return "", errs.Wrap(errs.RepoUnavailable, "failed to open existing bare repository", err)
	}

	branches, err := listLocalBranches(repo)
	if err != nil {
		return "", errs.Wrap(errs.RepoUnavailable, "failed to list local branches", err)
	}
	if len(branches) == 0 {
		if err := fetchAllBranches(repo); err != nil {
			return "", errs.Wrap(errs.RepoUnavailable, "repository has no branches and fetch failed", err)
		}
	}
	return path, nil
}

// Fetch refreshes local refs from the remote; failures are logged and
// swallowed — this is a best-effort sync, never a hard dependency for a
// session to proceed (spec §4.1).
func (c *RepoCache) Fetch(_ context.Context, envID string) {
	path := c.HostPath(envID)
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		c.logger.Warn("fetch skipped: repo not open-able", "env_id", envID, "error", err)
		return
	}
	if err := fetchAllBranches(repo); err != nil {
		c.logger.Warn("best-effort fetch failed", "env_id", envID, "error", err)
	}
}

func fetchAllBranches(repo *gogit.Repository) error {
	err := repo.Fetch(&gogit.FetchOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{fetchRefSpec},
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return err
	}
	return nil
}

func listLocalBranches(repo *gogit.Repository) ([]string, error) {
	iter, err := repo.Branches()
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	return names, err
}

// PruneWorktrees drops administrative references in the bare clone to
// worktree paths that no longer exist (spec §4.6 step 3). This is the one
// other place this repo shells out to the git binary directly: go-git has
// no equivalent of "git worktree" bookkeeping, since those files are
// written entirely by the container-native `git worktree add` invocations
// WorktreeCoordinator runs (SPEC_FULL.md §4.2).
func (c *RepoCache) PruneWorktrees(ctx context.Context, envID string) error {
	path := c.HostPath(envID)
	cmd := exec.CommandContext(ctx, "git", "--git-dir", path, "worktree", "prune")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("worktree prune failed for %s: %w: %s", envID, err, out)
	}
	return nil
}

func isValidBareRepo(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	_, err = os.Stat(filepath.Join(path, "config"))
	return err == nil
}
