// Command server is the orchestrator's entrypoint: a cobra root with a
// single "serve" subcommand, following the teacher's cmd/main
// root-plus-subcommands shape but trimmed to this domain's one job
// (SPEC_FULL.md §1 CLI scope decision).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/craftastic-dev/orchestrator/internal/api"
	"github.com/craftastic-dev/orchestrator/internal/auth"
	"github.com/craftastic-dev/orchestrator/internal/config"
	"github.com/craftastic-dev/orchestrator/internal/db"
	"github.com/craftastic-dev/orchestrator/internal/db/repositories"
	"github.com/craftastic-dev/orchestrator/internal/git"
	"github.com/craftastic-dev/orchestrator/internal/janitor"
	"github.com/craftastic-dev/orchestrator/internal/logging"
	"github.com/craftastic-dev/orchestrator/internal/runtime"
	"github.com/craftastic-dev/orchestrator/internal/swc"
	"github.com/craftastic-dev/orchestrator/internal/terminal"
	"github.com/craftastic-dev/orchestrator/internal/worktree"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Multi-tenant development-environment orchestrator",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server, terminal-attach websocket, and janitor sweep",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel)

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	repos := repositories.New(database)
	authenticator := auth.NewAuthenticator(cfg.JWTSecret)

	dockerRuntime, err := runtime.NewDockerRuntime()
	if err != nil {
		return fmt.Errorf("failed to connect to container runtime: %w", err)
	}

	containers := runtime.NewManager(dockerRuntime, runtime.ManagerConfig{
		Image:     cfg.SandboxImage,
		MemoryMiB: int64(cfg.SandboxMemoryLimitMiB),
		CPUQuota:  cfg.SandboxCPULimit,
		DataRoot:  cfg.DataRoot,
	})

	repoCache := git.NewRepoCache(cfg.DataRoot, logger)
	worktrees := worktree.NewCoordinator(containers)
	reconciler := swc.NewReconciler(repos.Sessions, repos.Environments, repoCache, containers, worktrees)
	pipeline := terminal.NewPipeline(authenticator, repos, reconciler, containers, cfg.CORSOrigin, logger)

	server := api.New(cfg, database, repos, authenticator, reconciler, containers, pipeline, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	j := janitor.New(repos.Sessions, containers, repoCache, cfg.JanitorInterval, logger)
	go j.Run(ctx)

	done := make(chan error, 1)
	go func() {
		err := server.Start(ctx)
		if err == http.ErrServerClosed {
			err = nil
		}
		done <- err
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sig:
		logger.Info("received shutdown signal")
		cancel()
		return <-done
	case err := <-done:
		cancel()
		return err
	}
}
