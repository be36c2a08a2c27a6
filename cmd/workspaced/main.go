// Package main implements the workspaced CLI and daemon.
//
// workspaced manages versioned project workspaces: it launches project
// directories from templates, snapshots them into manifest version records,
// and serves the same operations over HTTP.
//
// Usage:
//
//	# Start the HTTP server with defaults
//	workspaced serve
//
//	# Launch a project workspace
//	workspaced launch <project-id> --workflow topic-modeling
//
//	# Configure via file or environment
//	workspaced serve --config ~/.config/workspaced/config.yaml
//	WORKSPACED_SERVER_PORT=8080 workspaced serve
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/config"
	"github.com/fyrsmithlabs/workspaced/internal/docstore"
	httpserver "github.com/fyrsmithlabs/workspaced/internal/http"
	"github.com/fyrsmithlabs/workspaced/internal/logging"
	"github.com/fyrsmithlabs/workspaced/internal/project"
)

// Version information (set via ldflags during build)
var (
	version = "dev"

	// configPath is the --config flag value, empty means the default path.
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "workspaced",
	Short: "Versioned project workspace manager",
	Long: `workspaced manages versioned project workspaces.

Projects are JSON manifests stored in a document store. Each project can be
launched into a working directory built from templates, snapshotted into an
embedded version archive, exported, copied, and deleted.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/workspaced/config.yaml)")
	rootCmd.AddCommand(serveCmd)
}

// serveCmd starts the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the workspaced HTTP server",
	Long: `Start the workspaced HTTP server.

Examples:
  # Start with defaults (localhost:9191)
  workspaced serve

  # Start with a config file
  workspaced serve --config /etc/workspaced/config.yaml`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := httpserver.NewServer(rt.docs, rt.fsys, rt.projectCfg, rt.logger, &httpserver.Config{
		Host: rt.cfg.Server.Host,
		Port: rt.cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		rt.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// runtime bundles the collaborators every command needs.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	docs       *docstore.SQLiteStore
	fsys       billy.Filesystem
	projectCfg *project.Config
}

// newRuntime loads configuration and opens the document store and workspace
// filesystem.
func newRuntime() (*runtime, error) {
	if err := config.EnsureConfigDir(); err != nil {
		return nil, err
	}
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, err
	}

	docs, err := docstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	// Mount the whole host filesystem and resolve the configured
	// directories to absolute paths, so relative config values are
	// anchored at the working directory.
	workspaceDir, err := filepath.Abs(cfg.Workspace.Dir)
	if err != nil {
		return nil, err
	}
	templatesDir, err := filepath.Abs(cfg.Workspace.TemplatesDir)
	if err != nil {
		return nil, err
	}

	projectCfg := project.DefaultConfig()
	projectCfg.WorkspaceDir = workspaceDir
	projectCfg.TemplatesDir = templatesDir
	projectCfg.ProjectsCollection = cfg.Store.ProjectsCollection
	projectCfg.CorpusCollection = cfg.Store.CorpusCollection

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		docs:       docs,
		fsys:       osfs.New("/"),
		projectCfg: projectCfg,
	}, nil
}

func (rt *runtime) Close() {
	_ = rt.logger.Sync()
	_ = rt.docs.Close()
}
