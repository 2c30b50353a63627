// Package cmd provides the CLI commands for lattice.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/latticemcp/lattice/internal/cache"
	"github.com/latticemcp/lattice/internal/config"
	"github.com/latticemcp/lattice/internal/embed"
	"github.com/latticemcp/lattice/internal/engine"
	"github.com/latticemcp/lattice/internal/logging"
	"github.com/latticemcp/lattice/internal/session"
	"github.com/latticemcp/lattice/internal/store"
	"github.com/latticemcp/lattice/internal/vector"
	"github.com/latticemcp/lattice/internal/workspace"
	"github.com/latticemcp/lattice/pkg/version"
)

var (
	flagConfig    string
	flagWorkspace string
	flagDebug     bool
	flagPlain     bool
	flagNoColor   bool
)

// NewRootCmd creates the root command for the lattice CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lattice",
		Short: "Multi-project code intelligence over MCP",
		Long: `Lattice indexes every project in a workspace and answers natural
language queries across all of them, ranked with each caller's working
context. It serves AI coding assistants over the Model Context
Protocol and doubles as a standalone search CLI.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("lattice version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: .lattice.yaml, then ~/.lattice/config.yaml)")
	cmd.PersistentFlags().StringVarP(&flagWorkspace, "workspace", "w", "", "Workspace config file (default: nearest "+workspace.DefaultFileName+")")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&flagPlain, "plain", false, "Force plain text output")
	cmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newGraphCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// app bundles everything a command needs, built once per invocation.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	vectors  vector.Store
	embedder embed.Embedder
	cache    *cache.Cache
	sessions *session.Manager
	engine   *engine.Engine
	wsPath   string
	dataDir  string

	cleanups []func()
}

// findWorkspace resolves the workspace config path from the flag or by
// walking up from the working directory.
func findWorkspace() (string, error) {
	if flagWorkspace != "" {
		abs, err := filepath.Abs(flagWorkspace)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return workspace.Find(cwd)
}

// buildApp wires the full stack. With requireWorkspace set, a missing
// workspace config is an error; otherwise the engine starts empty.
func buildApp(ctx context.Context, requireWorkspace bool) (*app, error) {
	a := &app{}

	wsPath, wsErr := findWorkspace()
	if wsErr != nil && requireWorkspace {
		return nil, fmt.Errorf("no workspace config found: %w (run 'lattice discover' to draft one)", wsErr)
	}
	a.wsPath = wsPath

	baseDir := "."
	if wsPath != "" {
		baseDir = filepath.Dir(wsPath)
	}

	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.Load(flagConfig)
	} else {
		cfg, err = config.LoadDefault(baseDir)
	}
	if err != nil {
		return nil, err
	}
	a.cfg = cfg

	logCfg := logging.Config{
		Level:         cfg.Log.Level,
		FilePath:      cfg.Log.File,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxFiles:      cfg.Log.MaxFiles,
		WriteToStderr: cfg.Log.Stderr,
	}
	if flagDebug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, err
	}
	a.logger = logger
	a.cleanups = append(a.cleanups, logCleanup)

	dataDir := config.DataDir(baseDir)
	a.dataDir = dataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		a.Close()
		return nil, err
	}

	st, err := store.Open(filepath.Join(dataDir, "lattice.db"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st
	a.cleanups = append(a.cleanups, func() { _ = st.Close() })

	vectors, err := openVectorStore(cfg, dataDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.vectors = vectors
	a.cleanups = append(a.cleanups, func() { _ = vectors.Close() })

	embedder, err := embed.NewFromConfig(ctx, cfg.Embedding)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.embedder = embedder
	a.cleanups = append(a.cleanups, func() { _ = embedder.Close() })

	var remote cache.Remote
	if cfg.Cache.L2.Enabled {
		kv, err := cache.NewNATSKV(cfg.Cache.L2, logger)
		if err != nil {
			logger.Warn("shared cache tier unavailable, continuing without it", "error", err)
		} else {
			remote = kv
		}
	}
	c, err := cache.New(cfg.Cache, st, remote, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = c
	a.cleanups = append(a.cleanups, c.Close)

	a.sessions = session.NewManager(st, logger)

	e, err := engine.New(ctx, cfg, engine.Deps{
		Embedder: embedder,
		Vectors:  vectors,
		Store:    st,
		Cache:    c,
		Sessions: a.sessions,
		Logger:   logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.engine = e
	a.cleanups = append(a.cleanups, func() { _ = e.Close() })

	if wsPath != "" {
		if err := e.LoadWorkspace(ctx, wsPath); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// openVectorStore selects the embedded or remote backend.
func openVectorStore(cfg *config.Config, dataDir string) (vector.Store, error) {
	if cfg.Vector.Backend == "qdrant" {
		return vector.NewQdrantStore(vector.QdrantConfig{
			Host:   cfg.Vector.Qdrant.Host,
			Port:   cfg.Vector.Qdrant.Port,
			APIKey: cfg.Vector.Qdrant.APIKey,
			UseTLS: cfg.Vector.Qdrant.UseTLS,
		})
	}
	dir := cfg.Vector.DataDir
	if dir == "" {
		dir = filepath.Join(dataDir, "vectors")
	}
	return vector.NewHNSWStore(dir)
}

// Close releases everything in reverse construction order.
func (a *app) Close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		a.cleanups[i]()
	}
	a.cleanups = nil
}
