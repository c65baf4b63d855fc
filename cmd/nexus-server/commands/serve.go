package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/opencode/internal/agentpool"
	"github.com/opencode-ai/opencode/internal/config"
	"github.com/opencode-ai/opencode/internal/dispatcher"
	"github.com/opencode-ai/opencode/internal/globaldispatcher"
	"github.com/opencode-ai/opencode/internal/httpserver"
	"github.com/opencode-ai/opencode/internal/llmsession"
	"github.com/opencode-ai/opencode/internal/logging"
	"github.com/opencode-ai/opencode/internal/mcpclient"
	"github.com/opencode-ai/opencode/internal/permission"
	"github.com/opencode-ai/opencode/internal/provider"
	"github.com/opencode-ai/opencode/internal/rpctoken"
	"github.com/opencode-ai/opencode/pkg/types"
)

var (
	serveHost       string
	servePort       int
	serveDirectory  string
	serveLogDir     string
	serveNoAuth     bool
	serveRotateAuth bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the NEXUS3 agent-pool JSON-RPC server",
	Long: `Start the headless multi-agent server: binds a loopback-only raw
HTTP/1.1 JSON-RPC listener, wires the Agent Pool and Global Dispatcher per
the phased bootstrap (Pool <-> GlobalDispatcher have a circular
dependency, resolved by constructing the Pool's shared components first,
the Pool second, and the Global Dispatcher last), and serves until an
interrupt, a shutdown_server request, or every agent reports should_shutdown.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Bind host (must be loopback)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", httpserver.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDirectory, "directory", "", "Default agent working directory (default: cwd)")
	serveCmd.Flags().StringVar(&serveLogDir, "log-dir", "", "Base directory for per-agent raw logs (default: <config-dir>/logs)")
	serveCmd.Flags().BoolVar(&serveNoAuth, "no-auth", false, "Disable bearer token authentication (loopback-only, for local debugging)")
	serveCmd.Flags().BoolVar(&serveRotateAuth, "rotate-token", false, "Generate a fresh bearer token before starting, discarding any existing one")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir := serveDirectory
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("getting working directory: %w", err)
		}
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfgDir, err := resolveConfigDir()
	if err != nil {
		return fmt.Errorf("resolving config directory: %w", err)
	}

	token := ""
	if !serveNoAuth {
		tokenMgr := rpctoken.NewManager(cfgDir, servePort, logging.Logger)
		if serveRotateAuth {
			token, err = tokenMgr.GenerateFresh()
		} else {
			token, err = rpctoken.Discover(cfgDir, servePort, true, logging.Logger)
			if err != nil {
				token, err = tokenMgr.GenerateFresh()
			}
		}
		if err != nil {
			return fmt.Errorf("provisioning bearer token: %w", err)
		}
		logging.Logger.Info().Str("token_path", tokenMgr.TokenPath()).Msg("bearer token ready")
	} else {
		logging.Logger.Warn().Msg("authentication disabled (--no-auth): do not expose this port beyond localhost")
	}

	ctx := context.Background()
	providerRegistry, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		logging.Logger.Warn().Err(err).Msg("failed to initialize some providers")
	}

	logDir := serveLogDir
	if logDir == "" {
		logDir = filepath.Join(cfgDir, "logs")
	}
	logMux := agentpool.NewLogMultiplexer(logDir, logging.Logger)
	defer logMux.Close()

	mcpRegistry := mcpclient.NewRegistry(logging.Logger)
	defer mcpRegistry.CloseAll()
	connectConfiguredMCPServers(ctx, mcpRegistry, appConfig.MCP)

	shared := agentpool.SharedComponents{
		BaseLogDir:         logDir,
		PermissionResolver: permission.NewResolver(nil),
		LogMux:             logMux,
		Log:                logging.Logger,
		MCPRegistry:        mcpRegistry,
	}

	// Phase 1: SharedComponents built above. Phase 2: the Pool, built
	// without a Global Dispatcher (it needs none — the Pool never calls
	// back into it; the "circular dependency" the teacher's bootstrap.py
	// resolves is Python-specific, since GlobalDispatcher there holds a
	// live Pool reference for in-process agent-to-agent calls, which this
	// port makes explicit via GlobalDispatcher's constructor argument
	// instead of a post-construction setter).
	pool := agentpool.New(shared, nil)

	gd := globaldispatcher.New(pool, newSessionFactory(providerRegistry, appConfig.Model), logging.Logger)

	srv, err := httpserver.New(pool, gd, serveHost, servePort, token, logging.Logger)
	if err != nil {
		return fmt.Errorf("building http server: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logging.Logger.Info().Msg("shutdown signal received")
		cancel()
	}()

	logging.Logger.Info().Str("addr", fmt.Sprintf("%s:%d", serveHost, servePort)).Msg("starting nexus-server")
	return srv.Serve(runCtx)
}

// connectConfiguredMCPServers connects every enabled server in the config's
// MCP table at bootstrap. A server that fails to connect is logged and
// skipped rather than aborting startup — one misconfigured MCP server
// should not take down the whole pool.
func connectConfiguredMCPServers(ctx context.Context, registry *mcpclient.Registry, servers map[string]types.MCPConfig) {
	for name, cfg := range servers {
		if cfg.Enabled != nil && !*cfg.Enabled {
			continue
		}
		timeout := 30 * time.Second
		if cfg.Timeout > 0 {
			timeout = time.Duration(cfg.Timeout) * time.Second
		}
		serverCfg := mcpclient.ServerConfig{
			Name:    name,
			Command: cfg.Command,
			URL:     cfg.URL,
			Env:     cfg.Environment,
			Enabled: true,
			Timeout: timeout,
		}
		if _, err := registry.Connect(ctx, serverCfg); err != nil {
			logging.Logger.Warn().Err(err).Str("mcp_server", name).Msg("failed to connect configured mcp server")
		}
	}
}

// newSessionFactory binds create_agent's per-agent Session/ContextManager
// construction to the real Eino provider registry, so every created agent
// actually drives a provider turn rather than a stub.
func newSessionFactory(registry *provider.Registry, defaultModel string) globaldispatcher.SessionFactory {
	return func(agentID, cwd, model, systemPrompt string) (dispatcher.Session, dispatcher.ContextManager) {
		sess := llmsession.New(registry, model, defaultModel, systemPrompt)
		return sess, llmsession.NewContextManager(sess)
	}
}
