package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/codestep/stepd/internal/assist"
	"github.com/codestep/stepd/internal/config"
	"github.com/codestep/stepd/internal/gateway"
	"github.com/codestep/stepd/internal/mcp"
	"github.com/codestep/stepd/internal/project"
	"github.com/codestep/stepd/internal/runtime"
	"github.com/codestep/stepd/internal/session"
	"github.com/codestep/stepd/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	mcpMode := flag.Bool("mcp", false, "Serve MCP over stdio instead of the WebSocket gateway")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Show version and exit")
	help := flag.Bool("help", false, "Show help and exit")

	flag.Parse()

	if *showVersion {
		fmt.Printf("stepd version %s\n", version.Version)
		os.Exit(0)
	}
	if *help {
		printHelp()
		os.Exit(0)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	// MCP owns stdout for its protocol, so logs always go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	store, err := project.Open(cfg.Store.Path)
	if err != nil {
		logger.Error("failed to open project store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rt := runtime.New(cfg.Runtime)
	registry := session.NewRegistry(cfg.MaxSessions, cfg.SessionTimeout.Std(), logger)
	explainer := assist.New(cfg.Assistant)

	// Spawning materializes the stored code into the project container's
	// data directory first, so the debuggee always runs the latest save.
	spawn := func(ctx context.Context, projectID string) (session.Debuggee, error) {
		p, err := store.Get(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if err := rt.WriteCode(projectID, p.Code); err != nil {
			return nil, err
		}
		return rt.SpawnDebugger(ctx, projectID)
	}

	checker := version.NewChecker()
	checker.CheckForUpdatesAsync()

	if *mcpMode {
		runMCP(logger, registry, store, spawn, cfg, explainer)
		return
	}
	runGateway(logger, registry, store, spawn, cfg, explainer)
}

func runMCP(logger *slog.Logger, registry *session.Registry, store *project.Store, spawn session.SpawnFunc, cfg *config.Config, explainer assist.Explainer) {
	server := mcp.NewServer(mcp.Options{
		Registry:  registry,
		Store:     store,
		Spawn:     spawn,
		Debugger:  cfg.Debugger,
		Explainer: explainer,
		Logger:    logger,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		registry.Close()
		os.Exit(0)
	}()

	logger.Info("mcp server starting", "version", version.Version)
	if err := server.ServeStdio(); err != nil {
		registry.Close()
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	registry.Close()
}

func runGateway(logger *slog.Logger, registry *session.Registry, store *project.Store, spawn session.SpawnFunc, cfg *config.Config, explainer assist.Explainer) {
	server := gateway.NewServer(gateway.Options{
		Config:    cfg.Server,
		Debugger:  cfg.Debugger,
		Registry:  registry,
		Store:     store,
		Spawn:     spawn,
		Explainer: explainer,
		Logger:    logger,
	})

	port, err := server.Start(context.Background())
	if err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}
	logger.Info("gateway started", "port", port, "version", version.Version)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if err := server.Shutdown(context.Background()); err != nil && err != gateway.ErrServerClosed {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`stepd: interactive step-debugging engine for Python programs

Bridges the pdb line debugger to structured clients: a WebSocket gateway
for browser front-ends and an MCP server for AI assistants.

USAGE:
    stepd [OPTIONS]

OPTIONS:
    -config <path>     Path to configuration file (JSON)
    -mcp               Serve MCP over stdio instead of the WebSocket gateway
    -debug             Enable debug logging
    -version           Show version and exit
    -help              Show this help message

CONFIGURATION:
    Create a JSON configuration file to customize behavior:

    {
        "runtime": {
            "dockerPath": "docker",
            "containerPrefix": "stepd-project-",
            "dataDir": "/var/lib/stepd/projects",
            "codeFile": "main.py",
            "pythonPath": "python"
        },
        "debugger": {
            "entryFunction": "main",
            "maxDepth": 4,
            "maxChildren": 64
        },
        "server": {
            "host": "127.0.0.1",
            "portRange": [8750, 8799]
        },
        "store": {
            "path": "stepd.db"
        },
        "assistant": {
            "model": "gpt-4.1-mini"
        },
        "maxSessions": 10,
        "sessionTimeout": "30m"
    }

ENDPOINTS (gateway mode):
    GET  /health         Health and live session count
    GET  /ws/debug       Debug session WebSocket
    CRUD /projects       Project storage

TOOLS (mcp mode):
    debug_start            Start a debug session for a project
    debug_step             Step over, into, or out
    debug_state            Get the current session state
    debug_explain          Explain the last step
    debug_stop             Terminate a session
    debug_list_sessions    List active sessions
    project_create         Create a project
    project_list           List projects
    project_get            Fetch a project
    project_update         Update a project
    project_delete         Delete a project

For more information, visit: https://github.com/codestep/stepd`)
}
