// Package main is the entry point for the agentrt ACP runtime: a stdio
// JSON-RPC process that drives one client connection at a time.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kandev/agentrt/internal/acpserver"
	"github.com/kandev/agentrt/internal/chattemplate"
	"github.com/kandev/agentrt/internal/common/config"
	"github.com/kandev/agentrt/internal/common/logger"
	"github.com/kandev/agentrt/internal/mcpserver"
	"github.com/kandev/agentrt/internal/modelclient"
	"github.com/kandev/agentrt/internal/pathguard"
	"github.com/kandev/agentrt/internal/permission"
	"github.com/kandev/agentrt/internal/ratelimit"
	"github.com/kandev/agentrt/internal/session"
	"github.com/kandev/agentrt/internal/todo"
	"github.com/kandev/agentrt/internal/toolcalls"
	"github.com/kandev/agentrt/internal/toolhandler"
	"github.com/kandev/agentrt/internal/turn"
	"go.uber.org/zap"
)

// defaultModes are the session modes advertised at initialize when no
// richer mode catalog is configured.
var defaultModes = []session.Mode{
	{ID: "ask", Name: "Ask", Description: "Answers questions without making changes."},
	{ID: "code", Name: "Code", Description: "Makes changes with standard tool-use permissions."},
	{ID: "architect", Name: "Architect", Description: "Plans and documents changes before executing them."},
}

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting agentrt")

	// 3. Create context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Build the collaborators that don't participate in the
	// Server/Handler/Controller construction cycle.
	sessions := session.NewRegistry()
	guard := pathguard.New(pathguard.Policy{
		MaxPathLength:         cfg.PathPolicy.MaxPathLength,
		ForbiddenPathPrefixes: cfg.PathPolicy.ForbiddenPathPrefixes,
		ForbiddenWriteExts:    cfg.PathPolicy.ForbiddenWriteExts,
	})
	policy := permission.New(permission.Config{
		AutoApprove:       cfg.Permission.AutoApprove,
		RequirePermission: cfg.Permission.RequirePermission,
	}, nil)
	limiter := ratelimit.New(ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	})
	todos := todo.New(nil)
	mcp := mcpserver.New(log)
	model := modelclient.New(modelclient.Config{
		Endpoint: cfg.ModelServer.Endpoint,
		Timeout:  time.Duration(cfg.ModelServer.TimeoutSec) * time.Second,
	}, log)

	// 5. Tools and Turn each need the not-yet-built Server as their
	// FileSystem/TerminalManager/Notifier collaborator, and Server needs
	// both of them in its Deps. Construct Tools/Turn first with that field
	// left nil, build Server around them, then back-fill.
	handler := &toolhandler.Handler{
		Store:   toolcalls.New(nil),
		Policy:  policy,
		Guard:   guard,
		Limiter: limiter,
		MCP:     mcp,
		Todos:   todos,
	}

	controller := turn.New(turn.Config{
		ContextSize:      cfg.ModelDefaults.ContextSize,
		MaxTokensPerTurn: cfg.ModelDefaults.MaxTokensPerTurn,
		MinTokenFloor:    cfg.ModelDefaults.MinTokenFloor,
		MaxTurnRequests:  cfg.Server.MaxTurnRequests,
	})
	controller.Store = handler.Store
	controller.Tools = handler
	controller.Model = model
	controller.MCP = mcp
	controller.Limiter = limiter

	srv := acpserver.New(acpserver.Deps{
		Sessions:       sessions,
		Tools:          handler,
		Turn:           controller,
		MCP:            mcp,
		Todos:          todos,
		Modes:          defaultModes,
		DefaultModelID: os.Getenv("AGENTRT_MODEL_ID"),
		Renderer: func(sess *session.Session) *chattemplate.Renderer {
			return &chattemplate.Renderer{ModelID: sess.ModelID}
		},
		Log: log,
	})

	handler.FS = srv
	handler.Terminal = srv
	controller.Notifier = srv
	handler.Store.SetNotifier(srv)
	todos.SetListener(srv)

	// 6. Serve the single stdio connection until EOF, a fatal I/O error, or
	// the process is asked to shut down.
	log.Info("listening on stdio")
	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil {
		log.Error("acp server exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("agentrt shut down")
}
