// ABOUTME: Gateway orchestrator that composes auth, sync, store, and servers
// ABOUTME: Manages startup ordering, the HTTP server, and graceful shutdown

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gitplan/gitplan/internal/audit"
	"github.com/gitplan/gitplan/internal/auth"
	"github.com/gitplan/gitplan/internal/config"
	"github.com/gitplan/gitplan/internal/directory"
	"github.com/gitplan/gitplan/internal/mcp"
	"github.com/gitplan/gitplan/internal/registry"
	"github.com/gitplan/gitplan/internal/reposync"
	"github.com/gitplan/gitplan/internal/store"
	"github.com/gitplan/gitplan/internal/vcs"
)

// usersFile is the team document inside the users repo that carries the
// member list and API keys in its front section.
const usersFile = "users.md"

// publicRoutes never require a bearer token.
var publicRoutes = []string{"/api/auth/status", "/api/auth/google"}

// Gateway orchestrates the gitplan-gateway server components.
type Gateway struct {
	config      *config.Config
	logger      *slog.Logger
	directory   *directory.Directory
	authn       *auth.Authenticator
	codec       *auth.Codec
	registry    *registry.Registry
	broadcaster *Broadcaster
	auditLog    *audit.Log
	shell       *vcs.Shell
	httpServer  *http.Server

	// set during Run, before the HTTP server starts serving
	store       store.Store
	usersSync   *reposync.Service
	projectSync *reposync.Service
	unsubscribe func()

	commitMu sync.Mutex // serializes write-back commits to the project clone

	shutdownOnce sync.Once
	shutdownErr  error

	// tokeninfoURL is the Google ID token verification endpoint,
	// overridable in tests.
	tokeninfoURL string
	httpClient   *http.Client
}

// New creates a gateway from configuration. Run starts it.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var codec *auth.Codec
	if cfg.Auth.Enabled {
		var err error
		codec, err = auth.NewCodec([]byte(cfg.Auth.JWTSecret))
		if err != nil {
			return nil, fmt.Errorf("creating token codec: %w", err)
		}
	}

	dir := directory.New("", logger)
	authn := auth.NewAuthenticator(codec, dir.FindByAPIKey, cfg.Auth.Enabled, publicRoutes)

	g := &Gateway{
		config:       cfg,
		logger:       logger.With("component", "gateway"),
		directory:    dir,
		authn:        authn,
		codec:        codec,
		registry:     registry.New(logger),
		shell:        vcs.NewShell(),
		tokeninfoURL: "https://oauth2.googleapis.com/tokeninfo",
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	g.broadcaster = NewBroadcaster(authn, logger)

	auditLog, err := audit.Open(cfg.Database.AuditPath, logger)
	if err != nil {
		return nil, err
	}
	g.auditLog = auditLog

	if err := g.registerCapabilities(); err != nil {
		return nil, fmt.Errorf("registering capabilities: %w", err)
	}

	mcpHandler, err := mcp.NewHandler(mcp.Config{
		Registry: g.registry,
		Auth:     authn,
		Logger:   logger,
		Ready:    g.broadcaster.Ready,
		Audit:    g.auditLog.RecordTool,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP handler: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.Handle("/mcp", mcpHandler)
	mux.Handle("/ws", g.broadcaster)
	g.registerAPIRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Auth.Enabled {
		logger.Info("auth enabled", "google_client_id", cfg.Auth.GoogleClientID)
	} else {
		logger.Warn("auth disabled - every caller is treated as admin")
	}

	return g, nil
}

// registerAPIRoutes wires the REST surface. Every /api route goes through
// the auth middleware; the public allowlist is handled inside it.
func (g *Gateway) registerAPIRoutes(mux *http.ServeMux) {
	protect := g.authn.Protect
	mux.Handle("/api/auth/status", protect(http.HandlerFunc(g.handleAuthStatus)))
	mux.Handle("/api/auth/google", protect(http.HandlerFunc(g.handleGoogleLogin)))
	mux.Handle("/api/tasks", protect(http.HandlerFunc(g.handleTasks)))
	mux.Handle("/api/tasks/", protect(http.HandlerFunc(g.handleTaskByID)))
	mux.Handle("/api/docs", protect(http.HandlerFunc(g.handleDocs)))
	mux.Handle("/api/docs/", protect(http.HandlerFunc(g.handleDocByID)))
	mux.Handle("/api/config", protect(http.HandlerFunc(g.handleConfig)))
	mux.Handle("/api/audit", protect(http.HandlerFunc(g.handleAudit)))
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if startup or a server fails.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.startSync(ctx); err != nil {
		return err
	}
	if err := g.openStore(); err != nil {
		g.stopSync()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", g.httpServer.Addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdownErr := g.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startSync brings up the git sync services: the polling users clone when
// auth is enabled, and the one-shot project clone unless running in local
// mode.
func (g *Gateway) startSync(ctx context.Context) error {
	if g.config.Auth.Enabled && g.config.Repos.UsersURL != "" {
		g.usersSync = reposync.New(reposync.Config{
			RemoteURL: g.config.Repos.UsersURL,
			Interval:  g.config.Repos.PollInterval,
			OnSync: func(dir string) error {
				return g.directory.LoadFrom(filepath.Join(dir, usersFile))
			},
			Shell:  g.shell,
			Logger: g.logger,
		})
		if err := g.usersSync.Start(ctx); err != nil {
			return fmt.Errorf("syncing users repo: %w", err)
		}
	}

	if g.config.Repos.ProjectURL != "" {
		g.projectSync = reposync.New(reposync.Config{
			RemoteURL: g.config.Repos.ProjectURL,
			Shell:     g.shell,
			Logger:    g.logger,
		})
		if err := g.projectSync.Start(ctx); err != nil {
			// The users sync may already be polling with a live clone;
			// don't leak it on a failed startup.
			g.stopSync()
			return fmt.Errorf("syncing project repo: %w", err)
		}
	}
	return nil
}

// stopSync stops whichever sync services were started, removing their
// clone directories.
func (g *Gateway) stopSync() {
	if g.usersSync != nil {
		g.usersSync.Stop()
	}
	if g.projectSync != nil {
		g.projectSync.Stop()
	}
}

// openStore opens the project store over the clone or the local path,
// subscribes the broadcaster, and performs the initial load.
func (g *Gateway) openStore() error {
	root := g.config.Project.LocalPath
	if g.projectSync != nil {
		root = g.projectSync.Dir()
	}

	st := store.OpenDir(root, g.logger)
	g.unsubscribe = st.Subscribe(g.broadcaster.Handle)
	if err := st.Load(); err != nil {
		g.unsubscribe()
		g.unsubscribe = nil
		_ = st.Close()
		return fmt.Errorf("loading project: %w", err)
	}
	if err := st.Watch(); err != nil {
		g.logger.Warn("file watching unavailable", "error", err)
	}
	g.store = st
	return nil
}

// Shutdown stops the gateway in dependency order. It is idempotent: the
// first call does the work, later calls return the same result. The HTTP
// drain races the context deadline; when the deadline wins, remaining
// connections are closed hard so teardown always completes.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		if err := g.httpServer.Shutdown(ctx); err != nil {
			_ = g.httpServer.Close()
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}

		g.stopSync()
		g.broadcaster.Close()
		if g.unsubscribe != nil {
			g.unsubscribe()
		}
		if g.store != nil {
			if err := g.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("store close: %w", err))
			}
		}
		g.directory.Clear()
		if err := g.auditLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit close: %w", err))
		}

		if len(errs) > 0 {
			g.shutdownErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return g.shutdownErr
}

// persist commits and pushes project changes when running against a clone.
// Local mode has nothing to push. Failures are logged, not surfaced: the
// local write already succeeded and the next sync can retry.
func (g *Gateway) persist(ctx context.Context, message string) {
	if g.projectSync == nil {
		return
	}
	g.commitMu.Lock()
	defer g.commitMu.Unlock()

	dir := g.projectSync.Dir()
	if dir == "" {
		return
	}
	if err := g.shell.Commit(ctx, dir, message); err != nil {
		g.logger.Warn("committing project change", "error", err)
		return
	}
	if err := g.shell.Push(ctx, dir); err != nil {
		g.logger.Warn("pushing project change", "error", err)
	}
}

// registerCapabilities declares the tool, resource, and prompt tables.
func (g *Gateway) registerCapabilities() error {
	tools := []registry.Tool{
		{
			Name:        "tasks_list",
			Description: "List all project tasks",
			Access:      registry.AccessRead,
			Handler: func(context.Context, json.RawMessage) (string, error) {
				tasks, err := g.store.Tasks()
				if err != nil {
					return "", err
				}
				return marshalJSON(tasks)
			},
		},
		{
			Name:        "task_get",
			Description: "Fetch a single task by id",
			Access:      registry.AccessRead,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(_ context.Context, args json.RawMessage) (string, error) {
				var p struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(args, &p); err != nil || p.ID == "" {
					return "", errors.New("id is required")
				}
				task, err := g.store.Task(p.ID)
				if err != nil {
					return "", err
				}
				return marshalJSON(task)
			},
		},
		{
			Name:        "docs_search",
			Description: "Search project documents by title and content",
			Access:      registry.AccessRead,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
			Handler: func(_ context.Context, args json.RawMessage) (string, error) {
				var p struct {
					Query string `json:"query"`
				}
				if err := json.Unmarshal(args, &p); err != nil {
					return "", errors.New("query is required")
				}
				docs, err := g.store.Docs()
				if err != nil {
					return "", err
				}
				q := strings.ToLower(p.Query)
				matches := []store.Doc{}
				for _, d := range docs {
					if strings.Contains(strings.ToLower(d.Title), q) || strings.Contains(strings.ToLower(d.Raw), q) {
						matches = append(matches, d)
					}
				}
				return marshalJSON(matches)
			},
		},
		{
			Name:        "doc_view",
			Description: "Fetch a single document by id",
			Access:      registry.AccessRead,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"}},"required":["id"]}`),
			Handler: func(_ context.Context, args json.RawMessage) (string, error) {
				var p struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(args, &p); err != nil || p.ID == "" {
					return "", errors.New("id is required")
				}
				doc, err := g.store.Doc(p.ID)
				if err != nil {
					return "", err
				}
				return marshalJSON(doc)
			},
		},
		{
			Name:        "task_create",
			Description: "Create or replace a task",
			Access:      registry.AccessWrite,
			InputSchema: json.RawMessage(`{"type":"object","properties":{"id":{"type":"string"},"raw":{"type":"string"}},"required":["id","raw"]}`),
			Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
				var p struct {
					ID  string `json:"id"`
					Raw string `json:"raw"`
				}
				if err := json.Unmarshal(args, &p); err != nil || p.ID == "" || p.Raw == "" {
					return "", errors.New("id and raw are required")
				}
				if err := g.store.PutTask(p.ID, p.Raw); err != nil {
					return "", err
				}
				g.persist(ctx, "Update task "+p.ID)
				return marshalJSON(map[string]string{"id": p.ID})
			},
		},
		{
			Name:        "config_write",
			Description: "Replace the project configuration",
			Access:      registry.AccessWrite,
			InputSchema: json.RawMessage(`{"type":"object"}`),
			Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
				var cfg map[string]any
				if err := json.Unmarshal(args, &cfg); err != nil {
					return "", errors.New("config must be an object")
				}
				if err := g.store.SetConfig(cfg); err != nil {
					return "", err
				}
				g.persist(ctx, "Update project config")
				return `{"ok":true}`, nil
			},
		},
	}
	for _, t := range tools {
		if err := g.registry.RegisterTool(t); err != nil {
			return err
		}
	}

	if err := g.registry.RegisterResource(registry.Resource{
		URI:         "gitplan://config",
		Name:        "Project configuration",
		Description: "The project's config.yml",
		MimeType:    "application/yaml",
		Handler: func(context.Context) (string, error) {
			cfg, err := g.store.Config()
			if err != nil {
				return "", err
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}); err != nil {
		return err
	}

	return g.registry.RegisterPrompt(registry.Prompt{
		Name:        "standup_summary",
		Description: "Draft a standup summary from the current task list",
		Handler: func(_ context.Context, args map[string]string) (string, error) {
			tasks, err := g.store.Tasks()
			if err != nil {
				return "", err
			}
			var b strings.Builder
			b.WriteString("Summarize the current state of these tasks for a standup")
			if team := args["team"]; team != "" {
				b.WriteString(" of team " + team)
			}
			b.WriteString(":\n")
			for _, t := range tasks {
				fmt.Fprintf(&b, "- %s: %s\n", t.ID, t.Title)
			}
			return b.String(), nil
		},
	})
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the initial project load has completed.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.broadcaster.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("loading project"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
