// ABOUTME: Entry point for the gitplan-gateway server
// ABOUTME: Serves the project API, MCP endpoint, and change notifications

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/gitplan/gitplan/internal/config"
	"github.com/gitplan/gitplan/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _ _             _
   __ _(_) |_ _ __ | | __ _ _ __
  / _' | | __| '_ \| |/ _' | '_ \
 | (_| | | |_| |_) | | (_| | | | |
  \__, |_|\__| .__/|_|\__,_|_| |_|
  |___/      |_|
`

// getConfigPath returns the path to the gateway config file.
// Priority: GITPLAN_CONFIG env var > XDG_CONFIG_HOME/gitplan/gateway.yaml > ~/.config/gitplan/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GITPLAN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "gitplan", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: gitplan-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  init      Create a new config file interactively")
		fmt.Println("  health    Check gateway health")
		fmt.Println("  version   Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	// A missing secret gets a random per-process one: sessions survive only
	// until restart, which is fine for trying things out but not production.
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret == "" {
		secret, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generating session secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
		logger.Warn("auth.jwt_secret not set, using a random per-process secret; sessions will not survive restarts")
	}

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:    %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	if cfg.Project.LocalPath != "" {
		fmt.Printf("Project: %s (local)\n", cfg.Project.LocalPath)
	} else {
		fmt.Printf("Project: %s\n", cfg.Repos.ProjectURL)
	}
	if cfg.Auth.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Users:   %s\n", cfg.Repos.UsersURL)
	}
	fmt.Println()

	logger.Info("starting gitplan-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("gitplan-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Project Source ---")
	projectURL := prompt(reader, "Project repo URL (leave empty for a local directory)", "")
	var localPath string
	if projectURL == "" {
		localPath = prompt(reader, "Local project directory", ".")
	}

	fmt.Println("\n--- Authentication ---")
	enableAuth := prompt(reader, "Enable auth?", "no")
	authEnabled := strings.ToLower(enableAuth) == "yes" || strings.ToLower(enableAuth) == "y"

	var usersURL, googleClientID string
	if authEnabled {
		usersURL = prompt(reader, "Users repo URL", "")
		googleClientID = prompt(reader, "Google OAuth client ID", "")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# gitplan-gateway configuration\n")
	cfg.WriteString("# Generated by gitplan-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	if projectURL != "" {
		cfg.WriteString("repos:\n")
		cfg.WriteString(fmt.Sprintf("  project_url: \"%s\"\n", projectURL))
		if usersURL != "" {
			cfg.WriteString(fmt.Sprintf("  users_url: \"%s\"\n", usersURL))
			cfg.WriteString("  poll_interval: \"5m\"\n")
		}
		cfg.WriteString("\n")
	} else {
		if usersURL != "" {
			cfg.WriteString("repos:\n")
			cfg.WriteString(fmt.Sprintf("  users_url: \"%s\"\n", usersURL))
			cfg.WriteString("  poll_interval: \"5m\"\n")
			cfg.WriteString("\n")
		}
		cfg.WriteString("project:\n")
		cfg.WriteString(fmt.Sprintf("  local_path: \"%s\"\n", localPath))
		cfg.WriteString("\n")
	}

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", authEnabled))
	if authEnabled {
		secret, err := generateSecret()
		if err != nil {
			return fmt.Errorf("generating session secret: %w", err)
		}
		cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n", secret))
		cfg.WriteString(fmt.Sprintf("  google_client_id: \"%s\"\n", googleClientID))
		cfg.WriteString("  session_ttl: \"24h\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  gitplan-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
