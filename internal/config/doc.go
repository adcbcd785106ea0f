// Package config handles configuration loading for gitplan-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${GITPLAN_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	repos:
//	  poll_interval: "5m"
//	auth:
//	  session_ttl: "24h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # API, MCP, and websocket endpoints
//
// Authentication:
//
//	auth:
//	  enabled: true
//	  jwt_secret: "${GITPLAN_JWT_SECRET}"   # random per-process when unset
//	  google_client_id: "....apps.googleusercontent.com"
//	  session_ttl: "24h"
//
// Git remotes:
//
//	repos:
//	  users_url: "https://git.example.com/team/users.git"
//	  project_url: "https://git.example.com/team/project.git"
//	  poll_interval: "5m"   # users repo re-pull cadence
//
// Local mode (serve a working copy instead of cloning project_url):
//
//	project:
//	  local_path: "./myproject"
//
// Audit database:
//
//	database:
//	  audit_path: "/var/lib/gitplan/audit.db"   # auditing off when unset
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - server.http_addr presence
//   - exactly one project source (repos.project_url or project.local_path)
//   - users repo when auth is enabled (the Google client ID stays
//     optional; without it, login is disabled and access is key-only)
//   - duration format validity
//
// # Usage
//
//	cfg, err := config.Load("/etc/gitplan/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
