// ABOUTME: HTTP API handlers for tasks, docs, config, audit, and login
// ABOUTME: Provides the JSON REST surface consumed by the web client

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gitplan/gitplan/internal/audit"
	"github.com/gitplan/gitplan/internal/auth"
	"github.com/gitplan/gitplan/internal/store"
)

// maxAPIBodySize caps REST request bodies at 1MB.
const maxAPIBodySize = 1 << 20

// AuthStatusResponse is the JSON response for GET /api/auth/status.
type AuthStatusResponse struct {
	Enabled bool `json:"enabled"`
}

// GoogleLoginRequest is the JSON request body for POST /api/auth/google.
// The field name matches what Google Identity Services posts.
type GoogleLoginRequest struct {
	Credential string `json:"credential"`
}

// LoginResponse is the JSON response for a successful login.
type LoginResponse struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// TaskRequest is the JSON request body for task creation and updates.
type TaskRequest struct {
	ID  string `json:"id,omitempty"`
	Raw string `json:"raw"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// actorFrom names the caller for audit entries.
func actorFrom(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id != nil {
		return id.Email
	}
	return "anonymous"
}

func (g *Gateway) recordAPI(r *http.Request, action, target string) {
	err := g.auditLog.Append(r.Context(), audit.Entry{
		Actor:  actorFrom(r),
		Action: action,
		Target: target,
	})
	if err != nil {
		g.logger.Warn("failed to record audit entry", "error", err)
	}
}

// handleAuthStatus handles GET /api/auth/status.
func (g *Gateway) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, AuthStatusResponse{Enabled: g.authn.Enabled()})
}

// tokeninfoResponse is the subset of Google's tokeninfo payload we use.
type tokeninfoResponse struct {
	Aud           string `json:"aud"`
	Email         string `json:"email"`
	EmailVerified string `json:"email_verified"`
	Name          string `json:"name"`
}

// handleGoogleLogin handles POST /api/auth/google. It verifies a Google ID
// token, requires the account to exist in the team directory, and issues a
// session token.
func (g *Gateway) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !g.authn.Enabled() || g.config.Auth.GoogleClientID == "" {
		writeError(w, http.StatusNotFound, "login is disabled")
		return
	}

	var req GoogleLoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxAPIBodySize)).Decode(&req); err != nil || req.Credential == "" {
		writeError(w, http.StatusBadRequest, "credential is required")
		return
	}

	info, err := g.verifyGoogleToken(r, req.Credential)
	if err != nil {
		g.logger.Warn("google token rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	identity := g.directory.FindByEmail(info.Email)
	if identity == nil {
		g.logger.Warn("login from account outside the team", "email", info.Email)
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	token, err := g.codec.Sign(identity, g.config.Auth.SessionTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	g.recordAPI(r, "auth/login", identity.Email)
	g.logger.Info("session issued", "email", identity.Email, "role", identity.Role)
	writeJSON(w, http.StatusOK, LoginResponse{
		Token: token,
		Email: identity.Email,
		Name:  identity.Name,
		Role:  string(identity.Role),
	})
}

// verifyGoogleToken checks an ID token against Google's tokeninfo endpoint.
func (g *Gateway) verifyGoogleToken(r *http.Request, idToken string) (*tokeninfoResponse, error) {
	endpoint := g.tokeninfoURL + "?id_token=" + url.QueryEscape(idToken)
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling tokeninfo: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tokeninfo status %d", resp.StatusCode)
	}

	var info tokeninfoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxAPIBodySize)).Decode(&info); err != nil {
		return nil, fmt.Errorf("decoding tokeninfo: %w", err)
	}
	if info.Aud != g.config.Auth.GoogleClientID {
		return nil, fmt.Errorf("token audience %q does not match client id", info.Aud)
	}
	if info.EmailVerified != "true" {
		return nil, errors.New("email not verified")
	}
	return &info, nil
}

// handleTasks handles GET (list) and POST (create) on /api/tasks.
func (g *Gateway) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := g.store.Tasks()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list tasks")
			return
		}
		writeJSON(w, http.StatusOK, tasks)

	case http.MethodPost:
		var req TaskRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxAPIBodySize)).Decode(&req); err != nil || req.Raw == "" {
			writeError(w, http.StatusBadRequest, "raw is required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		if err := g.store.PutTask(req.ID, req.Raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.persist(r.Context(), "Create task "+req.ID)
		g.recordAPI(r, "task/create", req.ID)
		writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTaskByID handles GET and PUT on /api/tasks/{id}.
func (g *Gateway) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		task, err := g.store.Task(id)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read task")
			return
		}
		writeJSON(w, http.StatusOK, task)

	case http.MethodPut:
		var req TaskRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxAPIBodySize)).Decode(&req); err != nil || req.Raw == "" {
			writeError(w, http.StatusBadRequest, "raw is required")
			return
		}
		if err := g.store.PutTask(id, req.Raw); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		g.persist(r.Context(), "Update task "+id)
		g.recordAPI(r, "task/update", id)
		writeJSON(w, http.StatusOK, map[string]string{"id": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleDocs handles GET /api/docs.
func (g *Gateway) handleDocs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	docs, err := g.store.Docs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list docs")
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// handleDocByID handles GET /api/docs/{id} and GET /api/docs/{id}/html.
func (g *Gateway) handleDocByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/docs/")
	wantHTML := strings.HasSuffix(id, "/html")
	if wantHTML {
		id = strings.TrimSuffix(id, "/html")
	}
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	doc, err := g.store.Doc(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read doc")
		return
	}

	if wantHTML {
		html, err := store.RenderHTML(doc.Raw)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to render doc")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(html))
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// handleConfig handles GET and PUT on /api/config.
func (g *Gateway) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg, err := g.store.Config()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read config")
			return
		}
		writeJSON(w, http.StatusOK, cfg)

	case http.MethodPut:
		var cfg map[string]any
		if err := json.NewDecoder(io.LimitReader(r.Body, maxAPIBodySize)).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, "config must be a JSON object")
			return
		}
		if err := g.store.SetConfig(cfg); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to write config")
			return
		}
		g.persist(r.Context(), "Update project config")
		g.recordAPI(r, "config/write", "")
		writeJSON(w, http.StatusOK, cfg)

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAudit handles GET /api/audit. Admin only.
func (g *Gateway) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !auth.IsAdmin(r.Context()) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	f := audit.Filter{
		Actor:  r.URL.Query().Get("actor"),
		Action: r.URL.Query().Get("action"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		f.Limit = n
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = &ts
	}

	entries, err := g.auditLog.List(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
