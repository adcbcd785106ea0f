// ABOUTME: HTTP request authentication for the protected API namespace
// ABOUTME: Classifies routes, resolves bearer credentials, and enforces the viewer read-only split

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gitplan/gitplan/internal/directory"
)

// KeyLookup resolves a static API key to an identity, or nil if unknown.
type KeyLookup func(key string) *directory.Identity

// Error is an authentication failure with its HTTP status. The message is
// deliberately generic: callers never learn whether a credential was missing,
// malformed, or expired.
type Error struct {
	Status  int
	Message string
}

func errUnauthorized() *Error {
	return &Error{Status: http.StatusUnauthorized, Message: "unauthorized"}
}

func errForbidden() *Error {
	return &Error{Status: http.StatusForbidden, Message: "forbidden"}
}

// writeMethods is the set of mutating HTTP methods a viewer may not use on
// protected routes. Note this is a fixed write set, not "anything except GET":
// HEAD and OPTIONS pass through.
var writeMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Authenticator resolves inbound HTTP requests to identities.
type Authenticator struct {
	codec   *Codec
	keys    KeyLookup
	enabled bool
	public  map[string]bool
}

// NewAuthenticator creates an authenticator. codec may be nil when auth is
// disabled; keys may be nil when no API-key directory is available.
func NewAuthenticator(codec *Codec, keys KeyLookup, enabled bool, publicRoutes []string) *Authenticator {
	public := make(map[string]bool, len(publicRoutes))
	for _, r := range publicRoutes {
		public[r] = true
	}
	return &Authenticator{
		codec:   codec,
		keys:    keys,
		enabled: enabled,
		public:  public,
	}
}

// Enabled reports whether authentication is enforced.
func (a *Authenticator) Enabled() bool {
	return a.enabled
}

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Authenticate classifies the request and resolves the caller.
//
//  1. Auth disabled, public route, or a path outside /api/ passes through
//     with no identity and no error.
//  2. A missing bearer credential on a protected route is a 401.
//  3. The bearer is resolved as a session token first, then as a static API
//     key; neither resolving is a 401.
//  4. A viewer using a mutating method is a 403.
func (a *Authenticator) Authenticate(r *http.Request) (*directory.Identity, *Error) {
	if !a.enabled || a.public[r.URL.Path] || !strings.HasPrefix(r.URL.Path, "/api/") {
		return nil, nil
	}

	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil, errUnauthorized()
	}

	id, err := a.resolveBearer(token)
	if err != nil {
		return nil, errUnauthorized()
	}

	if id.Role == directory.RoleViewer && writeMethods[r.Method] {
		return id, errForbidden()
	}
	return id, nil
}

// resolveBearer resolves a bearer credential as a session token, falling back
// to the static API key table.
func (a *Authenticator) resolveBearer(token string) (*directory.Identity, error) {
	if a.codec != nil {
		if claims, err := a.codec.Verify(token); err == nil {
			return &directory.Identity{
				Email: claims.Email,
				Name:  claims.Name,
				Role:  claims.Role,
			}, nil
		}
	}
	if a.keys != nil {
		if id := a.keys(token); id != nil {
			return id, nil
		}
	}
	return nil, ErrInvalidToken
}

// AuthenticateKey resolves the caller of a protocol request via the API-key
// path only. The key is accepted as a bearer header or, as a fallback for
// clients that cannot set headers, a "token" query parameter. No read/write
// method distinction is applied here; the capability filter downstream
// narrows what a viewer key may invoke.
func (a *Authenticator) AuthenticateKey(r *http.Request) (*directory.Identity, error) {
	if !a.enabled {
		return nil, nil
	}
	if a.keys == nil {
		return nil, errors.New("no api key directory configured")
	}

	key, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		key = r.URL.Query().Get("token")
	}
	if key == "" {
		return nil, errors.New("missing api key")
	}

	id := a.keys(key)
	if id == nil {
		return nil, errors.New("unknown api key")
	}
	return id, nil
}

// AuthenticateBearer resolves the caller of a request that serves browsers
// and agents alike (the websocket change feed): the credential is accepted
// as a bearer header or "token" query parameter and tried as a session token
// first, then as a static API key.
func (a *Authenticator) AuthenticateBearer(r *http.Request) (*directory.Identity, error) {
	if !a.enabled {
		return nil, nil
	}

	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, errors.New("missing credential")
	}
	return a.resolveBearer(token)
}

// Protect wraps a handler so it only runs after successful authentication.
// The resolved identity (if any) is attached to the request context.
func (a *Authenticator) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, authErr := a.Authenticate(r)
		if authErr != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(authErr.Status)
			_, _ = w.Write([]byte(`{"error":"` + authErr.Message + `"}`))
			return
		}
		if id != nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
