// Package auth provides authentication and authorization for the gateway.
//
// # Authentication Methods
//
// Two credential schemes share the Authorization: Bearer header:
//
//   - Session tokens: Human users log in through the Google ID-token exchange
//     and receive an HS256-signed session token carrying their email, display
//     name, and role. Tokens are verified statelessly; there is no server-side
//     session store or revocation list.
//
//   - Static API keys: Agent and MCP clients present a key from the team
//     document. Keys resolve through the credential directory; the protocol
//     surface additionally accepts the key as a "token" query parameter.
//
// # Route Classification
//
// Only the /api/ namespace is protected. A small public allowlist
// (/api/auth/status, /api/auth/google) and everything outside /api/ pass
// through untouched. When authentication is disabled entirely, every request
// passes through with no identity.
//
// # Roles
//
// The admin role has full access. The viewer role is read-only, enforced two
// ways: mutating HTTP methods on protected routes return 403, and the
// capability filter removes write tools from the viewer's protocol surface.
package auth
