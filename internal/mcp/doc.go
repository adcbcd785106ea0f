// Package mcp exposes the project registry to external agents over the
// Model Context Protocol's JSON-RPC HTTP transport.
//
// The endpoint is deliberately stateless: every POST resolves the caller's
// API key, computes the role-filtered tool set, and builds a fresh scoped
// server object registered with exactly that set. The server is discarded
// when the response is written. A shared long-lived server would have to
// juggle per-caller capability sets under concurrency; constructing a
// throwaway one per call buys perfect isolation for a small allocation.
//
// Filtering happens before dispatch, so a write tool invoked with a viewer
// key reports "tool not found" rather than "forbidden" — the filtered name
// is indistinguishable from a nonexistent one. Resources and prompts are
// served unfiltered to every authenticated caller.
package mcp
