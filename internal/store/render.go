// ABOUTME: Markdown to HTML rendering for project documents
// ABOUTME: Used by the docs HTML endpoint and the doc_view tool

package store

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// RenderHTML converts markdown content to HTML.
func RenderHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return buf.String(), nil
}
