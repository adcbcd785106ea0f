// ABOUTME: Tests for the SQLite audit log
// ABOUTME: Covers append/list roundtrips, filters, and the nil no-op log

package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	require.NotNil(t, l)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndList(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Entry{Actor: "ada@test.com", Action: "tools/call", Target: "task_create"}))
	require.NoError(t, l.Append(ctx, Entry{Actor: "vic@test.com", Action: "config/write", Failed: true}))

	entries, err := l.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "config/write", entries[0].Action)
	assert.True(t, entries[0].Failed)
	assert.Equal(t, "task_create", entries[1].Target)
	assert.NotEmpty(t, entries[1].ID)
	assert.False(t, entries[1].Timestamp.IsZero())
}

func TestList_Filters(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, l.Append(ctx, Entry{Actor: "ada@test.com", Action: "tools/call", Timestamp: old}))
	require.NoError(t, l.Append(ctx, Entry{Actor: "ada@test.com", Action: "config/write"}))
	require.NoError(t, l.Append(ctx, Entry{Actor: "vic@test.com", Action: "tools/call"}))

	byActor, err := l.List(ctx, Filter{Actor: "vic@test.com"})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	assert.Equal(t, "vic@test.com", byActor[0].Actor)

	byAction, err := l.List(ctx, Filter{Action: "tools/call"})
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	since := time.Now().UTC().Add(-time.Hour)
	recent, err := l.List(ctx, Filter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := l.List(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestNilLog(t *testing.T) {
	l, err := Open("", nil)
	require.NoError(t, err)
	require.Nil(t, l)

	// A nil log absorbs everything silently.
	assert.NoError(t, l.Append(context.Background(), Entry{Actor: "ada@test.com"}))
	l.RecordTool("ada@test.com", "tasks_list", false)

	entries, err := l.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.NoError(t, l.Close())
}

func TestRecordTool(t *testing.T) {
	l := openTestLog(t)

	l.RecordTool("ada@test.com", "task_create", true)

	entries, err := l.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tools/call", entries[0].Action)
	assert.Equal(t, "task_create", entries[0].Target)
	assert.True(t, entries[0].Failed)
}
