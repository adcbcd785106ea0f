// ABOUTME: Unit tests for the credential directory loader and lookups
// ABOUTME: Covers case-insensitive email lookup, role downgrade, and missing documents

package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTeamDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "team.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleDoc = `---
users:
  - email: Admin@Test.com
    name: Ada Admin
    role: admin
    apiKey: key-ada-123
  - email: viewer@test.com
    name: Vic Viewer
    role: viewer
  - email: weird@test.com
    name: Wendy Weird
    role: superuser
---

# Team

Free-form notes live below the front section and are ignored.
`

func TestLoad_ParsesFrontSection(t *testing.T) {
	d := New(writeTeamDoc(t, sampleDoc), nil)
	require.NoError(t, d.Load())

	assert.Len(t, d.List(), 3)

	ada := d.FindByEmail("admin@test.com")
	require.NotNil(t, ada)
	assert.Equal(t, "Ada Admin", ada.Name)
	assert.Equal(t, RoleAdmin, ada.Role)
	assert.Equal(t, "key-ada-123", ada.APIKey)
}

func TestFindByEmail_CaseInsensitive(t *testing.T) {
	d := New(writeTeamDoc(t, sampleDoc), nil)
	require.NoError(t, d.Load())

	lower := d.FindByEmail("admin@test.com")
	upper := d.FindByEmail("ADMIN@TEST.COM")
	require.NotNil(t, lower)
	assert.Same(t, lower, upper)
}

func TestLoad_UnknownRoleDowngradesToViewer(t *testing.T) {
	d := New(writeTeamDoc(t, sampleDoc), nil)
	require.NoError(t, d.Load())

	wendy := d.FindByEmail("weird@test.com")
	require.NotNil(t, wendy)
	assert.Equal(t, RoleViewer, wendy.Role)
}

func TestLoad_DropsEntriesMissingEmailOrName(t *testing.T) {
	doc := `---
users:
  - email: "   "
    name: No Email
  - email: noname@test.com
    name: ""
  - email: ok@test.com
    name: OK
---
`
	d := New(writeTeamDoc(t, doc), nil)
	require.NoError(t, d.Load())

	assert.Len(t, d.List(), 1)
	assert.Nil(t, d.FindByEmail("noname@test.com"))
	assert.NotNil(t, d.FindByEmail("ok@test.com"))
}

func TestFindByAPIKey(t *testing.T) {
	d := New(writeTeamDoc(t, sampleDoc), nil)
	require.NoError(t, d.Load())

	ada := d.FindByAPIKey("key-ada-123")
	require.NotNil(t, ada)
	assert.Equal(t, "Ada Admin", ada.Name)

	assert.Nil(t, d.FindByAPIKey("unknown"))
	assert.Nil(t, d.FindByAPIKey(""))
}

func TestLoad_MissingFileYieldsEmptyDirectory(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "absent.md"), nil)
	require.NoError(t, d.Load())
	assert.Empty(t, d.List())
	assert.Nil(t, d.FindByEmail("anyone@test.com"))
}

func TestLoad_ReplacesStateWholesale(t *testing.T) {
	path := writeTeamDoc(t, sampleDoc)
	d := New(path, nil)
	require.NoError(t, d.Load())
	require.NotNil(t, d.FindByEmail("viewer@test.com"))

	next := `---
users:
  - email: solo@test.com
    name: Solo
    role: admin
---
`
	require.NoError(t, os.WriteFile(path, []byte(next), 0o644))
	require.NoError(t, d.Load())

	assert.Nil(t, d.FindByEmail("viewer@test.com"))
	assert.Nil(t, d.FindByAPIKey("key-ada-123"))
	assert.NotNil(t, d.FindByEmail("solo@test.com"))
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		raw  string
		want Role
	}{
		{"admin", RoleAdmin},
		{"Admin", RoleAdmin},
		{" ADMIN ", RoleAdmin},
		{"viewer", RoleViewer},
		{"owner", RoleViewer},
		{"", RoleViewer},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRole(tt.raw), "raw=%q", tt.raw)
	}
}

func TestClear(t *testing.T) {
	d := New(writeTeamDoc(t, sampleDoc), nil)
	require.NoError(t, d.Load())
	d.Clear()
	assert.Empty(t, d.List())
	assert.Nil(t, d.FindByAPIKey("key-ada-123"))
}
