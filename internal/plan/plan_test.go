package plan

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndClear(t *testing.T) {
	p := New()
	assert.Zero(t, p.Len())

	p.AppendStep("upload", "storage.mkdir", map[string]any{"path": "/a"})
	p.AppendStep("upload", "storage.upload", map[string]any{"from": "x", "to": "/a/x"})
	assert.Equal(t, 2, p.Len())

	p.Clear()
	assert.Zero(t, p.Len())
	assert.Zero(t, p.Cursor)
}

func TestSections(t *testing.T) {
	p := New()
	p.AppendStep("upload", "storage.mkdir", nil)
	p.AppendStep("verify", "storage.list", nil)
	p.AppendStep("upload", "storage.upload", nil)

	assert.Equal(t, []string{"upload", "verify"}, p.Sections())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	p := New()
	p.AppendStep("upload", "storage.mkdir", map[string]any{"path": "/ns"})
	p.AppendStep("upload", "storage.upload", map[string]any{"from": "f.dat", "to": "/ns/f.dat"})
	p.Steps[0].Done = true
	p.Cursor = 1

	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, p.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, p, loaded)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	p := New()
	p.AppendStep("upload", "storage.mkdir", map[string]any{"path": "/ns"})
	p.AppendStep("upload", "storage.upload", map[string]any{"from": "f", "to": "/ns/f"})
	p.Steps[0].Done = true

	var buf bytes.Buffer
	p.Describe(&buf)

	out := buf.String()
	assert.Contains(t, out, "2 steps")
	assert.Contains(t, out, "RAN storage.mkdir")
	assert.Contains(t, out, "RUN storage.upload")
}
