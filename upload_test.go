package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedgrid/fedgrid-go/internal/plan"
	"github.com/fedgrid/fedgrid-go/internal/storage"
)

func TestParseExtraMetadata(t *testing.T) {
	extra, err := parseExtraMetadata(`{"obs_id": "B012", "calibrated": true}`)
	require.NoError(t, err)
	assert.Equal(t, "B012", extra["obs_id"])
	assert.Equal(t, true, extra["calibrated"])

	extra, err = parseExtraMetadata("")
	require.NoError(t, err)
	assert.Nil(t, extra)

	_, err = parseExtraMetadata("{broken")
	assert.Error(t, err)

	_, err = parseExtraMetadata(`{"namespace": "stolen"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestBuildUploadPlan(t *testing.T) {
	localDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(localDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "a.dat"), []byte("data"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(localDir, "sub", "b.dat"), []byte("data"), 0o644))

	p := plan.New()

	ingestDir, err := buildUploadPlan(p, localDir, "obs/run42", "meta", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ingestDir, "obs/run42/"))

	// namespace mkdir, ingest-dir mkdir, sub mkdir, two uploads.
	require.Equal(t, 5, p.Len())
	assert.Equal(t, []string{uploadSection}, p.Sections())

	assert.Equal(t, storage.OpMkdir, p.Steps[0].Op)
	assert.Equal(t, "obs/run42", p.Steps[0].Args["remote_path"])
	assert.Equal(t, storage.OpMkdir, p.Steps[1].Op)
	assert.Equal(t, ingestDir, p.Steps[1].Args["remote_path"])

	var uploads, mkdirs int
	for _, s := range p.Steps {
		switch s.Op {
		case storage.OpUpload:
			uploads++
			assert.True(t, strings.HasPrefix(s.Args["to_remote_path"].(string), ingestDir))
		case storage.OpMkdir:
			mkdirs++
		}
	}

	assert.Equal(t, 2, uploads)
	assert.Equal(t, 3, mkdirs)
}

func TestBuildUploadPlan_UniqueIngestDirs(t *testing.T) {
	localDir := t.TempDir()

	first, err := buildUploadPlan(plan.New(), localDir, "ns", "meta", nil)
	require.NoError(t, err)

	second, err := buildUploadPlan(plan.New(), localDir, "ns", "meta", nil)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestBuildUploadPlan_MetadataStaging(t *testing.T) {
	localDir := t.TempDir()
	metaPath := filepath.Join(localDir, "a.dat.meta")
	require.NoError(t, os.WriteFile(metaPath, []byte(`{"obs_id": "B012"}`), 0o644))

	p := plan.New()

	extra := map[string]any{"calibrated": true}

	ingestDir, err := buildUploadPlan(p, localDir, "obs/run42", "meta", extra)
	require.NoError(t, err)

	// Two mkdirs, then the staged upload and its cleanup.
	require.Equal(t, 4, p.Len())

	uploadStep := p.Steps[2]
	removeStep := p.Steps[3]

	require.Equal(t, storage.OpUpload, uploadStep.Op)
	assert.Equal(t, ingestDir+"/a.dat.meta", uploadStep.Args["to_remote_path"])

	require.Equal(t, storage.OpRemove, removeStep.Op)

	staged := uploadStep.Args["from_local_path"].(string)
	assert.Equal(t, staged, removeStep.Args["path"])
	assert.NotEqual(t, metaPath, staged)
	t.Cleanup(func() { os.Remove(staged) })

	data, err := os.ReadFile(staged)
	require.NoError(t, err)

	var merged map[string]any
	require.NoError(t, json.Unmarshal(data, &merged))
	assert.Equal(t, "obs/run42", merged["namespace"])
	assert.Equal(t, "B012", merged["obs_id"])
	assert.Equal(t, true, merged["calibrated"])

	// The source metadata file is left untouched.
	original, err := os.ReadFile(metaPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"obs_id": "B012"}`, string(original))
}

func TestBuildUploadPlan_ReservedKeyInMetadataFile(t *testing.T) {
	localDir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(localDir, "a.dat.meta"),
		[]byte(`{"namespace": "hijacked"}`),
		0o644,
	))

	_, err := buildUploadPlan(plan.New(), localDir, "ns", "meta", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "lon...", truncate("longer", 3))
}
