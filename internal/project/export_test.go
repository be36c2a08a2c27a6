package project

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/workspaced/internal/archive"
	"github.com/fyrsmithlabs/workspaced/internal/docstore"
	"github.com/fyrsmithlabs/workspaced/internal/manifest"
)

func TestExport_EmbeddedArchive(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.writeWorkspace(t, "seed", map[string]string{"a.txt": "a"})
	data, err := archive.Zip(f.fsys, "seed")
	require.NoError(t, err)

	f.store.Manifest().SetVersions([]manifest.Version{{
		Number:  1,
		Date:    "20240101000000",
		Name:    "20240101000000_v1_demo",
		Zipfile: data,
	}})

	res := f.store.Export(context.Background(), 0)
	require.Equal(t, StatusSuccess, res.Result, "errors: %v", res.Errors)
	assert.Equal(t, "workspace/exports/20240101000000_v1_demo.zip", res.Filepath)

	written, err := util.ReadFile(f.fsys, res.Filepath)
	require.NoError(t, err)
	assert.Equal(t, data, written)
}

func TestExport_LiveWorkspaceDirectory(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.store.Manifest().SetVersions([]manifest.Version{{
		Number: 1,
		Date:   "20240101000000",
		Name:   "20240101000000_v1_demo",
	}})
	f.writeWorkspace(t, "workspace/20240101000000_v1_demo", map[string]string{
		"datapackage.json": `{"name":"demo"}`,
		"caches/json/a.json": `{"name":"a"}`,
	})

	res := f.store.Export(context.Background(), 1)
	require.Equal(t, StatusSuccess, res.Result, "errors: %v", res.Errors)

	written, err := util.ReadFile(f.fsys, res.Filepath)
	require.NoError(t, err)
	expected, err := archive.Zip(f.fsys, "workspace/20240101000000_v1_demo")
	require.NoError(t, err)
	same, err := archive.Equal(written, expected)
	require.NoError(t, err)
	assert.True(t, same)
}

func TestExport_ReconstructsFromStore(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.seedCorpus(t, "doc1")
	f.store.Manifest().SetVersions([]manifest.Version{{
		Number: 1,
		Date:   "20240101000000",
		Name:   "20240101000000_v1_demo",
	}})

	res := f.store.Export(context.Background(), 1)
	require.Equal(t, StatusSuccess, res.Result, "errors: %v", res.Errors)

	written, err := util.ReadFile(f.fsys, res.Filepath)
	require.NoError(t, err)
	names := archiveEntryNames(t, written)
	assert.Contains(t, names, "datapackage.json")
	assert.Contains(t, names, "caches/json/doc1.json")

	// The reconstruction directory is cleaned up.
	_, err = f.fsys.Stat("workspace/exports/20240101000000_v1_demo")
	assert.Error(t, err)
}

func TestExport_RecordsServingSource(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	docs, err := docstore.Open(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer docs.Close()

	m := manifest.Manifest{"name": "demo"}
	m.SetVersions([]manifest.Version{{
		Number: 1,
		Date:   "20240101000000",
		Name:   "20240101000000_v1_demo",
	}})
	fsys := memfs.New()
	store, err := New(DefaultConfig(), m, docs, fsys, zap.New(core))
	require.NoError(t, err)

	// No embedded archive, but a live directory: the workspace tier serves.
	require.NoError(t, util.WriteFile(fsys, "workspace/20240101000000_v1_demo/datapackage.json", []byte(`{"name":"demo"}`), 0o644))

	res := store.Export(context.Background(), 1)
	require.Equal(t, StatusSuccess, res.Result, "errors: %v", res.Errors)

	entries := observed.FilterMessage("exported project version").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "workspace", entries[0].ContextMap()["source"])
}

func TestExport_NoVersionsFails(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})

	res := f.store.Export(context.Background(), 0)
	assert.Equal(t, StatusFail, res.Result)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "No versions")
}

func TestExport_UnknownVersionFails(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.store.Manifest().SetVersions([]manifest.Version{{Number: 1, Name: "x"}})

	res := f.store.Export(context.Background(), 9)
	assert.Equal(t, StatusFail, res.Result)
}

func archiveEntryNames(t *testing.T, data []byte) []string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

// End-to-end: a bare manifest is launched as a new v1 and exported; the
// archive in the exports folder holds the same files the launch produced.
func TestLaunchThenExport(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.writeTemplates(t, "notebooks", map[string]string{"start.ipynb": "{}"})
	f.seedCorpus(t, "doc1")
	ctx := context.Background()

	launch := f.store.Launch(ctx, "notebooks", 0, true)
	require.Equal(t, StatusSuccess, launch.Result, "errors: %v", launch.Errors)
	assert.Regexp(t, `workspace/\d{14}_v1_demo$`, launch.ProjectDir)
	_, err := f.fsys.Stat(f.fsys.Join(launch.ProjectDir, "datapackage.json"))
	require.NoError(t, err)

	export := f.store.Export(ctx, 0)
	require.Equal(t, StatusSuccess, export.Result, "errors: %v", export.Errors)
	assert.Regexp(t, `workspace/exports/\d{14}_v1_demo\.zip$`, export.Filepath)

	written, err := util.ReadFile(f.fsys, export.Filepath)
	require.NoError(t, err)
	expected, err := archive.Zip(f.fsys, launch.ProjectDir)
	require.NoError(t, err)
	same, err := archive.Equal(written, expected)
	require.NoError(t, err)
	assert.True(t, same)
}
