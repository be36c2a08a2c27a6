package project

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/workspaced/internal/archive"
	"github.com/fyrsmithlabs/workspaced/internal/docstore"
	"github.com/fyrsmithlabs/workspaced/internal/manifest"
)

func (f *fixture) writeTemplates(t *testing.T, workflow string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := f.fsys.Join("templates", workflow, name)
		require.NoError(t, util.WriteFile(f.fsys, path, []byte(content), 0o644))
	}
}

func (f *fixture) seedCorpus(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		_, err := f.docs.InsertOne(context.Background(), "corpus", docstore.Document{
			"name":     name,
			"metapath": "Corpus,guardian,RawData",
		})
		require.NoError(t, err)
	}
}

func TestLaunch_NewV1(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.writeTemplates(t, "notebooks", map[string]string{
		"start.ipynb":                    "{}",
		".ipynb_checkpoints/start.ipynb": "stale",
	})
	f.seedCorpus(t, "doc1", "doc2")

	res := f.store.Launch(context.Background(), "notebooks", 0, true)
	require.Equal(t, StatusSuccess, res.Result, "errors: %v", res.Errors)
	assert.Regexp(t, `workspace/\d{14}_v1_demo$`, res.ProjectDir)

	// Template files are copied, checkpoints are not.
	_, err := f.fsys.Stat(f.fsys.Join(res.ProjectDir, "start.ipynb"))
	assert.NoError(t, err)
	_, err = f.fsys.Stat(f.fsys.Join(res.ProjectDir, ".ipynb_checkpoints"))
	assert.Error(t, err)

	// The manifest and one cache per matched document are written.
	datapackage, err := util.ReadFile(f.fsys, f.fsys.Join(res.ProjectDir, "datapackage.json"))
	require.NoError(t, err)
	assert.Contains(t, string(datapackage), `"name":"demo"`)
	_, err = f.fsys.Stat(f.fsys.Join(res.ProjectDir, "caches", "json", "doc1.json"))
	assert.NoError(t, err)
	_, err = f.fsys.Stat(f.fsys.Join(res.ProjectDir, "caches", "json", "doc2.json"))
	assert.NoError(t, err)

	// The history now records v1.
	ver, err := f.store.Manifest().Latest()
	require.NoError(t, err)
	assert.Equal(t, 1, ver.Number)
	assert.Equal(t, "notebooks", ver.Workflow)
}

func TestLaunch_NewV1_MissingTemplatesIsFatal(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.seedCorpus(t, "doc1")

	res := f.store.Launch(context.Background(), "missing", 0, true)
	assert.Equal(t, StatusFail, res.Result)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "templates could not be copied")
	// The failed launch leaves no version behind.
	assert.False(t, f.store.Manifest().HasVersions())
}

func TestLaunch_NewV1_EmptyQueryIsSurfacedNotFatal(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.writeTemplates(t, "notebooks", map[string]string{"start.ipynb": "{}"})
	// No corpus documents seeded.

	res := f.store.Launch(context.Background(), "notebooks", 0, true)
	assert.Equal(t, StatusFail, res.Result)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "no results")

	// The directory was still created and populated.
	assert.NotEmpty(t, res.ProjectDir)
	_, err := f.fsys.Stat(f.fsys.Join(res.ProjectDir, "datapackage.json"))
	assert.NoError(t, err)
}

func TestLaunch_ExistingDirectoryIsIdempotent(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.store.Manifest().SetVersions([]manifest.Version{{
		Number: 1,
		Date:   "20240101000000",
		Name:   "20240101000000_v1_demo",
	}})
	f.writeWorkspace(t, "workspace/20240101000000_v1_demo", map[string]string{"a.txt": "a"})

	res := f.store.Launch(context.Background(), "", 1, false)
	require.Equal(t, StatusSuccess, res.Result)
	assert.Equal(t, "workspace/20240101000000_v1_demo", res.ProjectDir)
}

func TestLaunch_ExistingExtractsArchive(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.writeWorkspace(t, "seed", map[string]string{"a.txt": "a"})
	data, err := archive.Zip(f.fsys, "seed")
	require.NoError(t, err)

	f.store.Manifest().SetVersions([]manifest.Version{{
		Number:  2,
		Date:    "20240101000000",
		Name:    "20240101000000_v2_demo",
		Zipfile: data,
	}})

	res := f.store.Launch(context.Background(), "", 2, false)
	require.Equal(t, StatusSuccess, res.Result)

	content, err := util.ReadFile(f.fsys, f.fsys.Join(res.ProjectDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(content))
}

func TestLaunch_ExistingWithoutArchiveOrDirectoryFails(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})
	f.store.Manifest().SetVersions([]manifest.Version{{
		Number: 1,
		Name:   "20240101000000_v1_demo",
	}})

	res := f.store.Launch(context.Background(), "", 1, false)
	assert.Equal(t, StatusFail, res.Result)
	assert.NotEmpty(t, res.Errors)
}

func TestLaunch_ExistingNoVersionsFails(t *testing.T) {
	f := newFixture(t, manifest.Manifest{"name": "demo"})

	res := f.store.Launch(context.Background(), "", 0, false)
	assert.Equal(t, StatusFail, res.Result)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "No versions")
}

func TestLaunch_NewVersionFromArchive(t *testing.T) {
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

	res := f.store.Launch(context.Background(), "notebooks", 1, true)
	require.Equal(t, StatusSuccess, res.Result, "errors: %v", res.Errors)
	assert.Regexp(t, `workspace/\d{14}_v2_demo$`, res.ProjectDir)

	content, err := util.ReadFile(f.fsys, f.fsys.Join(res.ProjectDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(content))

	// v2 carries the archive forward.
	ver, err := f.store.Manifest().Latest()
	require.NoError(t, err)
	assert.Equal(t, 2, ver.Number)
	assert.True(t, ver.HasArchive())
}

func TestLaunch_NewWithEmbeddedArchiveSkipsTemplatePath(t *testing.T) {
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

	// No explicit version requested, but an archive exists: the launch must
	// extract it rather than rebuild from templates.
	res := f.store.Launch(context.Background(), "notebooks", 0, true)
	require.Equal(t, StatusSuccess, res.Result, "errors: %v", res.Errors)
	assert.Regexp(t, `_v2_demo$`, res.ProjectDir)
}
