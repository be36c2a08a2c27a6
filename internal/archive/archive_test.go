package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"sort"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, fsys billy.Filesystem, files map[string]string) {
	t.Helper()
	for name, content := range files {
		require.NoError(t, util.WriteFile(fsys, name, []byte(content), 0o644))
	}
}

func TestZipUnzip_RoundTrip(t *testing.T) {
	fsys := memfs.New()
	writeTree(t, fsys, map[string]string{
		"proj/datapackage.json":    `{"name":"demo"}`,
		"proj/caches/json/a.json":  `{"name":"a"}`,
		"proj/caches/json/b.json":  `{"name":"b"}`,
		"proj/notebooks/main.ipynb": "{}",
	})

	data, err := Zip(fsys, "proj")
	require.NoError(t, err)

	require.NoError(t, Unzip(data, fsys, "restored"))

	var restored []string
	err = util.Walk(fsys, "restored", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			restored = append(restored, p)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(restored)
	assert.Equal(t, []string{
		"restored/caches/json/a.json",
		"restored/caches/json/b.json",
		"restored/datapackage.json",
		"restored/notebooks/main.ipynb",
	}, restored)

	content, err := util.ReadFile(fsys, "restored/datapackage.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"demo"}`, string(content))
}

func TestZip_Deterministic(t *testing.T) {
	fsys := memfs.New()
	writeTree(t, fsys, map[string]string{
		"proj/z.txt":     "z",
		"proj/a.txt":     "a",
		"proj/sub/m.txt": "m",
	})

	first, err := Zip(fsys, "proj")
	require.NoError(t, err)
	second, err := Zip(fsys, "proj")
	require.NoError(t, err)

	assert.Equal(t, first, second)

	r, err := zip.NewReader(bytes.NewReader(first), int64(len(first)))
	require.NoError(t, err)
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.True(t, sort.StringsAreSorted(names), "entries must be in lexicographic order: %v", names)
}

func TestZipToFile(t *testing.T) {
	fsys := memfs.New()
	writeTree(t, fsys, map[string]string{"proj/a.txt": "a"})

	require.NoError(t, ZipToFile(fsys, "proj", "exports/proj.zip"))

	data, err := util.ReadFile(fsys, "exports/proj.zip")
	require.NoError(t, err)
	ok, err := Equal(data, mustZip(t, fsys, "proj"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnzipFile_RoundTrip(t *testing.T) {
	fsys := memfs.New()
	writeTree(t, fsys, map[string]string{
		"proj/datapackage.json": `{"name":"demo"}`,
		"proj/caches/json/a.json": `{"name":"a"}`,
	})

	require.NoError(t, ZipToFile(fsys, "proj", "exports/proj.zip"))
	require.NoError(t, UnzipFile(fsys, "exports/proj.zip", "restored"))

	content, err := util.ReadFile(fsys, "restored/datapackage.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"demo"}`, string(content))

	content, err = util.ReadFile(fsys, "restored/caches/json/a.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"a"}`, string(content))
}

func TestUnzipFile_MissingArchive(t *testing.T) {
	err := UnzipFile(memfs.New(), "exports/missing.zip", "restored")
	assert.Error(t, err)
}

func TestUnzip_Malformed(t *testing.T) {
	err := Unzip([]byte("not a zip"), memfs.New(), "out")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUnzip_RejectsEscapingPaths(t *testing.T) {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	entry, err := w.Create("../escape.txt")
	require.NoError(t, err)
	_, err = entry.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	err = Unzip(buf.Bytes(), memfs.New(), "out")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEqual_IgnoresEntryTimestamps(t *testing.T) {
	a := zipWithTimes(t, time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC))
	b := zipWithTimes(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	require.NotEqual(t, a, b, "raw bytes differ because of timestamps")

	ok, err := Equal(a, b)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEqual_DetectsContentChange(t *testing.T) {
	fsys := memfs.New()
	writeTree(t, fsys, map[string]string{"proj/a.txt": "a"})
	before := mustZip(t, fsys, "proj")

	require.NoError(t, util.WriteFile(fsys, "proj/a.txt", []byte("b"), 0o644))
	after := mustZip(t, fsys, "proj")

	ok, err := Equal(before, after)
	require.NoError(t, err)
	assert.False(t, ok)
}

func mustZip(t *testing.T, fsys billy.Filesystem, dir string) []byte {
	t.Helper()
	data, err := Zip(fsys, dir)
	require.NoError(t, err)
	return data
}

func zipWithTimes(t *testing.T, modified time.Time) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.txt"} {
		entry, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
		require.NoError(t, err)
		_, err = entry.Write([]byte("content of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}
