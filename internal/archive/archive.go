package archive

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// ErrMalformed reports an archive that cannot be read.
var ErrMalformed = errors.New("malformed archive")

// entryEpoch is the fixed modification time stamped on every archive entry.
// The zip format cannot represent times before 1980.
var entryEpoch = time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)

// Zip compresses the directory at dir into an in-memory zip archive. Entry
// paths are relative to dir and written in lexicographic order.
func Zip(fsys billy.Filesystem, dir string) ([]byte, error) {
	paths, err := collectFiles(fsys, dir)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, rel := range paths {
		header := &zip.FileHeader{
			Name:     rel,
			Method:   zip.Deflate,
			Modified: entryEpoch,
		}
		entry, err := w.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("create archive entry %s: %w", rel, err)
		}
		src, err := fsys.Open(fsys.Join(dir, rel))
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", rel, err)
		}
		_, err = io.Copy(entry, src)
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("compress %s: %w", rel, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

// ZipToFile compresses dir and writes the archive to dest, creating parent
// directories as needed.
func ZipToFile(fsys billy.Filesystem, dir, dest string) error {
	data, err := Zip(fsys, dir)
	if err != nil {
		return err
	}
	if parent := path.Dir(dest); parent != "." && parent != "/" {
		if err := fsys.MkdirAll(parent, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	if err := util.WriteFile(fsys, dest, data, 0o644); err != nil {
		return fmt.Errorf("write archive %s: %w", dest, err)
	}
	return nil
}

// collectFiles walks dir and returns the relative paths of all regular files
// in lexicographic order.
func collectFiles(fsys billy.Filesystem, dir string) ([]string, error) {
	var paths []string
	err := util.Walk(fsys, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(p, dir)
		rel = strings.TrimPrefix(rel, "/")
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Unzip extracts an in-memory archive into dest. Used when the archive comes
// embedded in a manifest field rather than as a file.
func Unzip(data []byte, fsys billy.Filesystem, dest string) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return extract(r, fsys, dest)
}

// UnzipFile extracts the archive at src into dest.
func UnzipFile(fsys billy.Filesystem, src, dest string) error {
	data, err := util.ReadFile(fsys, src)
	if err != nil {
		return fmt.Errorf("read archive %s: %w", src, err)
	}
	return Unzip(data, fsys, dest)
}

func extract(r *zip.Reader, fsys billy.Filesystem, dest string) error {
	for _, f := range r.File {
		name := path.Clean(f.Name)
		// Reject entries that would escape the destination.
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("%w: unsafe entry path %q", ErrMalformed, f.Name)
		}
		target := fsys.Join(dest, name)
		if f.FileInfo().IsDir() {
			if err := fsys.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
			continue
		}
		if err := fsys.MkdirAll(path.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", target, err)
		}
		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("%w: open entry %s: %v", ErrMalformed, f.Name, err)
		}
		out, err := fsys.Create(target)
		if err != nil {
			src.Close()
			return fmt.Errorf("create %s: %w", target, err)
		}
		_, err = io.Copy(out, src)
		src.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("extract %s: %w", target, err)
		}
	}
	return nil
}

// Digest returns a hex sha256 over the archive's contents: sorted entry
// names and file bytes, ignoring internal metadata such as entry timestamps.
func Digest(data []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	files := make([]*zip.File, 0, len(r.File))
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		src, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("%w: open entry %s: %v", ErrMalformed, f.Name, err)
		}
		_, err = io.Copy(h, src)
		src.Close()
		if err != nil {
			return "", fmt.Errorf("%w: read entry %s: %v", ErrMalformed, f.Name, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Equal reports whether two archives hold identical file contents. Two
// archives with the same files but different internal timestamps compare
// equal.
func Equal(a, b []byte) (bool, error) {
	da, err := Digest(a)
	if err != nil {
		return false, err
	}
	db, err := Digest(b)
	if err != nil {
		return false, err
	}
	return da == db, nil
}
