package project

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/archive"
	"github.com/fyrsmithlabs/workspaced/internal/docstore"
	"github.com/fyrsmithlabs/workspaced/internal/manifest"
)

// Directory entries never copied from a template set into a project.
var templateIgnores = map[string]bool{
	".ipynb_checkpoints": true,
	"__pycache__":        true,
}

// Launch materializes the project in the workspace. Exactly one of three
// paths runs:
//
//  1. New v1: newVersion is true, no explicit version is requested, and no
//     version carries an embedded archive. A fresh v1 directory is built
//     from the workflow template set and populated from the database query.
//  2. New version from archive: newVersion is true and an explicit version
//     is requested (or any version already carries an archive). The next
//     version number is computed, the previous archive carried over, and
//     extracted into a freshly named directory.
//  3. Existing version: newVersion is false. The target version's directory
//     is returned as-is when it already exists on disk, otherwise its
//     embedded archive is extracted. The existence check is best-effort
//     under concurrent launches of the same version.
//
// version zero means "no explicit version requested".
func (s *Store) Launch(ctx context.Context, workflow string, version int, newVersion bool) LaunchResult {
	ctx, span := s.tracer.Start(ctx, "project.launch")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_name", s.Name()),
		attribute.String("workflow", workflow),
		attribute.Int("version", version),
		attribute.Bool("new_version", newVersion),
	)

	// A project with an archived version never goes back through the
	// template path: launching new from it means extracting the archive.
	hasArchive := false
	for _, v := range s.reduced.Versions() {
		if v.HasArchive() {
			hasArchive = true
			break
		}
	}

	var res LaunchResult
	switch {
	case newVersion && version == 0 && !hasArchive:
		res = s.launchNew(ctx, workflow)
	case newVersion:
		res = s.launchNextFromArchive(ctx, workflow)
	default:
		res = s.launchExisting(ctx, version)
	}

	if s.launchCounter != nil {
		s.launchCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("result", res.Result),
			attribute.Bool("new_version", newVersion),
		))
	}
	return res
}

// launchNew builds a fresh v1 project directory from the workflow template
// set and the database query.
func (s *Store) launchNew(ctx context.Context, workflow string) LaunchResult {
	now := s.now()
	versionName := manifest.FormatVersionName(now, 1, s.Name())
	projectDir := s.fsys.Join(s.config.WorkspaceDir, versionName)
	templates := s.fsys.Join(s.config.TemplatesDir, workflow)

	work := s.reduced.Clone()
	work.SetVersions([]manifest.Version{{
		Number:   1,
		Date:     now,
		Name:     versionName,
		Workflow: workflow,
	}})

	// Template copy failure is fatal to this path; everything after it
	// accumulates.
	if err := copyTemplates(s.fsys, templates, projectDir); err != nil {
		s.logger.Error("template copy failed",
			zap.String("templates", templates),
			zap.String("project_dir", projectDir),
			zap.Error(err),
		)
		return LaunchResult{Result: StatusFail, Errors: []string{
			"Error: The templates could not be copied to the project directory.",
		}}
	}

	errs := s.writeProjectData(ctx, work, projectDir)
	if len(errs) > 0 {
		return LaunchResult{Result: StatusFail, ProjectDir: projectDir, Errors: errs}
	}

	s.reduced = work
	s.logger.Info("launched new project",
		zap.String("project_dir", projectDir),
		zap.String("workflow", workflow),
	)
	return LaunchResult{Result: StatusSuccess, ProjectDir: projectDir, Errors: []string{}}
}

// launchNextFromArchive creates the next version, carrying the latest
// version's archive forward, and extracts it into a fresh directory.
func (s *Store) launchNextFromArchive(ctx context.Context, workflow string) LaunchResult {
	work := s.reduced.Clone()
	latest, err := work.Latest()
	if err != nil {
		return LaunchResult{Result: StatusFail, Errors: []string{renderError(err)}}
	}
	if !latest.HasArchive() {
		return LaunchResult{Result: StatusFail, Errors: []string{
			"The latest version has no archived datapackage to launch from.",
		}}
	}

	now := s.now()
	next := manifest.Version{
		Number:   latest.Number + 1,
		Date:     now,
		Name:     manifest.FormatVersionName(now, latest.Number+1, s.Name()),
		Workflow: workflow,
		Zipfile:  latest.Zipfile,
	}
	embedVersion(work, next)

	projectDir := s.fsys.Join(s.config.WorkspaceDir, next.Name)
	if err := archive.Unzip(next.Zipfile, s.fsys, projectDir); err != nil {
		s.logger.Error("archive extraction failed",
			zap.String("project_dir", projectDir),
			zap.Error(err),
		)
		return LaunchResult{Result: StatusFail, Errors: []string{
			"Could not unzip the project datapackage to the project directory.",
		}}
	}

	s.reduced = work
	s.logger.Info("launched next version from archive",
		zap.String("project_dir", projectDir),
		zap.Int("version_number", next.Number),
	)
	return LaunchResult{Result: StatusSuccess, ProjectDir: projectDir, Errors: []string{}}
}

// launchExisting materializes an already-recorded version, reusing its
// directory when one is live in the workspace.
func (s *Store) launchExisting(ctx context.Context, version int) LaunchResult {
	var (
		ver manifest.Version
		err error
	)
	if version == 0 {
		ver, err = s.reduced.Latest()
	} else {
		ver, err = s.reduced.Get(manifest.KeyNumber, version)
	}
	if err != nil {
		return LaunchResult{Result: StatusFail, Errors: []string{renderError(err)}}
	}

	projectDir := s.fsys.Join(s.config.WorkspaceDir, ver.Name)
	if _, statErr := s.fsys.Stat(projectDir); statErr == nil {
		s.logger.Info("version already live in workspace", zap.String("project_dir", projectDir))
		return LaunchResult{Result: StatusSuccess, ProjectDir: projectDir, Errors: []string{}}
	}

	if !ver.HasArchive() {
		return LaunchResult{Result: StatusFail, Errors: []string{
			fmt.Sprintf("Version %d has no archived datapackage and no live workspace directory.", ver.Number),
		}}
	}
	if err := archive.Unzip(ver.Zipfile, s.fsys, projectDir); err != nil {
		s.logger.Error("archive extraction failed",
			zap.String("project_dir", projectDir),
			zap.Error(err),
		)
		return LaunchResult{Result: StatusFail, Errors: []string{
			"Could not unzip the project datapackage to the project directory.",
		}}
	}

	s.logger.Info("launched existing version",
		zap.String("project_dir", projectDir),
		zap.Int("version_number", ver.Number),
	)
	return LaunchResult{Result: StatusSuccess, ProjectDir: projectDir, Errors: []string{}}
}

// writeProjectData writes datapackage.json and the caches/json data files
// into projectDir. Store failures and empty query results are reported in
// the returned list without aborting the remaining writes.
func (s *Store) writeProjectData(ctx context.Context, m manifest.Manifest, projectDir string) []string {
	errs := []string{}

	var result []docstore.Document
	raw := m.Query()
	if raw == "" && s.config.DefaultQuery != "" {
		// Manifests built from bare form data carry no query of their own;
		// record the default in the manifest so the written datapackage
		// reflects what was actually queried.
		raw = s.config.DefaultQuery
		m[manifest.FieldQuery] = raw
	}
	if raw == "" {
		errs = append(errs, "Please enter a database query in the Data Resources tab.")
	} else {
		q, err := docstore.ParseQuery(raw)
		if err != nil {
			errs = append(errs, "The database query could not be parsed.")
		} else {
			result, err = s.docs.Find(ctx, s.config.CorpusCollection, q)
			if err != nil {
				s.logger.Error("corpus query failed", zap.Error(err))
				errs = append(errs, "Unknown Error: The database query could not be executed.")
			} else if len(result) == 0 {
				errs = append(errs, "The database query returned no results.")
			}
		}
	}

	datapackage, err := m.MarshalCanonical()
	if err != nil {
		errs = append(errs, "Error: Could not serialize the project manifest.")
		return errs
	}
	if err := util.WriteFile(s.fsys, s.fsys.Join(projectDir, "datapackage.json"), datapackage, 0o644); err != nil {
		errs = append(errs, "Error: Could not write the manifest to the project directory.")
		return errs
	}

	if len(result) > 0 {
		caches := s.fsys.Join(projectDir, "caches", "json")
		if err := s.fsys.MkdirAll(caches, 0o755); err != nil {
			errs = append(errs, "Error: Could not write data files to the caches directory.")
			return errs
		}
		for _, item := range result {
			name, _ := item["name"].(string)
			if name == "" {
				continue
			}
			data, err := json.MarshalIndent(item, "", "  ")
			if err != nil {
				errs = append(errs, "Error: Could not write data files to the caches directory.")
				return errs
			}
			if err := util.WriteFile(s.fsys, s.fsys.Join(caches, name+".json"), data, 0o644); err != nil {
				errs = append(errs, "Error: Could not write data files to the caches directory.")
				return errs
			}
		}
	}
	return errs
}

// copyTemplates copies a workflow template set into a new project directory,
// skipping notebook checkpoints and bytecode caches.
func copyTemplates(fsys billy.Filesystem, templates, projectDir string) error {
	if _, err := fsys.Stat(templates); err != nil {
		return fmt.Errorf("template set %s: %w", templates, err)
	}
	return copyTree(fsys, templates, projectDir, templateIgnores)
}

// copyDir copies an existing project directory to a new location. The
// destination must not already exist.
func copyDir(fsys billy.Filesystem, src, dst string) error {
	if _, err := fsys.Stat(dst); err == nil {
		return fmt.Errorf("destination %s already exists", dst)
	}
	return copyTree(fsys, src, dst, nil)
}

func copyTree(fsys billy.Filesystem, src, dst string, ignores map[string]bool) error {
	return util.Walk(fsys, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, src), "/")
		if rel != "" && ignores[path.Base(rel)] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			if rel == "" {
				return fsys.MkdirAll(dst, 0o755)
			}
			return fsys.MkdirAll(fsys.Join(dst, rel), 0o755)
		}
		data, err := util.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		target := fsys.Join(dst, rel)
		if err := fsys.MkdirAll(path.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", target, err)
		}
		if err := util.WriteFile(fsys, target, data, info.Mode().Perm()); err != nil {
			return fmt.Errorf("write %s: %w", target, err)
		}
		return nil
	})
}
