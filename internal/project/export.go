package project

import (
	"context"

	"github.com/go-git/go-billy/v5/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/archive"
	"github.com/fyrsmithlabs/workspaced/internal/manifest"
)

// exportsDirName is the workspace subdirectory that receives export archives.
const exportsDirName = "exports"

// Export produces {workspace}/exports/{version_name}.zip for the given
// version (latest when version is zero). Three sources are tried in order,
// first available wins:
//
//  1. the version's embedded archive, written out directly;
//  2. a live workspace directory with the version's name, compressed in
//     place;
//  3. a reconstruction: fresh directory populated from the stored database
//     query exactly as a new launch would, compressed, then removed.
//
// The reconstruction directory is removed even when compression fails.
func (s *Store) Export(ctx context.Context, version int) ExportResult {
	ctx, span := s.tracer.Start(ctx, "project.export")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_name", s.Name()),
		attribute.Int("version", version),
	)

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
		span.RecordError(err)
		return ExportResult{Result: StatusFail, Errors: []string{renderError(err)}}
	}

	exportsDir := s.fsys.Join(s.config.WorkspaceDir, exportsDirName)
	dest := s.fsys.Join(exportsDir, ver.Name+".zip")
	errs := []string{}
	source := "reconstructed"

	switch {
	case ver.HasArchive():
		source = "embedded"
		// 1. The manifest already embeds the archive.
		if err := s.fsys.MkdirAll(exportsDir, 0o755); err != nil {
			errs = append(errs, "Error: Could not create the exports directory.")
			break
		}
		if err := util.WriteFile(s.fsys, dest, ver.Zipfile, 0o644); err != nil {
			errs = append(errs, "Error: Could not write the zip archive to the exports directory.")
		}

	case s.dirExists(s.fsys.Join(s.config.WorkspaceDir, ver.Name)):
		// 2. A live project directory is in the workspace.
		source = "workspace"
		projectDir := s.fsys.Join(s.config.WorkspaceDir, ver.Name)
		if err := archive.ZipToFile(s.fsys, projectDir, dest); err != nil {
			s.logger.Error("workspace compression failed",
				zap.String("project_dir", projectDir),
				zap.Error(err),
			)
			errs = append(errs, "Error: Could not zip the project folder from the Workspace to the exports directory.")
		}

	default:
		// 3. Reconstruct from the database.
		errs = append(errs, s.exportReconstructed(ctx, exportsDir, dest, ver)...)
	}

	if s.exportCounter != nil {
		s.exportCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("source", source),
		))
	}

	if len(errs) > 0 {
		return ExportResult{Result: StatusFail, Errors: errs}
	}
	s.logger.Info("exported project version",
		zap.String("filepath", dest),
		zap.String("source", source),
		zap.Int("version_number", ver.Number),
	)
	return ExportResult{Result: StatusSuccess, Filepath: dest, Errors: []string{}}
}

// exportReconstructed rebuilds the version's directory from the stored
// query, compresses it into dest, and removes the temporary directory
// whether or not compression succeeded.
func (s *Store) exportReconstructed(ctx context.Context, exportsDir, dest string, ver manifest.Version) []string {
	tempDir := s.fsys.Join(exportsDir, ver.Name)
	if err := s.fsys.MkdirAll(tempDir, 0o755); err != nil {
		return []string{"Error: Could not create the exports directory."}
	}
	defer func() {
		if err := util.RemoveAll(s.fsys, tempDir); err != nil {
			s.logger.Warn("failed to remove reconstruction directory",
				zap.String("dir", tempDir),
				zap.Error(err),
			)
		}
	}()

	errs := s.writeProjectData(ctx, s.reduced.Clone(), tempDir)
	if err := archive.ZipToFile(s.fsys, tempDir, dest); err != nil {
		s.logger.Error("reconstruction compression failed",
			zap.String("dir", tempDir),
			zap.Error(err),
		)
		errs = append(errs, "Error: a zip archive could not be created for the reconstructed project directory.")
	}
	return errs
}

func (s *Store) dirExists(dir string) bool {
	info, err := s.fsys.Stat(dir)
	return err == nil && info.IsDir()
}
