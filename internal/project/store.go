package project

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/workspaced/internal/archive"
	"github.com/fyrsmithlabs/workspaced/internal/docstore"
	"github.com/fyrsmithlabs/workspaced/internal/manifest"
)

const instrumentationName = "github.com/fyrsmithlabs/workspaced/internal/project"

// Store manages the version lifecycle of one project. It exclusively owns
// the in-memory reduced manifest for the duration of a request; the document
// store is the durable owner of record across requests.
type Store struct {
	config  *Config
	raw     manifest.Manifest
	reduced manifest.Manifest
	docs    docstore.Store
	fsys    billy.Filesystem
	logger  *zap.Logger

	// Telemetry
	tracer        trace.Tracer
	meter         metric.Meter
	launchCounter metric.Int64Counter
	exportCounter metric.Int64Counter
	saveCounter   metric.Int64Counter
}

// New creates a Store bound to one project manifest. The raw manifest is
// retained for traceability; all lifecycle operations act on its reduced
// form.
func New(cfg *Config, raw manifest.Manifest, docs docstore.Store, fsys billy.Filesystem, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()
	if docs == nil {
		return nil, errors.New("document store is required")
	}
	if fsys == nil {
		return nil, errors.New("workspace filesystem is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	s := &Store{
		config:  cfg,
		raw:     raw,
		reduced: manifest.Reduce(raw),
		docs:    docs,
		fsys:    fsys,
		logger:  logger,
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Store) initMetrics() {
	var err error

	s.launchCounter, err = s.meter.Int64Counter(
		"workspaced.project.launches_total",
		metric.WithDescription("Total number of project launches"),
		metric.WithUnit("{launch}"),
	)
	if err != nil {
		s.logger.Warn("failed to create launch counter", zap.Error(err))
	}

	s.exportCounter, err = s.meter.Int64Counter(
		"workspaced.project.exports_total",
		metric.WithDescription("Total number of project exports"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		s.logger.Warn("failed to create export counter", zap.Error(err))
	}

	s.saveCounter, err = s.meter.Int64Counter(
		"workspaced.project.saves_total",
		metric.WithDescription("Total number of project saves"),
		metric.WithUnit("{save}"),
	)
	if err != nil {
		s.logger.Warn("failed to create save counter", zap.Error(err))
	}
}

// Manifest returns the live reduced manifest.
func (s *Store) Manifest() manifest.Manifest {
	return s.reduced
}

// Name returns the project name.
func (s *Store) Name() string {
	return s.reduced.Name()
}

func (s *Store) now() string {
	return manifest.Timestamp(s.config.Clock())
}

// Exists reports whether the project is already persisted in the document
// store.
func (s *Store) Exists(ctx context.Context) bool {
	id := s.reduced.ID()
	if id == "" {
		return false
	}
	_, err := s.docs.FindOne(ctx, s.config.ProjectsCollection, id)
	return err == nil
}

// nextVersion builds the version record for the next save. The base number
// is the explicit argument, or the latest number when explicit is zero. When
// a workspace path is supplied the path is archived in memory: against an
// existing embedded archive the content digests are compared, and only a
// genuine change increments the number; identical content keeps it, so
// repeated no-op saves never inflate the version count.
func (s *Store) nextVersion(m manifest.Manifest, workspacePath string, explicit int) (manifest.Version, error) {
	number := explicit
	if number == 0 {
		number = m.LatestNumber()
	}

	ver, err := m.Get(manifest.KeyNumber, number)
	if err != nil {
		if !errors.Is(err, manifest.ErrNoVersions) && !errors.Is(err, manifest.ErrVersionNotFound) {
			return manifest.Version{}, err
		}
		// No record for this number yet: start a fresh one.
		ver = manifest.Version{Number: number}
	}

	if workspacePath != "" {
		data, zipErr := archive.Zip(s.fsys, workspacePath)
		if zipErr != nil {
			return manifest.Version{}, fmt.Errorf("%w: archive workspace: %v", ErrFilesystem, zipErr)
		}
		if ver.HasArchive() {
			same, cmpErr := archive.Equal(ver.Zipfile, data)
			if cmpErr != nil {
				return manifest.Version{}, fmt.Errorf("compare archives: %w", cmpErr)
			}
			if !same {
				number++
				ver.Zipfile = data
			}
		} else {
			ver.Zipfile = data
		}
	}

	now := s.now()
	ver.Number = number
	ver.Date = now
	ver.Name = manifest.FormatVersionName(now, number, m.Name())
	return ver, nil
}

// embedVersion upserts ver into the manifest's version history by number.
func embedVersion(m manifest.Manifest, ver manifest.Version) {
	versions := m.Versions()
	for i, v := range versions {
		if v.Number == ver.Number {
			versions[i] = ver
			m.SetVersions(versions)
			return
		}
	}
	m.SetVersions(append(versions, ver))
}

// persist writes the manifest to the document store, inserting when it has
// no identifier yet and updating otherwise. Returns the document id.
func (s *Store) persist(ctx context.Context, m manifest.Manifest) (string, error) {
	if id := m.ID(); id != "" {
		fields := make(docstore.Document, len(m))
		for k, v := range m {
			if k == manifest.FieldID {
				continue
			}
			fields[k] = v
		}
		if _, err := s.docs.FindOneAndUpdate(ctx, s.config.ProjectsCollection, id, fields); err != nil {
			return "", fmt.Errorf("%w: update project: %v", ErrPersistence, err)
		}
		return id, nil
	}

	id, err := s.docs.InsertOne(ctx, s.config.ProjectsCollection, docstore.Document(m))
	if err != nil {
		return "", fmt.Errorf("%w: insert project: %v", ErrPersistence, err)
	}
	return id, nil
}

// Save persists the manifest, inserting or updating based on whether an
// identifier is already present. When workspacePath is non-empty, the path
// is archived and embedded as the saved version's snapshot first. Mutations
// are built on a working copy and committed to the live manifest only after
// the store write succeeds.
func (s *Store) Save(ctx context.Context, workspacePath string) SaveResult {
	ctx, span := s.tracer.Start(ctx, "project.save")
	defer span.End()
	span.SetAttributes(
		attribute.String("project_name", s.Name()),
		attribute.Bool("with_snapshot", workspacePath != ""),
	)

	work := s.reduced.Clone()
	if workspacePath != "" {
		ver, err := s.nextVersion(work, workspacePath, 0)
		if err != nil {
			span.RecordError(err)
			return SaveResult{Result: StatusFail, Errors: []string{renderError(err)}}
		}
		embedVersion(work, ver)
	}

	id, err := s.persist(ctx, work)
	if err != nil {
		span.RecordError(err)
		return SaveResult{Result: StatusFail, Errors: []string{renderError(err)}}
	}
	work.SetID(id)
	s.reduced = work

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1)
	}
	s.logger.Info("saved project",
		zap.String("id", id),
		zap.String("name", s.Name()),
		zap.Bool("with_snapshot", workspacePath != ""),
	)
	return SaveResult{Result: StatusSuccess, ID: id, Errors: []string{}}
}

// SaveAs saves the project under a new name as a fresh document. The new
// name is timestamp-prefixed so repeated save-as calls never collide. When
// workspacePath is supplied, the live directory is copied to the new name
// and the new project's history is reset to a version 1 snapshot of the
// copy; otherwise the new document starts with an empty history.
func (s *Store) SaveAs(ctx context.Context, newName, workspacePath string) SaveResult {
	ctx, span := s.tracer.Start(ctx, "project.save_as")
	defer span.End()

	if newName == "" {
		return SaveResult{Result: StatusFail, Errors: []string{"No name has been supplied for the new project."}}
	}
	newName = s.now() + "_" + newName
	span.SetAttributes(attribute.String("new_name", newName))

	work := s.reduced.Clone()
	work[manifest.FieldName] = newName
	work.ClearID()

	if workspacePath != "" {
		newPath := s.fsys.Join(s.config.WorkspaceDir, newName)
		if err := copyDir(s.fsys, workspacePath, newPath); err != nil {
			span.RecordError(err)
			return SaveResult{Result: StatusFail, Errors: []string{"A project folder with that name already exists. Please try another name."}}
		}
		ver, err := s.nextVersion(work, newPath, 1)
		if err != nil {
			span.RecordError(err)
			return SaveResult{Result: StatusFail, Errors: []string{renderError(err)}}
		}
		ver.Number = 1
		ver.Name = manifest.FormatVersionName(ver.Date, 1, newName)
		work.SetVersions([]manifest.Version{ver})
	} else {
		work.SetVersions([]manifest.Version{})
	}

	id, err := s.persist(ctx, work)
	if err != nil {
		span.RecordError(err)
		return SaveResult{Result: StatusFail, Errors: []string{renderError(err)}}
	}

	if s.saveCounter != nil {
		s.saveCounter.Add(ctx, 1, metric.WithAttributes(attribute.Bool("save_as", true)))
	}
	s.logger.Info("saved project under new name",
		zap.String("id", id),
		zap.String("name", newName),
	)
	return SaveResult{Result: StatusSuccess, ID: id, Errors: []string{}}
}

// Copy inserts a clone of the current project under a new name. The chosen
// (or latest) version is reset to number 1 with a fresh timestamp, and the
// identifier is stripped so the store assigns a new one. The live manifest
// is never touched: a failed insert leaves no trace, and a successful one
// creates a sibling project.
func (s *Store) Copy(ctx context.Context, newName string, sourceVersion int) CopyResult {
	ctx, span := s.tracer.Start(ctx, "project.copy")
	defer span.End()
	span.SetAttributes(attribute.String("new_name", newName))

	if newName == "" {
		return CopyResult{Result: StatusFail, Errors: []string{"No name has been supplied for the new project."}}
	}

	work := s.reduced.Clone()
	work.ClearID()
	work[manifest.FieldName] = newName

	number := sourceVersion
	if number == 0 {
		number = work.LatestNumber()
	}
	ver, err := work.Get(manifest.KeyNumber, number)
	if err != nil {
		if !errors.Is(err, manifest.ErrNoVersions) && !errors.Is(err, manifest.ErrVersionNotFound) {
			span.RecordError(err)
			return CopyResult{Result: StatusFail, Errors: []string{renderError(err)}}
		}
		ver = manifest.Version{}
	}

	now := s.now()
	ver.Number = 1
	ver.Date = now
	ver.Name = manifest.FormatVersionName(now, 1, newName)
	work.SetVersions([]manifest.Version{ver})

	id, err := s.docs.InsertOne(ctx, s.config.ProjectsCollection, docstore.Document(work))
	if err != nil {
		span.RecordError(err)
		return CopyResult{Result: StatusFail, Errors: []string{renderError(fmt.Errorf("%w: insert project copy: %v", ErrPersistence, err))}}
	}

	s.logger.Info("copied project",
		zap.String("id", id),
		zap.String("name", newName),
		zap.Int("source_version", number),
	)
	return CopyResult{Result: StatusSuccess, ID: id, VersionName: ver.Name, Errors: []string{}}
}

// Delete removes the whole project record from the document store.
func (s *Store) Delete(ctx context.Context) DeleteResult {
	ctx, span := s.tracer.Start(ctx, "project.delete")
	defer span.End()

	id := s.reduced.ID()
	if id == "" {
		return DeleteResult{Result: StatusFail, Errors: []string{"The project has not been saved to the database."}}
	}
	if err := s.docs.DeleteOne(ctx, s.config.ProjectsCollection, id); err != nil {
		span.RecordError(err)
		if errors.Is(err, docstore.ErrNotFound) {
			return DeleteResult{Result: StatusFail, Errors: []string{"No project with that identifier was found in the database."}}
		}
		return DeleteResult{Result: StatusFail, Errors: []string{"Could not delete the project from the database."}}
	}

	s.logger.Info("deleted project", zap.String("id", id))
	return DeleteResult{Result: StatusSuccess, Errors: []string{}}
}

// DeleteVersion removes one version from the history and persists the
// shortened history via a partial update. A missing version number is an
// explicit failure, never a silent no-op.
func (s *Store) DeleteVersion(ctx context.Context, number int) DeleteResult {
	ctx, span := s.tracer.Start(ctx, "project.delete_version")
	defer span.End()
	span.SetAttributes(attribute.Int("version_number", number))

	id := s.reduced.ID()
	if id == "" {
		return DeleteResult{Result: StatusFail, Errors: []string{"The project has not been saved to the database."}}
	}

	work := s.reduced.Clone()
	if !work.Remove(number) {
		return DeleteResult{Result: StatusFail, Errors: []string{fmt.Sprintf("No version %d was found in the project.", number)}}
	}

	err := s.docs.UpdateOne(ctx, s.config.ProjectsCollection, id, docstore.Document{
		manifest.FieldContent: work.Versions(),
	})
	if err != nil {
		span.RecordError(err)
		return DeleteResult{Result: StatusFail, Errors: []string{"Could not delete the version from the database."}}
	}
	s.reduced = work

	s.logger.Info("deleted project version",
		zap.String("id", id),
		zap.Int("version_number", number),
	)
	return DeleteResult{Result: StatusSuccess, Errors: []string{}}
}

// renderError converts an internal error into the human-readable form used
// in result envelopes.
func renderError(err error) string {
	switch {
	case errors.Is(err, manifest.ErrNoVersions):
		return "No versions were included in the manifest."
	case errors.Is(err, manifest.ErrVersionNotFound):
		return "The requested version was not found in the manifest."
	case errors.Is(err, ErrPersistence):
		return "Could not update the database."
	case errors.Is(err, ErrFilesystem):
		return "Could not read or write the project directory."
	case errors.Is(err, archive.ErrMalformed):
		return "The project archive is malformed."
	default:
		return err.Error()
	}
}
