package project

import (
	"errors"
	"time"
)

// Operation outcomes reported in result envelopes.
const (
	StatusSuccess = "success"
	StatusFail    = "fail"
)

// Common errors. Public operations convert these into result envelopes at
// the boundary; they only propagate from internal helpers.
var (
	ErrValidation  = errors.New("validation failed")
	ErrPersistence = errors.New("store operation failed")
	ErrFilesystem  = errors.New("filesystem operation failed")
)

// Config configures a project Store.
type Config struct {
	// WorkspaceDir is the directory where active versions are materialized.
	WorkspaceDir string

	// TemplatesDir holds one workflow template set per subdirectory.
	TemplatesDir string

	// ProjectsCollection is the document store collection for manifests.
	ProjectsCollection string

	// CorpusCollection is the document store collection for raw-data
	// documents selected by a manifest's db_query.
	CorpusCollection string

	// DefaultQuery is the db_query applied to manifests that do not carry
	// one of their own.
	DefaultQuery string

	// Clock supplies timestamps for version dates. Defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkspaceDir:       "workspace",
		TemplatesDir:       "templates",
		ProjectsCollection: "projects",
		CorpusCollection:   "corpus",
		DefaultQuery:       `{"$and":[{"metapath":"Corpus,guardian,RawData"}]}`,
		Clock:              time.Now,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = def.WorkspaceDir
	}
	if c.TemplatesDir == "" {
		c.TemplatesDir = def.TemplatesDir
	}
	if c.ProjectsCollection == "" {
		c.ProjectsCollection = def.ProjectsCollection
	}
	if c.CorpusCollection == "" {
		c.CorpusCollection = def.CorpusCollection
	}
	if c.DefaultQuery == "" {
		c.DefaultQuery = def.DefaultQuery
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// LaunchResult is the envelope returned by Launch.
type LaunchResult struct {
	Result     string   `json:"result"`
	ProjectDir string   `json:"project_dir,omitempty"`
	Errors     []string `json:"errors"`
}

// ExportResult is the envelope returned by Export.
type ExportResult struct {
	Result   string   `json:"result"`
	Filepath string   `json:"filepath,omitempty"`
	Errors   []string `json:"errors"`
}

// SaveResult is the envelope returned by Save and SaveAs.
type SaveResult struct {
	Result string   `json:"result"`
	ID     string   `json:"_id,omitempty"`
	Errors []string `json:"errors"`
}

// CopyResult is the envelope returned by Copy.
type CopyResult struct {
	Result      string   `json:"result"`
	ID          string   `json:"_id,omitempty"`
	VersionName string   `json:"version_name,omitempty"`
	Errors      []string `json:"errors"`
}

// DeleteResult is the envelope returned by Delete and DeleteVersion.
type DeleteResult struct {
	Result string   `json:"result"`
	Errors []string `json:"errors"`
}
