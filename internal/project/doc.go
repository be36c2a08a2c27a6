// Package project implements the version lifecycle of a research project:
// how versions are created, numbered, compared, persisted, exported, and
// materialized as workspace directories.
//
// A Store binds one project's manifest to its collaborators (document store,
// workspace filesystem) for the duration of a request. Every public operation
// is synchronous, catches its own failures, and returns a uniform result
// envelope; nothing escapes as a raw error.
package project
