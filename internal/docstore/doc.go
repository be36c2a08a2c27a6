// Package docstore provides the document store used for project manifests
// and raw-data corpus records. Documents are schemaless JSON objects keyed by
// a store-assigned identifier and grouped into named collections.
//
// The Store interface is the seam the lifecycle layer depends on; the SQLite
// implementation backs it with a single documents table and JSON1 field
// extraction for query conditions.
package docstore
