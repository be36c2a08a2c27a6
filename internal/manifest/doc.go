// Package manifest defines the project manifest data model: the mapping of
// project fields persisted in the document store, the embedded version
// history, and the rules for reducing a raw manifest to its persisted form.
//
// A manifest is deliberately schemaless (map[string]any) because the
// workspace UI round-trips arbitrary form fields through it. The package
// normalizes the one field with real structure, "content", into an ordered
// list of Version records regardless of the shape it was persisted in.
package manifest
