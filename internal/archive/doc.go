// Package archive compresses project directories into zip archives and
// extracts them again, either from a file or from bytes embedded in a
// manifest. Entries are written in lexicographic path order with fixed
// timestamps so that archiving the same tree twice produces the same bytes,
// and comparison is by content digest so that archives differing only in
// internal metadata still compare equal.
package archive
