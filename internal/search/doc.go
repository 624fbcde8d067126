// Package search holds the file-system leaf operations that produce
// candidates: Grep (fixed-string line search with context snippets) and Glob
// (one candidate per matching file). ReferenceFollower builds on Grep to
// chase cross-references such as "See Note 12" across files.
//
// Both operations identify content by file:// URIs. URIFromPath and
// PathFromURI convert between the two forms; ReadURI and LineCache give
// other packages cached access to the same files.
package search
