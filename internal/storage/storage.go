// Package storage persists knowledge base metadata, chunk provenance, embeddings and
// background jobs in SQLite.
package storage

import "errors"

// ErrNotFound is returned when a knowledge base, chunk or job does not exist.
var ErrNotFound = errors.New("not found")
