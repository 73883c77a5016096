package policy

import "context"

// Source fetches the current bytes of a named policy document from wherever
// the platform publishes it.
type Source interface {
	// Fetch returns the document bytes. Any failure (network, missing
	// document, bad status) is returned as an error; callers treat all of
	// them as "not available right now".
	Fetch(ctx context.Context, name string) ([]byte, error)
}

// Cache persists the last good bytes of each document across restarts.
type Cache interface {
	// Read returns the cached bytes. ok is false when nothing is cached;
	// err is reserved for I/O failures.
	Read(name string) (data []byte, ok bool, err error)
	// Write replaces the cached bytes for name.
	Write(name string, data []byte) error
}
