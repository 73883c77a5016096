package journal

import "context"

// Store persists journal records.
type Store interface {
	// Append stores records.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// QueryStore provides read access to the journal for the status API.
type QueryStore interface {
	// Query returns records matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]Record, error)
}
