package health

import "context"

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// LibraryReader reports the size of the loaded library snapshot.
type LibraryReader interface {
	Len() int
}

// EmbeddingChecker checks embedding model availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
