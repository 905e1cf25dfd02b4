package interfaces

import (
	"context"
	"io"
)

// ObjectStore is the durable object-storage capability the export
// orchestrator uploads through.
type ObjectStore interface {
	// EnsureContainer creates the destination container if it does not
	// exist. Idempotent and safe under concurrent calls.
	EnsureContainer(ctx context.Context) error

	// Upload streams body to the named object, overwriting any object
	// of the same name, and returns the fully-qualified location.
	Upload(ctx context.Context, name string, body io.Reader) (string, error)
}
