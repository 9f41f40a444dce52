package crawler

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/listing"
)

// Publisher is the dedup-publish gateway as seen by the controller.
type Publisher interface {
	EnsureGroup(ctx context.Context) (gateway.GroupResult, error)
	PublishIfNew(ctx context.Context, rec listing.Record, identity string) (gateway.Outcome, error)
}

// Archive stores raw detail markup and returns a URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
