// Package gateway guarantees at most one stream entry per listing identity
// and bootstraps the consumer group that reads the stream.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/careers-ingest/internal/listing"
	"github.com/JakeFAU/careers-ingest/internal/metrics"
)

// ErrUnavailable marks store failures caused by a lost or refused
// connection. Backends wrap it; the pipeline ends the run when it sees one.
var ErrUnavailable = errors.New("store unavailable")

// Outcome is the result of a publish attempt.
type Outcome string

// Publish outcomes.
const (
	Published Outcome = "published"
	Duplicate Outcome = "duplicate"
)

// GroupResult distinguishes a freshly created consumer group from one that
// already existed. Any other failure is returned as an error.
type GroupResult string

// Group creation results.
const (
	GroupCreated GroupResult = "created"
	GroupExists  GroupResult = "exists"
)

// Membership is the dedup set capability of the external store.
type Membership interface {
	// Contains reports whether value is in the named set.
	Contains(ctx context.Context, set, value string) (bool, error)
	// Add inserts value atomically and reports whether it was newly added.
	Add(ctx context.Context, set, value string) (bool, error)
}

// Stream is the append-only log capability of the external store.
type Stream interface {
	// Append adds an entry and returns its store-assigned ID.
	Append(ctx context.Context, stream string, fields listing.Fields) (string, error)
	// CreateGroup creates a consumer group. fromNow positions the group after
	// existing entries; createIfAbsent creates the stream when missing.
	CreateGroup(ctx context.Context, stream, group string, fromNow, createIfAbsent bool) (GroupResult, error)
}

// Config names the store objects the gateway writes to.
type Config struct {
	Stream   string
	Group    string
	DedupSet string
}

// Gateway owns the check, insert and append sequence against the store.
type Gateway struct {
	cfg     Config
	members Membership
	stream  Stream
	logger  *zap.Logger
}

// New constructs a Gateway.
func New(cfg Config, members Membership, stream Stream, logger *zap.Logger) (*Gateway, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if cfg.DedupSet == "" {
		return nil, fmt.Errorf("dedup set name is required")
	}
	if members == nil || stream == nil {
		return nil, fmt.Errorf("membership and stream stores are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:     cfg,
		members: members,
		stream:  stream,
		logger:  logger,
	}, nil
}

// EnsureGroup creates the consumer group positioned at the current end of
// the stream, creating the stream if needed. An existing group is not an error.
func (g *Gateway) EnsureGroup(ctx context.Context) (GroupResult, error) {
	start := time.Now()
	res, err := g.stream.CreateGroup(ctx, g.cfg.Stream, g.cfg.Group, true, true)
	metrics.ObserveStoreOp("group_create", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("create group %s on %s: %w", g.cfg.Group, g.cfg.Stream, err)
	}
	switch res {
	case GroupCreated:
		g.logger.Info("consumer group created",
			zap.String("stream", g.cfg.Stream), zap.String("group", g.cfg.Group))
	case GroupExists:
		g.logger.Debug("consumer group already exists",
			zap.String("stream", g.cfg.Stream), zap.String("group", g.cfg.Group))
	default:
		return "", fmt.Errorf("create group %s: unexpected result %q", g.cfg.Group, res)
	}
	return res, nil
}

// PublishIfNew appends rec to the stream unless id was published before.
// The membership insert always precedes the append, so a failure between
// the two can only lose an entry, never duplicate one.
func (g *Gateway) PublishIfNew(ctx context.Context, rec listing.Record, id string) (Outcome, error) {
	if id == "" {
		return "", fmt.Errorf("identity is required")
	}
	logger := g.logger.With(zap.String("identity", id), zap.String("job_id", rec.ExternalID))

	start := time.Now()
	seen, err := g.members.Contains(ctx, g.cfg.DedupSet, id)
	metrics.ObserveStoreOp("membership_contains", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("check membership: %w", err)
	}
	if seen {
		logger.Warn("duplicate listing skipped", zap.String("title", rec.Title))
		return Duplicate, nil
	}

	start = time.Now()
	added, err := g.members.Add(ctx, g.cfg.DedupSet, id)
	metrics.ObserveStoreOp("membership_add", err, time.Since(start))
	if err != nil {
		return "", fmt.Errorf("add membership: %w", err)
	}
	if !added {
		logger.Warn("duplicate listing skipped after concurrent insert", zap.String("title", rec.Title))
		return Duplicate, nil
	}

	start = time.Now()
	entryID, err := g.stream.Append(ctx, g.cfg.Stream, rec.Fields())
	metrics.ObserveStoreOp("stream_append", err, time.Since(start))
	if err != nil {
		logger.Error("stream append failed after membership insert; listing will not be republished",
			zap.Error(err))
		return "", fmt.Errorf("append to %s: %w", g.cfg.Stream, err)
	}

	logger.Info("listing published",
		zap.String("entry_id", entryID),
		zap.String("title", rec.Title),
		zap.String("date_posted", rec.DatePosted))
	return Published, nil
}
