// Package redis provides the Redis-backed dedup set and stream: SISMEMBER,
// SADD, XADD and XGROUP CREATE.
package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/listing"
)

// Config controls the Redis client.
type Config struct {
	URL          string
	Password     string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store implements gateway.Membership and gateway.Stream on Redis.
type Store struct {
	client goredis.UniversalClient
}

// New parses cfg.URL and returns a Store. The connection is established
// lazily; call Ping to verify it.
func New(cfg Config) (*Store, error) {
	url := cfg.URL
	if url == "" {
		url = "redis://localhost:6379"
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	return NewWithClient(goredis.NewClient(opts))
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &Store{client: client}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return classify(fmt.Errorf("ping redis: %w", err))
	}
	return nil
}

// Close closes the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Contains reports whether value is a member of set.
func (s *Store) Contains(ctx context.Context, set, value string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, set, value).Result()
	if err != nil {
		return false, classify(fmt.Errorf("sismember %s: %w", set, err))
	}
	return ok, nil
}

// Add inserts value and reports whether it was new.
func (s *Store) Add(ctx context.Context, set, value string) (bool, error) {
	n, err := s.client.SAdd(ctx, set, value).Result()
	if err != nil {
		return false, classify(fmt.Errorf("sadd %s: %w", set, err))
	}
	return n == 1, nil
}

// Append adds an entry with a server-assigned ID.
func (s *Store) Append(ctx context.Context, stream string, fields listing.Fields) (string, error) {
	id, err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: fields.Flatten(),
	}).Result()
	if err != nil {
		return "", classify(fmt.Errorf("xadd %s: %w", stream, err))
	}
	return id, nil
}

// CreateGroup creates group on stream at "$" when fromNow, else at "0".
func (s *Store) CreateGroup(ctx context.Context, stream, group string, fromNow, createIfAbsent bool) (gateway.GroupResult, error) {
	start := "0"
	if fromNow {
		start = "$"
	}
	var err error
	if createIfAbsent {
		err = s.client.XGroupCreateMkStream(ctx, stream, group, start).Err()
	} else {
		err = s.client.XGroupCreate(ctx, stream, group, start).Err()
	}
	switch {
	case err == nil:
		return gateway.GroupCreated, nil
	case strings.HasPrefix(err.Error(), "BUSYGROUP"):
		return gateway.GroupExists, nil
	default:
		return "", classify(fmt.Errorf("xgroup create %s %s: %w", stream, group, err))
	}
}

// classify marks connection-level failures as gateway.ErrUnavailable.
func classify(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, goredis.ErrClosed),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
	default:
		return err
	}
}
