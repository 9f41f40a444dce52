// Package pubsub implements the stream capability on Google Cloud Pub/Sub.
// A stream maps to a topic and a consumer group to a subscription on it.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/careers-ingest/internal/gateway"
	"github.com/JakeFAU/careers-ingest/internal/listing"
)

// ErrReplayUnsupported is returned when a group is requested to start at
// the beginning of a stream. Subscriptions only receive later messages.
var ErrReplayUnsupported = errors.New("pubsub subscriptions cannot start before creation")

// Stream implements gateway.Stream.
type Stream struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Pub/Sub client for projectID.
func New(ctx context.Context, projectID string, opts ...option.ClientOption) (*Stream, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return NewWithClient(client)
}

// NewWithClient wraps an existing client.
func NewWithClient(client *pubsub.Client) (*Stream, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Stream{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// Close flushes pending publishes and closes the client.
func (s *Stream) Close() error {
	s.mu.Lock()
	for _, t := range s.topics {
		t.Stop()
	}
	s.topics = make(map[string]*pubsub.Topic)
	s.mu.Unlock()
	return s.client.Close()
}

// SubscriptionID names the subscription backing group on stream.
func SubscriptionID(stream, group string) string {
	return stream + "-" + group
}

func (s *Stream) topic(name string) *pubsub.Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[name]
	if !ok {
		t = s.client.Topic(name)
		s.topics[name] = t
	}
	return t
}

// Append publishes fields as an ordered JSON object and waits for the
// server-assigned message ID.
func (s *Stream) Append(ctx context.Context, stream string, fields listing.Fields) (string, error) {
	data, err := fields.MarshalJSON()
	if err != nil {
		return "", err
	}
	attrs := make(map[string]string, 1)
	if jobID, ok := fields.Map()[listing.FieldJobID]; ok && jobID != "" {
		attrs[listing.FieldJobID] = jobID
	}
	res := s.topic(stream).Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := res.Get(ctx)
	if err != nil {
		return "", classify(fmt.Errorf("publish to %s: %w", stream, err))
	}
	return id, nil
}

// CreateGroup creates the subscription for group, creating the topic first
// when createIfAbsent is set.
func (s *Stream) CreateGroup(ctx context.Context, stream, group string, fromNow, createIfAbsent bool) (gateway.GroupResult, error) {
	if !fromNow {
		return "", ErrReplayUnsupported
	}
	t := s.topic(stream)
	exists, err := t.Exists(ctx)
	if err != nil {
		return "", classify(fmt.Errorf("check topic %s: %w", stream, err))
	}
	if !exists {
		if !createIfAbsent {
			return "", fmt.Errorf("topic %q does not exist", stream)
		}
		if _, err := s.client.CreateTopic(ctx, stream); err != nil && status.Code(err) != codes.AlreadyExists {
			return "", classify(fmt.Errorf("create topic %s: %w", stream, err))
		}
	}
	_, err = s.client.CreateSubscription(ctx, SubscriptionID(stream, group), pubsub.SubscriptionConfig{Topic: t})
	switch {
	case err == nil:
		return gateway.GroupCreated, nil
	case status.Code(err) == codes.AlreadyExists:
		return gateway.GroupExists, nil
	default:
		return "", classify(fmt.Errorf("create subscription %s: %w", group, err))
	}
}

func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("%w: %w", gateway.ErrUnavailable, err)
	default:
		return err
	}
}
