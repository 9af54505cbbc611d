// Package pubsub publishes items to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawlengine/internal/crawler"
)

// Message attribute keys.
const (
	AttrRunID = "run_id"
	AttrURL   = "url"
)

// Config names the destination topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Sink publishes each item as a JSON message and waits for the server ack.
type Sink struct {
	topic  *pubsub.Topic
	client *pubsub.Client
	runID  string
}

// Open dials Pub/Sub and returns a sink that owns the client.
func Open(ctx context.Context, cfg Config, runID string, opts ...option.ClientOption) (*Sink, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, fmt.Errorf("sinks.pubsub.project_id is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("sinks.pubsub.topic is required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	s := New(client.Topic(cfg.Topic), runID)
	s.client = client
	return s, nil
}

// New wraps an existing topic handle.
func New(topic *pubsub.Topic, runID string) *Sink {
	return &Sink{topic: topic, runID: runID}
}

// Consume marshals the item to JSON and publishes it.
func (s *Sink) Consume(ctx context.Context, item *crawler.Item) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrRunID: s.runID,
		},
	}
	if u := item.GetString("url"); u != "" {
		msg.Attributes[AttrURL] = u
	}
	if _, err := s.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes outstanding publishes and closes an owned client.
func (s *Sink) Close(context.Context) error {
	if s.topic != nil {
		s.topic.Stop()
	}
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

var _ crawler.ItemSink = (*Sink)(nil)
