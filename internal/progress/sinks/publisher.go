package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-orchestrator/internal/progress"
)

// Publisher sends one payload to a topic and returns the broker message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublishSink forwards every event to a message bus topic.
type PublishSink struct {
	publisher Publisher
	topic     string
	closer    func() error
}

// NewPublishSink builds a sink; closer runs on Close and may be nil.
func NewPublishSink(publisher Publisher, topic string, closer func() error) *PublishSink {
	return &PublishSink{publisher: publisher, topic: topic, closer: closer}
}

// Consume publishes each event, continuing past failures and returning them
// joined.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s/%d: %w", evt.JobID, evt.Seq, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the publisher's client.
func (s *PublishSink) Close(context.Context) error {
	if s.closer == nil {
		return nil
	}
	if err := s.closer(); err != nil {
		return fmt.Errorf("close publisher: %w", err)
	}
	return nil
}
