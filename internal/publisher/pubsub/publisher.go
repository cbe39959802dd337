// Package pubsub sends run notifications to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/content-collector/internal/publisher"
)

// Publisher wraps a topic publisher from the Pub/Sub client.
type Publisher struct {
	topic *pubsub.Publisher
}

// New returns a Publisher bound to topic.
func New(topic *pubsub.Publisher) *Publisher {
	return &Publisher{topic: topic}
}

// Publish sends n as JSON. Routing attributes and the caller's trace context
// travel as message attributes.
func (p *Publisher) Publish(ctx context.Context, n publisher.Notification) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}
	attrs := n.Attributes()
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish notification: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases the topic publisher.
func (p *Publisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}
