// Package memory records notifications in process. Tests use it to observe
// what a run announced.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/content-collector/internal/publisher"
)

// Publisher keeps every notification it receives.
type Publisher struct {
	mu       sync.RWMutex
	messages []publisher.Notification
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records n and returns a sequential id.
func (p *Publisher) Publish(_ context.Context, n publisher.Notification) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, n)
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded notifications.
func (p *Publisher) Messages() []publisher.Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]publisher.Notification(nil), p.messages...)
}
