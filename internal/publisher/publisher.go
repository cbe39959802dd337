// Package publisher announces finished collection runs to downstream
// consumers such as the relevance classifier.
package publisher

import (
	"context"
	"time"
)

// Notification is the payload sent once a run's items are persisted.
type Notification struct {
	TaskID     string    `json:"task_id"`
	RunID      string    `json:"run_id"`
	ItemCount  int       `json:"item_count"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	SHA256     string    `json:"sha256,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Attributes returns the routing attributes attached to the message.
func (n Notification) Attributes() map[string]string {
	return map[string]string{
		"task_id": n.TaskID,
		"run_id":  n.RunID,
	}
}

// Publisher delivers notifications and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, n Notification) (string, error)
}
