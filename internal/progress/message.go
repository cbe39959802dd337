package progress

import (
	"encoding/json"
	"time"

	"github.com/JakeFAU/content-collector/internal/store"
)

// MessageType names a client-facing progress message.
type MessageType string

// Message types, in the order a run usually produces them.
const (
	TypeStage    MessageType = "stage"
	TypeLog      MessageType = "log"
	TypeItem     MessageType = "item"
	TypeProgress MessageType = "progress"
	TypeComplete MessageType = "complete"
	TypeError    MessageType = "error"
)

// Terminal reports whether no message may follow this type.
func (t MessageType) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// Run stages reported through TypeStage messages.
const (
	StageInit       = "init"
	StageCollecting = "collecting"
	StageSaving     = "saving"
)

// Message is one event of a run's client stream. It encodes as
// {"type": "...", "data": {...}}.
type Message struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// StageData announces a new phase of the run.
type StageData struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// LogData is a human-readable progress line.
type LogData struct {
	Message string `json:"message"`
}

// ItemPreview is the abbreviated form of an item shown while collecting.
type ItemPreview struct {
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	URL         string     `json:"url"`
	SourceName  string     `json:"source_name"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// ItemData reports one collected item and the running count.
type ItemData struct {
	Item  ItemPreview `json:"item"`
	Count int         `json:"count"`
}

// ProgressData is a percentage in [0, 100].
type ProgressData struct {
	Progress int `json:"progress"`
}

// SourceCounts tallies sources by final status.
type SourceCounts struct {
	Success int `json:"success"`
	Slow    int `json:"slow"`
	Failed  int `json:"failed"`
}

// CompleteData closes a successful run. Items is the task's persisted item
// list, in repository order, and Total its length.
type CompleteData struct {
	Message string             `json:"message"`
	Items   []store.ItemRecord `json:"items"`
	Total   int                `json:"total"`
	Sources SourceCounts       `json:"sources"`
}

// ErrorData closes a failed run.
type ErrorData struct {
	Message string `json:"message"`
}

// StageMessage builds a TypeStage message.
func StageMessage(stage, message string) Message {
	return Message{Type: TypeStage, Data: StageData{Stage: stage, Message: message}}
}

// LogMessage builds a TypeLog message.
func LogMessage(message string) Message {
	return Message{Type: TypeLog, Data: LogData{Message: message}}
}

// ItemMessage builds a TypeItem message.
func ItemMessage(item ItemPreview, count int) Message {
	return Message{Type: TypeItem, Data: ItemData{Item: item, Count: count}}
}

// ProgressMessage builds a TypeProgress message.
func ProgressMessage(pct int) Message {
	return Message{Type: TypeProgress, Data: ProgressData{Progress: pct}}
}

// CompleteMessage builds a TypeComplete message.
func CompleteMessage(data CompleteData) Message {
	return Message{Type: TypeComplete, Data: data}
}

// ErrorMessage builds a TypeError message.
func ErrorMessage(message string) Message {
	return Message{Type: TypeError, Data: ErrorData{Message: message}}
}

// Encode renders msg as a single JSON line without a trailing newline.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
