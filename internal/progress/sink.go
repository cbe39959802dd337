package progress

import "context"

// Sink consumes batches of telemetry events. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual telemetry events without blocking.
type Emitter interface {
	Emit(evt Event)
}

// Reporter receives the client-facing messages of a run. Send blocks until
// the message is accepted; Close ends the run's stream.
type Reporter interface {
	Send(ctx context.Context, msg Message) error
	Close()
}
