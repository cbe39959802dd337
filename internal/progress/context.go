package progress

import "context"

type runIDKey struct{}

// WithRunID scopes ctx to one run so source jobs can tag their telemetry.
func WithRunID(ctx context.Context, runID [16]byte) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom returns the run stored on ctx.
func RunIDFrom(ctx context.Context) ([16]byte, bool) {
	id, ok := ctx.Value(runIDKey{}).([16]byte)
	return id, ok && id != [16]byte{}
}
