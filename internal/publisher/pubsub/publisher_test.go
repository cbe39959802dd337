package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/content-collector/internal/publisher"
)

const topicName = "projects/test-project/topics/collections"

func TestPublishSendsNotificationWithTraceContext(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	_, err := srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	otel.SetTextMapPropagator(propagation.TraceContext{})
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	pub := New(client.Publisher(topicName))
	t.Cleanup(pub.Stop)

	finished := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	id, err := pub.Publish(spanCtx, publisher.Notification{
		TaskID:     "task-1",
		RunID:      "run-1",
		ItemCount:  7,
		ArchiveURI: "gs://bucket/runs/task-1/run-1.json",
		SHA256:     "abc",
		FinishedAt: finished,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "task-1", msgs[0].Attributes["task_id"])
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])
	require.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", msgs[0].Attributes["traceparent"])

	var got publisher.Notification
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, 7, got.ItemCount)
	require.True(t, finished.Equal(got.FinishedAt))
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), publisher.Notification{})
	require.ErrorContains(t, err, "not configured")
}
