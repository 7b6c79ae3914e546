package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/page-insights/internal/insights"
)

func TestPublishToFakeServer(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	pub, err := Connect(ctx, "insights-test", "ingested", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })

	_, err = pub.client.CreateTopic(ctx, "ingested")
	require.NoError(t, err)

	event := insights.IngestedEvent{
		Username:   "acme",
		PageID:     "p1",
		Posts:      2,
		Followers:  2,
		IngestedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	id, err := pub.Publish(ctx, "page.ingested", event)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "page.ingested", msgs[0].Attributes[EventTypeAttribute])

	var got insights.IngestedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, event, got)
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "x", 1)
	require.Error(t, err)
	require.NoError(t, (&Publisher{}).Close())
}

func TestConnectRequiresIDs(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), "", "topic")
	require.Error(t, err)
}

func TestCarrier(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
