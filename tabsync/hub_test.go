package tabsync

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/benjaminabbitt/storefront/shop"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(zap.NewNop())
	errCh := make(chan error, 1)
	go func() {
		errCh <- shop.Serve(ctx, zap.NewNop(), lis, shop.ServerConfig{Name: "hub"}, hub.Register)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub, lis.Addr().String()
}

func TestHub_RelaysBetweenClients(t *testing.T) {
	hub, addr := startHub(t)

	publisher, err := NewHubClient(addr, nil)
	require.NoError(t, err)
	defer publisher.Close()
	subscriber, err := NewHubClient(addr, nil)
	require.NoError(t, err)
	defer subscriber.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := subscriber.Subscribe(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, publisher.Publish(ctx, Message{Kind: KindPaymentCompleted, Token: "ORD-1", Writer: "proc-a", At: at}))

	m := receive(t, msgs)
	assert.Equal(t, KindPaymentCompleted, m.Kind)
	assert.Equal(t, "ORD-1", m.Token)
	assert.Equal(t, "proc-a", m.Writer)
	assert.True(t, m.At.Equal(at))
}

func TestHub_StampsMissingTime(t *testing.T) {
	hub, addr := startHub(t)
	client, err := NewHubClient(addr, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := client.Subscribe(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Publish(ctx, Message{Kind: KindCartChanged, Key: "cart"}))
	assert.False(t, receive(t, msgs).At.IsZero())
}

func TestHub_RejectsUnknownKind(t *testing.T) {
	_, addr := startHub(t)
	client, err := NewHubClient(addr, nil)
	require.NoError(t, err)
	defer client.Close()

	in, err := structpb.NewStruct(map[string]interface{}{"kind": "gossip"})
	require.NoError(t, err)
	err = client.conn.Invoke(context.Background(), publishMethod, in, new(timestamppb.Timestamp))
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.True(t, IsInvalidArgument(grpcError(err)))
}

func TestHub_SubscriptionEndsWithContext(t *testing.T) {
	hub, addr := startHub(t)
	client, err := NewHubClient(addr, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := client.Subscribe(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()

	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
	for range msgs {
	}
}

func TestMessageStructRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123, time.UTC)
	in := Message{Kind: KindMarkerChanged, Key: "clear:ORD-1", Token: "ORD-1", Writer: "tab", At: at}

	s, err := messageToStruct(in)
	require.NoError(t, err)
	out := messageFromStruct(s)

	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.Key, out.Key)
	assert.Equal(t, in.Token, out.Token)
	assert.True(t, out.At.Equal(at))
}

func TestFormatEndpoint(t *testing.T) {
	assert.Equal(t, "unix:///tmp/hub.sock", formatEndpoint("/tmp/hub.sock"))
	assert.Equal(t, "localhost:7400", formatEndpoint("localhost:7400"))
}
