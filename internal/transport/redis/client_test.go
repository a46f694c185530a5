package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/facilityops/accesscontrol-sync/internal/transport"
)

func setupRedis(t *testing.T) string {
	t.Helper()
	tc.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tc.Run(ctx, "redis:7-alpine",
		tc.WithExposedPorts("6379/tcp"),
		tc.WithWaitStrategy(wait.ForListeningPort("6379/tcp")),
	)
	tc.CleanupContainer(t, container)
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

func TestPublishBeforeConnect(t *testing.T) {
	t.Parallel()

	c := New(Options{Address: "127.0.0.1:1"})
	t.Cleanup(func() { _ = c.Close() })

	assert.False(t, c.IsConnected())
	require.ErrorIs(t, c.Publish(context.Background(), "t", []byte("x")), transport.ErrNotConnected)
}

func TestConnectUnreachable(t *testing.T) {
	t.Parallel()

	c := New(Options{Address: "127.0.0.1:1", ConnectTimeout: time.Second})
	t.Cleanup(func() { _ = c.Close() })

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestPubSubRoundTrip(t *testing.T) {
	t.Parallel()
	addr := setupRedis(t)
	ctx := context.Background()

	sub := New(Options{Address: addr})
	t.Cleanup(func() { _ = sub.Close() })
	pub := New(Options{Address: addr})
	t.Cleanup(func() { _ = pub.Close() })

	require.NoError(t, sub.Connect(ctx))
	require.NoError(t, pub.Connect(ctx))
	assert.True(t, pub.IsConnected())

	got := make(chan transport.Message, 1)
	require.NoError(t, sub.Subscribe(ctx, "accessControl/user/command", func(_ context.Context, m transport.Message) {
		got <- m
	}))

	require.NoError(t, pub.Publish(ctx, "accessControl/user/command", []byte(`{"command":"getSyncStatus"}`)))

	select {
	case m := <-got:
		assert.Equal(t, "accessControl/user/command", m.Topic)
		assert.JSONEq(t, `{"command":"getSyncStatus"}`, string(m.Payload))
	case <-time.After(10 * time.Second):
		t.Fatal("message not delivered")
	}

	require.NoError(t, sub.Close())
	assert.False(t, sub.IsConnected())
}
