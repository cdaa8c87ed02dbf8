package natsjs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator-link/internal/bus/embeddednats"
	"incubator-link/internal/events"
)

func TestPublishAndPullThroughEmbeddedServer(t *testing.T) {
	srv, err := embeddednats.Start(embeddednats.Config{Port: -1, StoreDir: t.TempDir()})
	require.NoError(t, err)
	defer srv.Shutdown()

	c, err := Connect(Config{URL: srv.ClientURL(), Prefix: "test", Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer c.Close()
	assert.True(t, c.Connected())

	require.NoError(t, c.EnsureStreams())
	require.NoError(t, c.EnsureStreams(), "second call finds the existing stream")

	consumer, err := c.NewPullConsumer("linkd-commands", events.CommandModeSwitch, 16)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Publish(ctx, events.DeviceFound, []byte("ignored")))
	require.NoError(t, c.Publish(ctx, events.CommandModeSwitch, []byte("switch")))

	msgs, err := consumer.Fetch(ctx, 8, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "switch", string(msgs[0].Data()))
	require.NoError(t, msgs[0].Ack())

	msgs, err = consumer.Fetch(ctx, 8, 200*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
