package status

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator-link/internal/device"
)

func TestStoreTracksEvents(t *testing.T) {
	mock := clock.NewMock()
	s := NewStore(mock)
	ep := device.Endpoint{Address: "192.168.1.42", Port: 80, Mode: device.ModeStation}

	mock.Add(time.Minute)
	s.DeviceFound(ep)
	s.ConnectionStatusChanged(true, "connected:station")
	s.DiscoveryComplete()

	snap := s.Get()
	require.NotNil(t, snap.Endpoint)
	assert.Equal(t, ep, *snap.Endpoint)
	assert.Equal(t, device.ModeStation, snap.Mode)
	assert.True(t, snap.Connected)
	assert.Equal(t, mock.Now(), snap.LastFoundAt)
	assert.Equal(t, mock.Now(), snap.LastChangeAt)
	assert.Equal(t, "complete", snap.LastDiscovery)

	// copies are detached
	snap.Endpoint.Address = "10.0.0.1"
	assert.Equal(t, "192.168.1.42", s.Get().Endpoint.Address)

	mock.Add(time.Minute)
	s.ConnectionStatusChanged(false, "unreachable")
	s.DiscoveryFailed("timeout")
	snap = s.Get()
	assert.False(t, snap.Connected)
	assert.Equal(t, "unreachable", snap.Reason)
	assert.Equal(t, "timeout", snap.LastDiscovery)
	assert.Equal(t, 2, snap.DiscoveryCount)
}

func TestSubscribeCoalesces(t *testing.T) {
	s := NewStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)

	s.DiscoveryComplete()
	s.DiscoveryComplete()
	s.DiscoveryComplete()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications were not coalesced")
	default:
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, time.Millisecond)
}
