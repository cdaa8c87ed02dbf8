package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator-link/internal/device"
)

func endpointOf(t *testing.T, srv *httptest.Server) device.Endpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return device.Endpoint{Address: host, Port: port}
}

func TestClientAgainstIncubator(t *testing.T) {
	var gotMode string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "close", r.Header.Get("Connection"))
		_, _ = io.WriteString(w, `{"temperature":37.6,"humidity":55,"mode":"sta","firmware":"2.1.0"}`)
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong\n")
	})
	mux.HandleFunc("/discover", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"device":"ESP32_INCUBATOR","id":"a1"}`)
	})
	mux.HandleFunc("/api/mode", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotMode = body["mode"]
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{})
	ep := endpointOf(t, srv)
	ctx := context.Background()

	st, err := c.Status(ctx, ep)
	require.NoError(t, err)
	assert.Equal(t, 37.6, st.TemperatureC)
	assert.Equal(t, "sta", st.Mode)
	assert.Equal(t, "2.1.0", st.Firmware)

	require.NoError(t, c.Ping(ctx, ep))
	require.NoError(t, c.Identify(ctx, ep))
	require.NoError(t, c.SetMode(ctx, ep, device.ModeAccessPoint))
	assert.Equal(t, "ap", gotMode)
}

func TestClientRejectsLookalikes(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<!doctype html><html>router login</html>")
	})
	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong pong")
	})
	mux.HandleFunc("/discover", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := New(Config{})
	ep := endpointOf(t, srv)
	ctx := context.Background()

	_, err := c.Status(ctx, ep)
	assert.ErrorIs(t, err, ErrUnexpectedReply)
	assert.True(t, IsReply(c.Ping(ctx, ep)))
	assert.True(t, IsReply(c.Identify(ctx, ep)))
}

func TestStatusNeedsKnownKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"uptime":12}`)
	}))
	defer srv.Close()

	_, err := New(Config{}).Status(context.Background(), endpointOf(t, srv))
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestClientUnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	ep := endpointOf(t, srv)
	srv.Close()

	c := New(Config{RequestTimeout: 500 * time.Millisecond})
	err := c.Ping(context.Background(), ep)
	require.Error(t, err)
	assert.False(t, IsReply(err))
}

func TestStalledServerIsReached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(Config{RequestTimeout: 200 * time.Millisecond})
	err := c.Ping(context.Background(), endpointOf(t, srv))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStalled)
	assert.False(t, IsReply(err))
	assert.True(t, Reached(err))

	gone := httptest.NewServer(http.NotFoundHandler())
	ep := endpointOf(t, gone)
	gone.Close()
	assert.False(t, Reached(c.Ping(context.Background(), ep)))
}
