package main

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"incubator-link/internal/config"
	"incubator-link/internal/discovery/probe"
	"incubator-link/internal/engine"
	"incubator-link/internal/version"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	e, err := engine.New(engine.Options{
		Config:       config.Default(),
		Log:          log,
		Strategies:   func(probe.Set) probe.Set { return probe.Set{} },
		NetworkCheck: func() error { return nil },
	})
	require.NoError(t, err)
	srv := httptest.NewServer(newRouter(e, nil, time.Now(), log))
	t.Cleanup(srv.Close)
	return srv
}

func TestRouterBasics(t *testing.T) {
	srv := testServer(t)

	res, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/api/version")
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, version.String(), string(body))

	res, err = http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	var st map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&st))
	res.Body.Close()
	assert.Contains(t, st, "link")
	assert.Contains(t, st, "status")
	nats, _ := st["nats"].(map[string]any)
	assert.Equal(t, false, nats["enabled"])

	res, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(srv.URL + "/")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode, "status page is embedded")
}

func TestDeviceStatusWithoutConnection(t *testing.T) {
	srv := testServer(t)
	res, err := http.Get(srv.URL + "/api/device")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
}

func TestDiscoverNotFound(t *testing.T) {
	srv := testServer(t)
	res, err := http.Post(srv.URL+"/api/discover", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	var out discoverResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	assert.False(t, out.Found)
}

func TestModeRequestValidation(t *testing.T) {
	srv := testServer(t)
	cases := []struct {
		name string
		body string
	}{
		{"bad json", "{"},
		{"unknown mode", `{"mode":"mesh"}`},
		{"empty mode", `{"mode":""}`},
		{"bad address", `{"mode":"sta","address":"10.0.0.9:http"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := http.Post(srv.URL+"/api/mode", "application/json", strings.NewReader(tc.body))
			require.NoError(t, err)
			res.Body.Close()
			assert.Equal(t, http.StatusBadRequest, res.StatusCode)
		})
	}
}

func TestListenWithFallback(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	addr := busy.Addr().String()
	ln, got, err := listenWithFallback(addr)
	require.NoError(t, err)
	defer ln.Close()
	assert.NotEqual(t, addr, got)
	assert.Equal(t, got, ln.Addr().String())
}
