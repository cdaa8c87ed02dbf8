package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"incubator-link/internal/core/link"
	"incubator-link/internal/core/webui"
	"incubator-link/internal/device"
	"incubator-link/internal/engine"
	"incubator-link/internal/version"
)

type modeRequest struct {
	Mode    string `json:"mode"`
	Address string `json:"address,omitempty"` // host or host:port the device is expected at
}

type discoverResponse struct {
	Found    bool             `json:"found"`
	Endpoint *device.Endpoint `json:"endpoint,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func discoveryCode(err error) int {
	switch {
	case errors.Is(err, link.ErrDiscoveryInFlight):
		return http.StatusConflict
	case errors.Is(err, link.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrNoNetwork):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func discoveryReply(w http.ResponseWriter, ep device.Endpoint, ok bool, err error) {
	if err != nil {
		writeJSON(w, discoveryCode(err), discoverResponse{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, discoverResponse{Error: "device not found"})
		return
	}
	writeJSON(w, http.StatusOK, discoverResponse{Found: true, Endpoint: &ep})
}

func newRouter(e *engine.Engine, nl *natsLink, startedAt time.Time, log *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain")
		_, _ = w.Write([]byte(version.String()))
	})
	r.Get("/api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"link":       e.State(),
			"status":     e.Status().Get(),
			"nats":       nl.status(),
			"started_at": startedAt.Format(time.RFC3339),
			"uptime_s":   int64(time.Since(startedAt).Seconds()),
		})
	})
	r.Get("/api/device", func(w http.ResponseWriter, r *http.Request) {
		st, err := e.DeviceStatus(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": err.Error(),
				"kind":  string(device.KindOf(err)),
			})
			return
		}
		writeJSON(w, http.StatusOK, st)
	})
	r.Post("/api/discover", func(w http.ResponseWriter, r *http.Request) {
		ep, ok, err := e.Discover(r.Context())
		discoveryReply(w, ep, ok, err)
	})
	r.Post("/api/mode", func(w http.ResponseWriter, r *http.Request) {
		var req modeRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, discoverResponse{Error: "bad json"})
			return
		}
		mode, ok := device.ParseMode(req.Mode)
		if !ok || mode == device.ModeUnknown {
			writeJSON(w, http.StatusBadRequest, discoverResponse{Error: fmt.Sprintf("unknown mode %q", req.Mode)})
			return
		}
		target, err := e.ParseTarget(req.Address, mode)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, discoverResponse{Error: err.Error()})
			return
		}
		ep, found, err := e.SwitchMode(r.Context(), mode, target)
		discoveryReply(w, ep, found, err)
	})

	r.Get("/api/stream/status", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusBadRequest)
			return
		}

		w.Header().Set("content-type", "text/event-stream")
		w.Header().Set("cache-control", "no-cache")
		w.Header().Set("connection", "keep-alive")

		ctx := r.Context()
		ch := e.Status().Subscribe(ctx)

		send := func() {
			b, _ := json.Marshal(e.Status().Get())
			_, _ = fmt.Fprintf(w, "event: status\ndata: %s\n\n", b)
			flusher.Flush()
		}
		send()

		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				send()
			case <-heartbeat.C:
				_, _ = fmt.Fprint(w, "event: ping\ndata: 1\n\n")
				flusher.Flush()
			}
		}
	})

	r.Handle("/metrics", e.Metrics().Handler())

	if uiFS, err := webui.FS(); err == nil {
		r.Handle("/*", http.FileServer(http.FS(uiFS)))
	} else {
		log.Warn("web ui disabled", zap.Error(err))
	}
	return r
}
