package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"strings"
	"sync/atomic"
	"time"

	"incubator-link/internal/device"
)

// ErrUnexpectedReply means a server answered but the reply did not match the device contract.
// Transport failures are returned unwrapped so callers can tell the two apart.
var ErrUnexpectedReply = errors.New("unexpected reply")

// ErrStalled means the connection was accepted but no reply arrived before the deadline.
var ErrStalled = errors.New("connected but no reply")

type Config struct {
	StatusPath     string
	StatusKeys     []string
	PingPath       string
	PingReply      string
	InfoPath       string
	IdentityMarker string
	ModePath       string

	DialTimeout    time.Duration
	RequestTimeout time.Duration
	UserAgent      string
}

func DefaultConfig() Config {
	return Config{
		StatusPath:     "/api/status",
		StatusKeys:     []string{"temperature", "humidity", "status"},
		PingPath:       "/ping",
		PingReply:      "pong",
		InfoPath:       "/discover",
		IdentityMarker: "ESP32_INCUBATOR",
		ModePath:       "/api/mode",
		DialTimeout:    1200 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
		UserAgent:      "incubator-link",
	}
}

// Client speaks the device's HTTP contract.
//
// The firmware's web server is single-connection and fragile with keep-alive, so every
// request forces Connection: close and the transport never pools.
type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.StatusPath == "" {
		cfg.StatusPath = def.StatusPath
	}
	if len(cfg.StatusKeys) == 0 {
		cfg.StatusKeys = def.StatusKeys
	}
	if cfg.PingPath == "" {
		cfg.PingPath = def.PingPath
	}
	if cfg.PingReply == "" {
		cfg.PingReply = def.PingReply
	}
	if cfg.InfoPath == "" {
		cfg.InfoPath = def.InfoPath
	}
	if cfg.IdentityMarker == "" {
		cfg.IdentityMarker = def.IdentityMarker
	}
	if cfg.ModePath == "" {
		cfg.ModePath = def.ModePath
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	tr := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: -1}).DialContext,
		DisableKeepAlives:   true,
		ForceAttemptHTTP2:   false,
		MaxIdleConns:        0,
		MaxIdleConnsPerHost: 0,
		IdleConnTimeout:     0,
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.RequestTimeout, Transport: tr},
	}
}

// NewWithHTTPClient lets callers inject their own transport (tests, proxies).
func NewWithHTTPClient(cfg Config, hc *http.Client) *Client {
	c := New(cfg)
	if hc != nil {
		c.http = hc
	}
	return c
}

func (c *Client) Config() Config { return c.cfg }

// Status calls the capability endpoint. A 200 is not enough: the body must be a JSON
// object carrying at least one of the configured status keys.
func (c *Client) Status(ctx context.Context, ep device.Endpoint) (Status, error) {
	b, err := c.get(ctx, ep, c.cfg.StatusPath, "application/json")
	if err != nil {
		return Status{}, err
	}
	st, ok := parseStatus(b, c.cfg.StatusKeys)
	if !ok {
		return Status{}, fmt.Errorf("%w: status body is not a device status document", ErrUnexpectedReply)
	}
	return st, nil
}

// Ping calls the liveness endpoint and requires the exact reply payload.
func (c *Client) Ping(ctx context.Context, ep device.Endpoint) error {
	b, err := c.get(ctx, ep, c.cfg.PingPath, "text/plain")
	if err != nil {
		return err
	}
	if got := strings.TrimSpace(string(b)); got != c.cfg.PingReply {
		return fmt.Errorf("%w: ping replied %q", ErrUnexpectedReply, truncate(got, 64))
	}
	return nil
}

// Identify calls the discovery/info endpoint and requires the identity marker in the body.
func (c *Client) Identify(ctx context.Context, ep device.Endpoint) error {
	b, err := c.get(ctx, ep, c.cfg.InfoPath, "")
	if err != nil {
		return err
	}
	if !bytes.Contains(b, []byte(c.cfg.IdentityMarker)) {
		return fmt.Errorf("%w: identity marker missing", ErrUnexpectedReply)
	}
	return nil
}

// SetMode asks the firmware to switch its network posture. The device usually drops the
// connection while it reconfigures Wi-Fi, so a transport error after the request was sent
// is not proof that the command failed.
func (c *Client) SetMode(ctx context.Context, ep device.Endpoint, mode device.Mode) error {
	if mode.Wire() == "" {
		return fmt.Errorf("set mode: unsupported mode %q", mode)
	}
	payload, _ := json.Marshal(map[string]string{"mode": mode.Wire()})
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodPost, ep.BaseURL()+c.cfg.ModePath, bytes.NewReader(payload))
	c.decorate(req, "application/json")
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: set mode http %s", ErrUnexpectedReply, resp.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, ep device.Endpoint, path, accept string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep.BaseURL()+path, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req, accept)
	var connected atomic.Bool
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) { connected.Store(true) },
	}))
	resp, err := c.http.Do(req)
	if err != nil {
		if connected.Load() {
			return nil, fmt.Errorf("%w: %w", ErrStalled, err)
		}
		return nil, err
	}
	// Read before cancel, otherwise net/http may abort the body mid-read.
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s http %s", ErrUnexpectedReply, path, resp.Status)
	}
	return b, nil
}

func (c *Client) decorate(req *http.Request, accept string) {
	req.Close = true
	req.Header.Set("Connection", "close")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if accept == "" {
		accept = "*/*"
	}
	req.Header.Set("Accept", accept)
}

// IsReply reports whether err came from a server that answered (as opposed to a failed
// connection).
func IsReply(err error) bool {
	return errors.Is(err, ErrUnexpectedReply)
}

// Reached reports whether err shows that something listens at the endpoint: it either
// answered or accepted the connection and then went quiet.
func Reached(err error) bool {
	return IsReply(err) || errors.Is(err, ErrStalled)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
