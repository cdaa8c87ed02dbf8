package device

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Mode is the device's network posture.
type Mode string

const (
	ModeUnknown     Mode = "unknown"
	ModeAccessPoint Mode = "access_point"
	ModeStation     Mode = "station"
)

// ParseMode accepts the long names and the short "ap"/"sta" forms used on the wire.
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ap", "access_point", "accesspoint":
		return ModeAccessPoint, true
	case "sta", "station":
		return ModeStation, true
	case "", "unknown":
		return ModeUnknown, true
	}
	return ModeUnknown, false
}

// Wire returns the short form the firmware expects in mode-switch commands.
func (m Mode) Wire() string {
	switch m {
	case ModeAccessPoint:
		return "ap"
	case ModeStation:
		return "sta"
	}
	return ""
}

// Endpoint is one candidate location of the device. Equality is by (Address, Port).
type Endpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Mode    Mode   `json:"mode"`
}

func (e Endpoint) Key() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

func (e Endpoint) BaseURL() string {
	return "http://" + e.Key()
}

func (e Endpoint) Equal(o Endpoint) bool {
	return e.Address == o.Address && e.Port == o.Port
}

func (e Endpoint) IsZero() bool {
	return e.Address == "" && e.Port == 0
}

// WithMode returns a copy of e tagged with m.
func (e Endpoint) WithMode(m Mode) Endpoint {
	e.Mode = m
	return e
}

func (e Endpoint) String() string {
	if e.Mode == "" || e.Mode == ModeUnknown {
		return e.Key()
	}
	return e.Key() + " (" + string(e.Mode) + ")"
}

// StrategyID names one probing technique.
type StrategyID string

const (
	StrategyDirectIP      StrategyID = "direct_ip"
	StrategyCommonGateway StrategyID = "common_gateway"
	StrategyServiceName   StrategyID = "service_name"
	StrategyBroadcast     StrategyID = "broadcast"
	StrategySubnetSweep   StrategyID = "subnet_sweep"
	StrategyNSD           StrategyID = "nsd"
)

// ProbeResult is produced by exactly one strategy invocation and never mutated.
type ProbeResult struct {
	Strategy   StrategyID    `json:"strategy"`
	Endpoint   Endpoint      `json:"endpoint"`
	Succeeded  bool          `json:"succeeded"`
	Latency    time.Duration `json:"latency"`
	ObservedAt time.Time     `json:"observed_at"`
}
