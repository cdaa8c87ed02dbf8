package link

import (
	"time"

	"incubator-link/internal/device"
)

// State is the connection state owned by the Controller. Callers only ever see copies.
type State struct {
	Current             *device.Endpoint `json:"current,omitempty"`
	Mode                device.Mode      `json:"mode"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastError           device.ErrorKind `json:"last_error,omitempty"`
	LastSuccessAt       time.Time        `json:"last_success_at,omitempty"`
	DiscoveryInFlight   bool             `json:"discovery_in_flight"`
}

// Connected reports whether a current endpoint exists and its last check passed.
func (s State) Connected() bool {
	return s.Current != nil && s.ConsecutiveFailures == 0 && s.LastError == device.KindNone
}

func (s State) clone() State {
	if s.Current != nil {
		cp := *s.Current
		s.Current = &cp
	}
	return s
}
