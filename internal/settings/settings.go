package settings

import (
	"time"

	"incubator-link/internal/device"
)

// LastKnown is the most recent verified device endpoint.
type LastKnown struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Mode    device.Mode `json:"mode"`
	SavedAt time.Time   `json:"saved_at"`
}

type Settings struct {
	Version int `json:"version"`

	LastKnown *LastKnown `json:"last_known,omitempty"`
}

func Defaults() Settings {
	return Settings{Version: 1}
}
