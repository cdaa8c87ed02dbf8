package version

import (
	_ "embed"
	"runtime"
	"strings"
)

//go:embed VERSION
var raw string

func String() string {
	return strings.TrimSpace(raw)
}

// UserAgent identifies the engine in requests to the device.
func UserAgent() string {
	return "incubator-link/" + String() + " (" + runtime.GOOS + ")"
}
