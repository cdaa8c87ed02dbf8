package httpapi

import (
	"encoding/json"
	"strings"
)

// Status is the subset of the device status document the engine cares about.
// Everything else is kept in Fields for diagnostics.
type Status struct {
	Mode         string         `json:"mode,omitempty"`
	Firmware     string         `json:"firmware,omitempty"`
	TemperatureC float64        `json:"temperature_c,omitempty"`
	HumidityPct  float64        `json:"humidity_pct,omitempty"`
	Fields       map[string]any `json:"fields,omitempty"`
}

func parseStatus(b []byte, keys []string) (Status, bool) {
	var m map[string]any
	if json.Unmarshal(sanitize(b), &m) != nil || len(m) == 0 {
		return Status{}, false
	}
	found := false
	for _, k := range keys {
		if _, ok := lookup(m, k); ok {
			found = true
			break
		}
	}
	if !found {
		return Status{}, false
	}
	st := Status{Fields: m}
	st.Mode = pickString(m, "mode", "wifi_mode", "wifiMode")
	st.Firmware = pickString(m, "firmware", "fw", "version")
	st.TemperatureC = pickF64(m, "temperature", "temp")
	st.HumidityPct = pickF64(m, "humidity", "hum")
	return st, true
}

// sanitize drops junk some firmware builds print before the JSON body.
func sanitize(b []byte) []byte {
	s := string(b)
	if i := strings.Index(s, "{"); i >= 0 {
		return []byte(strings.TrimSpace(s[i:]))
	}
	return b
}

func lookup(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func pickF64(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok {
			if f, ok := v.(float64); ok {
				return f
			}
		}
	}
	return 0
}
