package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"incubator-link/internal/logging"
)

type Config struct {
	Log       logging.Config `yaml:"log"`
	HTTPAddr  string         `yaml:"http_addr"`
	DataDir   string         `yaml:"data_dir"`
	Device    Device         `yaml:"device"`
	Broadcast Broadcast      `yaml:"broadcast"`
	Discovery Discovery      `yaml:"discovery"`
	Verify    Verify         `yaml:"verify"`
	Health    Health         `yaml:"health"`
	NATS      NATS           `yaml:"nats"`
}

type Device struct {
	APAddress       string        `yaml:"ap_address"`
	Port            int           `yaml:"port"`
	Hostnames       []string      `yaml:"hostnames"`
	CommonAddresses []string      `yaml:"common_addresses"`
	NSDService      string        `yaml:"nsd_service"`
	NSDFilter       string        `yaml:"nsd_filter"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

type Broadcast struct {
	Port          int           `yaml:"port"`
	Request       string        `yaml:"request"`
	ReplyMarker   string        `yaml:"reply_marker"`
	ListenTimeout time.Duration `yaml:"listen_timeout"`
}

type Discovery struct {
	Deadline              time.Duration `yaml:"deadline"`
	FallbackDelay         time.Duration `yaml:"fallback_delay"`
	StepDeadline          time.Duration `yaml:"step_deadline"`
	SweepRate             float64       `yaml:"sweep_rate"`
	SweepPriority         []int         `yaml:"sweep_priority"`
	GatewayRate           float64       `yaml:"gateway_rate"`
	GatewayConcurrency    int           `yaml:"gateway_concurrency"`
	IncludeDefaultGateway bool          `yaml:"include_default_gateway"`
	// Disabled lists strategy ids that are never dispatched.
	Disabled []string `yaml:"disabled"`
}

type Verify struct {
	LayerTimeout time.Duration `yaml:"layer_timeout"`
}

type Health struct {
	Period           time.Duration `yaml:"period"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

type NATS struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
	Embedded EmbeddedNATS  `yaml:"embedded"`
}

type EmbeddedNATS struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	StoreDir string `yaml:"store_dir"`
}

func Default() Config {
	return Config{
		Log:      logging.Config{Level: "info"},
		HTTPAddr: "127.0.0.1:8090",
		DataDir:  "data",
		Device: Device{
			APAddress:       "192.168.4.1",
			Port:            80,
			Hostnames:       []string{"incubator.local", "esp32.local"},
			CommonAddresses: []string{"192.168.4.1", "192.168.1.1", "192.168.0.1", "192.168.1.254", "10.0.0.1"},
			NSDService:      "_http._tcp.local.",
			NSDFilter:       "incubator",
			RequestTimeout:  2 * time.Second,
		},
		Broadcast: Broadcast{
			Port:          8888,
			Request:       "DISCOVER_INCUBATOR",
			ReplyMarker:   "INCUBATOR_HERE",
			ListenTimeout: 3 * time.Second,
		},
		Discovery: Discovery{
			Deadline:              15 * time.Second,
			FallbackDelay:         3 * time.Second,
			StepDeadline:          5 * time.Second,
			SweepRate:             20,
			SweepPriority:         []int{1, 2, 100, 101, 102, 103, 104, 105},
			GatewayRate:           10,
			GatewayConcurrency:    4,
			IncludeDefaultGateway: true,
		},
		Verify: Verify{LayerTimeout: 2 * time.Second},
		Health: Health{Period: 5 * time.Second, FailureThreshold: 1},
		NATS: NATS{
			Enabled: false,
			URL:     "nats://127.0.0.1:14222",
			Prefix:  "incubator",
			Timeout: 2 * time.Second,
			Embedded: EmbeddedNATS{
				Host:     "127.0.0.1",
				Port:     14222,
				StoreDir: "data/nats",
			},
		},
	}
}

// Load overlays the YAML file at path (if any) and environment overrides on Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := os.Getenv("INCUBATOR_DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

// Validate rejects settings that would break the timing relationships between the
// per-request, per-step and per-cycle timeouts.
func (c Config) Validate() error {
	var errs []error
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		errs = append(errs, fmt.Errorf("device.port %d out of range", c.Device.Port))
	}
	if c.Broadcast.Port <= 0 || c.Broadcast.Port > 65535 {
		errs = append(errs, fmt.Errorf("broadcast.port %d out of range", c.Broadcast.Port))
	}
	if c.Verify.LayerTimeout <= 0 {
		errs = append(errs, errors.New("verify.layer_timeout must be positive"))
	}
	if c.Discovery.Deadline <= c.Verify.LayerTimeout {
		errs = append(errs, errors.New("discovery.deadline must exceed verify.layer_timeout"))
	}
	if c.Discovery.SweepRate <= 0 {
		errs = append(errs, errors.New("discovery.sweep_rate must be positive"))
	}
	if c.Health.Period <= 0 {
		errs = append(errs, errors.New("health.period must be positive"))
	}
	if c.Health.FailureThreshold < 1 {
		errs = append(errs, errors.New("health.failure_threshold must be at least 1"))
	}
	return errors.Join(errs...)
}
