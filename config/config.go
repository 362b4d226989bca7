// Package config loads the healthdesk YAML configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aep/healthdesk/kv"
	"github.com/aep/healthdesk/list"
	"sigs.k8s.io/yaml"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Addr is the API listen address.
	Addr string `json:"addr"`
	// StatsAddr serves /healthz and /metrics.
	StatsAddr string `json:"statsAddr"`
	// Server is the API base URL used by client commands.
	Server string `json:"server"`

	KV      kv.Config     `json:"kv"`
	Bus     BusConfig     `json:"bus"`
	TLS     TLSConfig     `json:"tls"`
	Log     LogConfig     `json:"log"`
	Tracing TracingConfig `json:"tracing"`
	List    ListConfig    `json:"list"`
	Suggest SuggestConfig `json:"suggest"`

	// Settings maps a setting group to the yema schema its values must
	// satisfy.
	Settings map[string]map[string]any `json:"settings,omitempty"`
}

type BusConfig struct {
	// Driver is solo or nats.
	Driver string `json:"driver"`
	URL    string `json:"url,omitempty"`
	// Embedded starts an in-process NATS server.
	Embedded bool   `json:"embedded,omitempty"`
	StoreDir string `json:"storeDir,omitempty"`
}

type TLSConfig struct {
	CA   string `json:"ca,omitempty"`
	Cert string `json:"cert,omitempty"`
	Key  string `json:"key,omitempty"`
}

type LogConfig struct {
	Level   string `json:"level"`
	NoColor bool   `json:"noColor,omitempty"`
}

type TracingConfig struct {
	// Endpoint is the OTLP/gRPC collector. Tracing is off when empty.
	Endpoint string `json:"endpoint,omitempty"`
	Service  string `json:"service,omitempty"`
}

type ListConfig struct {
	DefaultPageSize int `json:"defaultPageSize"`
}

type SuggestConfig struct {
	MinQuery   int      `json:"minQuery"`
	Recent     int      `json:"recent"`
	Limit      int      `json:"limit"`
	HistoryCap int      `json:"historyCap"`
	Debounce   Duration `json:"debounce"`
	CacheTTL   Duration `json:"cacheTTL"`
	// HistoryFile is where client commands keep search history.
	HistoryFile string `json:"historyFile,omitempty"`
}

// Duration reads Go duration strings such as "250ms".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() Config {
	return Config{
		Addr:      ":5052",
		StatsAddr: ":27667",
		Server:    "http://localhost:5052",
		KV:        kv.Config{Driver: "pebble", Path: "healthdesk-db"},
		Bus:       BusConfig{Driver: "solo"},
		Log:       LogConfig{Level: "info"},
		Tracing:   TracingConfig{Service: "healthdesk-api"},
		List:      ListConfig{DefaultPageSize: list.DefaultPageSize},
		Suggest: SuggestConfig{
			MinQuery:   2,
			Recent:     5,
			Limit:      8,
			HistoryCap: 10,
			Debounce:   Duration{300 * time.Millisecond},
			CacheTTL:   Duration{time.Minute},
		},
	}
}

// Current is the configuration loaded at start-up.
var Current = Default()

// Load reads path over the defaults and applies environment overrides. An
// empty path only applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("HEALTHDESK_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("HEALTHDESK_SERVER"); v != "" {
		c.Server = v
	}
	if v := os.Getenv("PD_ENDPOINT"); v != "" {
		c.KV.PDEndpoints = strings.Split(v, ",")
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.Bus.URL = v
	}
}

func (c Config) Validate() error {
	switch c.KV.Driver {
	case "pebble", "memory", "tikv":
	default:
		return fmt.Errorf("%w: kv.driver %q", ErrInvalid, c.KV.Driver)
	}
	switch c.Bus.Driver {
	case "solo", "nats":
	default:
		return fmt.Errorf("%w: bus.driver %q", ErrInvalid, c.Bus.Driver)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if (c.TLS.Cert == "") != (c.TLS.Key == "") {
		return fmt.Errorf("%w: tls.cert and tls.key go together", ErrInvalid)
	}
	if c.TLS.CA != "" && c.TLS.Cert == "" {
		return fmt.Errorf("%w: tls.ca requires tls.cert and tls.key", ErrInvalid)
	}
	if c.List.DefaultPageSize < list.MinPageSize || c.List.DefaultPageSize > list.MaxPageSize {
		return fmt.Errorf("%w: list.defaultPageSize %d", ErrInvalid, c.List.DefaultPageSize)
	}
	if c.Suggest.MinQuery < 1 || c.Suggest.Recent < 0 || c.Suggest.Limit < 1 || c.Suggest.HistoryCap < 1 {
		return fmt.Errorf("%w: suggest limits must be positive", ErrInvalid)
	}
	return nil
}
