package config

import "time"

// Config holds runtime settings of the entrysync client.
type Config struct {
	ServerEndpointAddr string
	RealtimeURL        string
	DatabasePath       string
	Username           string
	// Password is only read from the JSON file; the CLI prompts otherwise.
	Password    string
	DeviceID    string
	WorkspaceID string

	PushInterval time.Duration
	PullInterval time.Duration
	BatchSize    int
	MaxRetries   int
	BackoffMin   time.Duration
	BackoffMax   time.Duration

	LogLevel string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.RealtimeURL = "ws://127.0.0.1:8080/ws"
	c.DatabasePath = "entrysync.db"
	c.PushInterval = time.Minute
	c.PullInterval = time.Minute
	c.BatchSize = 100
	c.MaxRetries = 10
	c.BackoffMin = 500 * time.Millisecond
	c.BackoffMax = 30 * time.Second
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
