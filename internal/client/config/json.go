package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/flagx"
	"github.com/dmitrijs2005/entrysync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Intervals use
// timex.Duration, so they can be written as "3s" or integer nanoseconds.
type JsonConfig struct {
	ServerEndpointAddr string         `json:"server_endpoint_addr"`
	RealtimeURL        string         `json:"realtime_url"`
	DatabasePath       string         `json:"database_path"`
	Username           string         `json:"username"`
	Password           string         `json:"password"`
	DeviceID           string         `json:"device_id"`
	WorkspaceID        string         `json:"workspace_id"`
	PushInterval       timex.Duration `json:"push_interval"`
	PullInterval       timex.Duration `json:"pull_interval"`
	BatchSize          int            `json:"batch_size"`
	MaxRetries         int            `json:"max_retries"`
	BackoffMin         timex.Duration `json:"backoff_min"`
	BackoffMax         timex.Duration `json:"backoff_max"`
	LogLevel           string         `json:"log_level"`
}

// parseJson overlays Config with the non-empty values of the JSON file named
// by -c or -config. Read and unmarshal errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.ConfigPath(os.Args[1:])
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	setString(&cfg.ServerEndpointAddr, jc.ServerEndpointAddr)
	setString(&cfg.RealtimeURL, jc.RealtimeURL)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setString(&cfg.Username, jc.Username)
	setString(&cfg.Password, jc.Password)
	setString(&cfg.DeviceID, jc.DeviceID)
	setString(&cfg.WorkspaceID, jc.WorkspaceID)
	setString(&cfg.LogLevel, jc.LogLevel)
	setDuration(&cfg.PushInterval, jc.PushInterval)
	setDuration(&cfg.PullInterval, jc.PullInterval)
	setDuration(&cfg.BackoffMin, jc.BackoffMin)
	setDuration(&cfg.BackoffMax, jc.BackoffMax)
	if jc.BatchSize > 0 {
		cfg.BatchSize = jc.BatchSize
	}
	if jc.MaxRetries > 0 {
		cfg.MaxRetries = jc.MaxRetries
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
