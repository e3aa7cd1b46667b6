// Package config loads runtime configuration for the entrysync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # JSON schema
//
// Intervals use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "realtime_url": "ws://127.0.0.1:8080/ws",
//	  "database_path": "entrysync.db",
//	  "username": "alice",
//	  "workspace_id": "w1",
//	  "push_interval": "1m",
//	  "pull_interval": "1m",
//	  "batch_size": 100,
//	  "max_retries": 10,
//	  "backoff_min": "500ms",
//	  "backoff_max": "30s",
//	  "log_level": "info"
//	}
package config
