package config

import (
	"os"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/flagx"
)

// clientFlags are the flags the client binary owns.
var clientFlags = flagx.NewSet("client", "a", "r", "d", "u", "w", "i", "l")

// parseFlags populates selected Config fields from command-line flags.
//
//	-a string   address and port of the sync server
//	-r string   realtime websocket URL
//	-d string   path of the local database
//	-u string   username
//	-w string   workspace id
//	-i int      push and pull interval (in seconds)
//	-l string   log level
//
// Arguments outside clientFlags are ignored.
func parseFlags(cfg *Config) {
	fs := clientFlags.FlagSet()

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port to access server")
	fs.StringVar(&cfg.RealtimeURL, "r", cfg.RealtimeURL, "realtime websocket URL")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	fs.StringVar(&cfg.Username, "u", cfg.Username, "username")
	fs.StringVar(&cfg.WorkspaceID, "w", cfg.WorkspaceID, "workspace id")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	interval := fs.Int("i", int(cfg.PullInterval.Seconds()), "push and pull interval (in seconds)")

	if err := clientFlags.Parse(fs, os.Args[1:]); err != nil {
		panic(err)
	}

	d := time.Duration(*interval) * time.Second
	if d != cfg.PullInterval {
		cfg.PushInterval, cfg.PullInterval = d, d
	}
}
