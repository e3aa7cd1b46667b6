package config

import (
	"os"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/flagx"
)

// serverFlags are the flags the server binary owns.
var serverFlags = flagx.NewSet("server", "a", "w", "d", "s", "t", "r", "u", "p", "b", "g", "e", "k", "i", "l")

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   gRPC bind address (e.g., ":50051")
//	-w string   realtime HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r string   Redis URL of the change-event bus
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-k int      tombstone retention, hours
//	-i int      purge interval, minutes
//	-l string   log level
//
// Arguments outside serverFlags are ignored.
func parseFlags(config *Config) {
	fs := serverFlags.FlagSet()

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.EndpointAddrHTTP, "w", config.EndpointAddrHTTP, "address and port of the realtime endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")

	fs.StringVar(&config.RedisURL, "r", config.RedisURL, "redis URL (empty for in-process events)")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 archive bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	retention := fs.Int("k", int(config.TombstoneRetention.Hours()), "tombstone retention (in hours)")
	purgeInterval := fs.Int("i", int(config.PurgeInterval.Minutes()), "purge interval (in minutes)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")

	if err := serverFlags.Parse(fs, os.Args[1:]); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.TombstoneRetention = time.Duration(*retention) * time.Hour
	config.PurgeInterval = time.Duration(*purgeInterval) * time.Minute
}
