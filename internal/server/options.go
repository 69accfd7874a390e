// Package server provides option helpers that define runtime defaults and
// rate-limiting parameters for the WebSocket transport.
package server

import "time"

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Options holds the transport settings applied to every connection.
type Options struct {
	AllowedOrigins []string
	MaxMessageSize int64
	RateLimit      RateLimitConfig
	SendBufferSize int
	WriteWait      time.Duration
	PongWait       time.Duration
	PingInterval   time.Duration
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		SendBufferSize: 256,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingInterval:   54 * time.Second,
	}
}

// sanitizeOptions replaces zero or negative values with defaults. The ping
// interval is kept below the pong wait so that a healthy peer never times out.
func sanitizeOptions(opts Options) Options {
	def := DefaultOptions()

	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.RateLimit.Burst <= 0 {
		opts.RateLimit.Burst = def.RateLimit.Burst
	}
	if opts.RateLimit.RefillInterval <= 0 {
		opts.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = def.SendBufferSize
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = def.WriteWait
	}
	if opts.PongWait <= 0 {
		opts.PongWait = def.PongWait
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	opts.AllowedOrigins = append([]string(nil), opts.AllowedOrigins...)
	return opts
}
