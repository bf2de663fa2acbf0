package httpapi

import "time"

// Config configures the HTTP server.
type Config struct {
	// Addr is the listen address, e.g. ":27490".
	Addr string
	// TestCommandTimeout bounds test-command runs started via the call surface.
	TestCommandTimeout time.Duration
}

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second
