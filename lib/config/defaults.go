package config

import (
	"path/filepath"
	"time"
)

// Default virtual ports for the identity and endpoint onion services.
const (
	DefaultIdentityPort uint16 = 9001
	DefaultEndpointPort uint16 = 9002
)

// Honk-RPC budgets; handshake traffic is small and bursty.
const (
	DefaultMaxMessageSize     = 16 * 1024
	DefaultMaxPendingRequests = 32
	DefaultCallTimeoutSeconds = 60
)

// Config holds everything a gosling peer needs at construction time that is
// not key material.
type Config struct {
	// BaseDir is where the config file lives.
	BaseDir string
	// WorkingDir is handed to the Tor backend for its data directory.
	WorkingDir string
	// IdentityPort is the virtual port of the identity onion service.
	IdentityPort uint16
	// EndpointPort is the virtual port of every endpoint onion service.
	EndpointPort uint16
	// MaxMessageSize bounds Honk-RPC envelopes.
	MaxMessageSize int
	// MaxPendingRequests bounds concurrent inbound Honk-RPC requests.
	MaxPendingRequests int
	// CallTimeoutSeconds bounds each outbound Honk-RPC call.
	CallTimeoutSeconds int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	baseDir := BuildGoslingDirPath()
	return &Config{
		BaseDir:            baseDir,
		WorkingDir:         filepath.Join(baseDir, "tor"),
		IdentityPort:       DefaultIdentityPort,
		EndpointPort:       DefaultEndpointPort,
		MaxMessageSize:     DefaultMaxMessageSize,
		MaxPendingRequests: DefaultMaxPendingRequests,
		CallTimeoutSeconds: DefaultCallTimeoutSeconds,
	}
}

// CallTimeout returns the call timeout as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}
