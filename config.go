package peermesh

import "time"

// Config holds timing and capacity configuration for a Coordinator.
type Config struct {
	// HeartbeatInterval is how often the liveness monitor ticks,
	// refreshing locally registered workers.
	HeartbeatInterval time.Duration

	// OfflineThreshold is how long a worker may go without a heartbeat
	// before it is marked offline. Should be a small multiple of
	// HeartbeatInterval.
	OfflineThreshold time.Duration

	// BusCapacity is the size of the message ring buffer. Oldest
	// messages are evicted when the bound is exceeded.
	BusCapacity int

	// DefaultLockTTL is the lease duration used when callers do not
	// specify one.
	DefaultLockTTL time.Duration

	// DefaultMessageTTL is the ttl stamped on outbound messages when
	// callers do not specify one.
	DefaultMessageTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		OfflineThreshold:  15 * time.Second,
		BusCapacity:       1000,
		DefaultLockTTL:    30 * time.Second,
		DefaultMessageTTL: 30 * time.Second,
	}
}
