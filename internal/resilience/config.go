package resilience

import "time"

// Circuit breaker configuration constants
const (
	// Default configuration
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Capture devices: a stream that keeps dying is parked quickly
	DeviceThreshold         = 3
	DeviceResetTimeout      = 10 * time.Second
	DeviceHalfOpenSuccesses = 1

	// Onset log: tolerate bursts of lock contention before shedding writes
	StorageThreshold         = 10
	StorageResetTimeout      = 15 * time.Second
	StorageHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// DeviceConfig returns settings for a capture device breaker.
func DeviceConfig() Config {
	return Config{
		Threshold:         DeviceThreshold,
		ResetTimeout:      DeviceResetTimeout,
		HalfOpenSuccesses: DeviceHalfOpenSuccesses,
	}
}

// StorageConfig returns settings for the onset log breaker.
func StorageConfig() Config {
	return Config{
		Threshold:         StorageThreshold,
		ResetTimeout:      StorageResetTimeout,
		HalfOpenSuccesses: StorageHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
