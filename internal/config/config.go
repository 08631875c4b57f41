// Package config loads the station configuration: counting thresholds,
// sensor wiring, storage and network settings.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration document. Every field is optional; the
// Get* methods supply the defaults the counter was tuned with, so a partial
// (or empty) file is valid.
type Config struct {
	// Counting params
	DistanceThresholdCm *int     `json:"distance_threshold_cm,omitempty"`
	PresenceThreshold   *float64 `json:"presence_threshold,omitempty"`
	PresenceMetric      *string  `json:"presence_metric,omitempty"`   // "decayed" or "mean"
	DetectionTimeout    *string  `json:"detection_timeout,omitempty"` // duration string like "2000ms"
	PollInterval        *string  `json:"poll_interval,omitempty"`     // duration string like "50ms"
	PresenceHistory     *int     `json:"presence_history,omitempty"`  // samples kept for the presence trace

	// Ultrasonic lanes (periph pin names, e.g. "GPIO17")
	EnterTrigPin  *string `json:"enter_trig_pin,omitempty"`
	EnterEchoPin  *string `json:"enter_echo_pin,omitempty"`
	LeaveTrigPin  *string `json:"leave_trig_pin,omitempty"`
	LeaveEchoPin  *string `json:"leave_echo_pin,omitempty"`
	EchoTimeout   *string `json:"echo_timeout,omitempty"`
	MaxDistanceCm *int    `json:"max_distance_cm,omitempty"`

	// Thermal array
	I2CBus         *string `json:"i2c_bus,omitempty"`
	ThermalAddress *int    `json:"thermal_address,omitempty"`

	// Storage and HTTP
	DBPath *string `json:"db_path,omitempty"`
	Listen *string `json:"listen,omitempty"`

	// Telemetry UART, disabled when the port is empty
	TelemetryPort *string `json:"telemetry_port,omitempty"`
	TelemetryBaud *int    `json:"telemetry_baud,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under 1MB. Fields omitted from the file fall back to defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.DistanceThresholdCm != nil && *c.DistanceThresholdCm <= 0 {
		return fmt.Errorf("distance_threshold_cm must be positive, got %d", *c.DistanceThresholdCm)
	}

	if c.PresenceThreshold != nil {
		if math.IsNaN(*c.PresenceThreshold) || math.IsInf(*c.PresenceThreshold, 0) {
			return fmt.Errorf("presence_threshold must be finite")
		}
	}

	if c.PresenceMetric != nil {
		switch strings.ToLower(*c.PresenceMetric) {
		case "", "decayed", "mean":
		default:
			return fmt.Errorf("unsupported presence_metric %q: expected decayed or mean", *c.PresenceMetric)
		}
	}

	for name, v := range map[string]*string{
		"detection_timeout": c.DetectionTimeout,
		"poll_interval":     c.PollInterval,
		"echo_timeout":      c.EchoTimeout,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.PresenceHistory != nil && *c.PresenceHistory < 0 {
		return fmt.Errorf("presence_history must be non-negative, got %d", *c.PresenceHistory)
	}

	if c.MaxDistanceCm != nil && *c.MaxDistanceCm <= 0 {
		return fmt.Errorf("max_distance_cm must be positive, got %d", *c.MaxDistanceCm)
	}

	if c.ThermalAddress != nil {
		if *c.ThermalAddress <= 0 || *c.ThermalAddress > 0x7f {
			return fmt.Errorf("thermal_address must be a 7-bit I2C address, got %#x", *c.ThermalAddress)
		}
	}

	if c.TelemetryBaud != nil && *c.TelemetryBaud < 0 {
		return fmt.Errorf("telemetry_baud must be non-negative, got %d", *c.TelemetryBaud)
	}

	return nil
}

func parseDurationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func stringOr(v *string, def string) string {
	if v == nil || *v == "" {
		return def
	}
	return *v
}

// GetDistanceThresholdCm returns the lane trigger distance in centimetres.
func (c *Config) GetDistanceThresholdCm() int {
	if c.DistanceThresholdCm == nil {
		return 10
	}
	return *c.DistanceThresholdCm
}

// GetPresenceThreshold returns the thermal score a body must exceed.
func (c *Config) GetPresenceThreshold() float64 {
	if c.PresenceThreshold == nil {
		return -110.0
	}
	return *c.PresenceThreshold
}

// GetPresenceMetric returns the frame reduction name, lower-cased.
func (c *Config) GetPresenceMetric() string {
	return strings.ToLower(stringOr(c.PresenceMetric, "decayed"))
}

// GetDetectionTimeout returns how long a detection window may stay open.
func (c *Config) GetDetectionTimeout() time.Duration {
	return parseDurationOr(c.DetectionTimeout, 2000*time.Millisecond)
}

// GetPollInterval returns the polling cadence of the state machine.
func (c *Config) GetPollInterval() time.Duration {
	return parseDurationOr(c.PollInterval, 50*time.Millisecond)
}

// GetPresenceHistory returns the number of presence samples retained.
func (c *Config) GetPresenceHistory() int {
	if c.PresenceHistory == nil {
		return 600
	}
	return *c.PresenceHistory
}

func (c *Config) GetEnterTrigPin() string { return stringOr(c.EnterTrigPin, "GPIO17") }
func (c *Config) GetEnterEchoPin() string { return stringOr(c.EnterEchoPin, "GPIO27") }
func (c *Config) GetLeaveTrigPin() string { return stringOr(c.LeaveTrigPin, "GPIO22") }
func (c *Config) GetLeaveEchoPin() string { return stringOr(c.LeaveEchoPin, "GPIO23") }

// GetEchoTimeout bounds each wait for an echo edge.
func (c *Config) GetEchoTimeout() time.Duration {
	return parseDurationOr(c.EchoTimeout, 25*time.Millisecond)
}

// GetMaxDistanceCm returns the longest range treated as a real echo.
func (c *Config) GetMaxDistanceCm() int {
	if c.MaxDistanceCm == nil {
		return 400
	}
	return *c.MaxDistanceCm
}

// GetI2CBus returns the I2C bus name; empty selects the first bus.
func (c *Config) GetI2CBus() string {
	if c.I2CBus == nil {
		return ""
	}
	return *c.I2CBus
}

// GetThermalAddress returns the thermal array I2C address.
func (c *Config) GetThermalAddress() uint16 {
	if c.ThermalAddress == nil {
		return 0x33
	}
	return uint16(*c.ThermalAddress)
}

func (c *Config) GetDBPath() string { return stringOr(c.DBPath, "occupancy.db") }
func (c *Config) GetListen() string { return stringOr(c.Listen, ":8080") }

// GetTelemetryPort returns the UART path, or "" when telemetry is disabled.
func (c *Config) GetTelemetryPort() string {
	if c.TelemetryPort == nil {
		return ""
	}
	return *c.TelemetryPort
}

// GetTelemetryBaud returns the UART baud rate. HM-10 modules ship at 9600.
func (c *Config) GetTelemetryBaud() int {
	if c.TelemetryBaud == nil || *c.TelemetryBaud == 0 {
		return 9600
	}
	return *c.TelemetryBaud
}
