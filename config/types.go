package config

import (
	"time"
)

// Config represents the complete configuration structure
type Config struct {
	Molnus   MolnusConfig   `mapstructure:"molnus"`
	Cameras  []CameraConfig `mapstructure:"cameras"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Registry RegistryConfig `mapstructure:"registry"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// MolnusConfig holds the settings shared by every API client
type MolnusConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	UserAgent string        `mapstructure:"user_agent"`
	// Timeout of zero leaves the transport default in place
	Timeout time.Duration `mapstructure:"timeout"`
}

// CameraConfig is one configured camera entry: credentials plus options
type CameraConfig struct {
	Name     string `mapstructure:"name"`
	EntryID  string `mapstructure:"entry_id"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
	CameraID string `mapstructure:"camera_id"`

	WildlifeRequired bool   `mapstructure:"wildlife_required"`
	Limit            int    `mapstructure:"limit"`
	ScanInterval     int    `mapstructure:"scan_interval"`
	Filter           string `mapstructure:"filter"`
}

// Interval returns the scan interval as a duration
func (c CameraConfig) Interval() time.Duration {
	return time.Duration(c.ScanInterval) * time.Second
}

// MQTTConfig holds MQTT broker connection details
type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Broker          string `mapstructure:"broker"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	ClientID        string `mapstructure:"client_id"`
	TopicPrefix     string `mapstructure:"topic_prefix"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// HTTPConfig holds the local HTTP API settings
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// RegistryConfig points at the entity registry file
type RegistryConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Color  bool   `mapstructure:"color"`
}
