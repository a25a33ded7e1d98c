package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/s0up4200/molnus/filter"
)

const (
	DefaultLimit        = 1
	DefaultScanInterval = 60
	MinScanInterval     = 10
)

// entryNamespace derives stable entry ids from camera ids
var entryNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://molnus.com/entries"))

// Load loads the configuration from file.
// Environment variables prefixed with MOLNUS_ override file values,
// e.g. MOLNUS_MQTT_BROKER for mqtt.broker.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	v.SetEnvPrefix("MOLNUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in standard locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Check current directory first
		v.AddConfigPath(".")

		// Check home directory
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".molnus"))
		}

		// Check /etc
		v.AddConfigPath("/etc/molnus/")
	}

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyCameraDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Molnus defaults
	v.SetDefault("molnus.base_url", "https://molnus.com")
	v.SetDefault("molnus.token_ttl", "25m")
	v.SetDefault("molnus.user_agent", "Mozilla/5.0")
	v.SetDefault("molnus.timeout", "0s")

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "molnus-bridge")
	v.SetDefault("mqtt.topic_prefix", "molnus")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")

	// HTTP defaults
	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":8099")

	// Registry defaults
	v.SetDefault("registry.path", "molnus-registry.yaml")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.color", true)
}

// applyCameraDefaults fills the per-camera options left unset.
// List entries cannot carry viper defaults.
func applyCameraDefaults(cfg *Config) {
	for i := range cfg.Cameras {
		c := &cfg.Cameras[i]
		c.CameraID = strings.TrimSpace(c.CameraID)
		if c.Limit == 0 {
			c.Limit = DefaultLimit
		}
		if c.ScanInterval == 0 {
			c.ScanInterval = DefaultScanInterval
		}
		if c.Name == "" && c.CameraID != "" {
			c.Name = "Molnus " + c.CameraID
		}
		if c.EntryID == "" && c.CameraID != "" {
			c.EntryID = EntryID(c.CameraID)
		}
	}
}

// EntryID returns the stable entry id for a camera
func EntryID(cameraID string) string {
	return uuid.NewSHA1(entryNamespace, []byte(cameraID)).String()
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if len(cfg.Cameras) == 0 {
		return fmt.Errorf("at least one camera must be configured")
	}

	seen := make(map[string]bool, len(cfg.Cameras))
	for i, c := range cfg.Cameras {
		if err := validateCamera(c); err != nil {
			return fmt.Errorf("cameras[%d]: %w", i, err)
		}
		if seen[c.CameraID] {
			return fmt.Errorf("cameras[%d]: duplicate camera_id %s", i, c.CameraID)
		}
		seen[c.CameraID] = true
	}

	if cfg.Molnus.TokenTTL <= 0 {
		return fmt.Errorf("molnus.token_ttl must be positive")
	}
	if cfg.Molnus.Timeout < 0 {
		return fmt.Errorf("molnus.timeout must not be negative")
	}

	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if cfg.HTTP.Enabled && cfg.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required when http is enabled")
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"console": true,
		"json":    true,
	}
	if !validFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging format: %s", cfg.Logging.Format)
	}

	return nil
}

func validateCamera(c CameraConfig) error {
	if strings.TrimSpace(c.Email) == "" {
		return fmt.Errorf("email is required")
	}
	if c.Password == "" {
		return fmt.Errorf("password is required")
	}
	if c.CameraID == "" {
		return fmt.Errorf("camera_id is required")
	}
	if c.Limit < 1 {
		return fmt.Errorf("limit must be at least 1, got %d", c.Limit)
	}
	if c.ScanInterval < MinScanInterval {
		return fmt.Errorf("scan_interval must be at least %d seconds, got %d", MinScanInterval, c.ScanInterval)
	}
	if c.Filter != "" {
		if _, err := filter.Compile(c.Filter); err != nil {
			return fmt.Errorf("invalid filter: %w", err)
		}
	}
	return nil
}
