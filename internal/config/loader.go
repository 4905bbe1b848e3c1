package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envKeys lists every environment variable this program reads. They are
// bound individually because the variables are bare names, not a
// common-prefix scheme AutomaticEnv could cover.
var envKeys = []string{
	"SERIAL_PORT",
	"BAUD",
	"MQTT_HOST",
	"MQTT_PORT",
	"MQTT_USER",
	"MQTT_PASSWORD",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"RESTORE_STATE",
	"RESTORE_DELAY",
	"EEP_ROOTS",
	"DEVICE_STORE_PATH",
	"STATE_STORE_PATH",
}

func init() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// Load reads configuration once from the process environment into a
// Config, layered over DefaultConfig. It never re-reads the
// environment after returning.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if v := viper.GetString("SERIAL_PORT"); v != "" {
		cfg.SerialPort = v
	}
	if viper.IsSet("BAUD") {
		cfg.Baud = viper.GetInt("BAUD")
	}

	if v := viper.GetString("MQTT_HOST"); v != "" {
		cfg.MQTTHost = v
	}
	if viper.IsSet("MQTT_PORT") {
		cfg.MQTTPort = viper.GetInt("MQTT_PORT")
	}
	if v := viper.GetString("MQTT_USER"); v != "" {
		cfg.MQTTUser = v
	}
	if v := viper.GetString("MQTT_PASSWORD"); v != "" {
		cfg.MQTTPassword = v
	}

	if v := viper.GetString("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := viper.GetString("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if viper.IsSet("RESTORE_STATE") {
		cfg.RestoreState = viper.GetBool("RESTORE_STATE")
	}
	if viper.IsSet("RESTORE_DELAY") {
		cfg.RestoreDelay = time.Duration(viper.GetInt("RESTORE_DELAY")) * time.Second
	}

	if v := viper.GetString("EEP_ROOTS"); v != "" {
		roots := strings.Split(v, ",")
		for i := range roots {
			roots[i] = strings.TrimSpace(roots[i])
		}
		cfg.EEPRoots = roots
	}

	if v := viper.GetString("DEVICE_STORE_PATH"); v != "" {
		cfg.DeviceStorePath = v
	}
	if v := viper.GetString("STATE_STORE_PATH"); v != "" {
		cfg.StateStorePath = v
	}

	return cfg, nil
}

// Validate checks the configuration for obviously broken values before
// the core wires anything up.
func (c *Config) Validate() error {
	if c.SerialPort == "" {
		return fmt.Errorf("SERIAL_PORT is required")
	}
	if c.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.MQTTHost == "" {
		return fmt.Errorf("MQTT_HOST is required")
	}
	if c.MQTTPort <= 0 || c.MQTTPort > 65535 {
		return fmt.Errorf("MQTT_PORT must be in 1..65535, got %d", c.MQTTPort)
	}
	if c.RestoreDelay < 0 {
		return fmt.Errorf("RESTORE_DELAY must not be negative")
	}
	if len(c.EEPRoots) == 0 {
		return fmt.Errorf("at least one EEP root is required")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %s", c.LogLevel)
	}
	return nil
}
