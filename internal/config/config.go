// Package config provides configuration types and loading for the
// bridge: a typed struct populated once at startup from bare
// environment variables, never re-read by the core afterward.
package config

import "time"

// Config is the complete, validated application configuration.
type Config struct {
	// SerialPort is the gateway connection string: "tcp://host:port"
	// selects TCP, anything else is a serial device path.
	SerialPort string `mapstructure:"serial_port"`
	Baud       int    `mapstructure:"baud"`

	MQTTHost     string `mapstructure:"mqtt_host"`
	MQTTPort     int    `mapstructure:"mqtt_port"`
	MQTTUser     string `mapstructure:"mqtt_user"`
	MQTTPassword string `mapstructure:"mqtt_password"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	RestoreState bool          `mapstructure:"restore_state"`
	RestoreDelay time.Duration `mapstructure:"restore_delay"`

	// EEPRoots is the ordered list of directories the EEP library scans;
	// later roots override earlier ones on duplicate eep key.
	EEPRoots []string `mapstructure:"eep_roots"`

	// DeviceStorePath/StateStorePath override the registry/statestore
	// default /data-then-cwd path selection when non-empty.
	DeviceStorePath string `mapstructure:"device_store_path"`
	StateStorePath  string `mapstructure:"state_store_path"`
}

// DefaultConfig returns the stock configuration: serial at 57600 baud,
// local broker, restore enabled with a 5s delay.
func DefaultConfig() *Config {
	return &Config{
		SerialPort: "/dev/ttyUSB0",
		Baud:       57600,

		MQTTHost: "localhost",
		MQTTPort: 1883,

		LogLevel:  "info",
		LogFormat: "json",

		RestoreState: true,
		RestoreDelay: 5 * time.Second,

		EEPRoots: []string{"eep"},
	}
}
