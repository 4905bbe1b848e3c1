// Package cli provides the command-line interface for the bridge.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "enocean-mqtt",
	Short: "An EnOcean-to-MQTT bridge",
	Long: `enocean-mqtt reads ESP3 telegrams from an EnOcean USB gateway
(serial or TCP) and publishes decoded sensor/actuator state to an MQTT
broker, with Home Assistant MQTT discovery for newly taught-in devices.`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
