package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/config"
	"github.com/tostmann/enocean-mqtt-bridge/internal/dispatcher"
	"github.com/tostmann/enocean-mqtt-bridge/internal/eep"
	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
	"github.com/tostmann/enocean-mqtt-bridge/internal/mqttadapter"
	"github.com/tostmann/enocean-mqtt-bridge/internal/registry"
	"github.com/tostmann/enocean-mqtt-bridge/internal/statestore"
	"github.com/tostmann/enocean-mqtt-bridge/internal/supervisor"
	"github.com/tostmann/enocean-mqtt-bridge/internal/transport"
	"github.com/tostmann/enocean-mqtt-bridge/pkg/esp3"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the EnOcean-to-MQTT bridge",
	Long: `Start the bridge: connect to the configured EnOcean gateway and
MQTT broker, and begin decoding and publishing telegrams.`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate configuration without connecting")
}

func runBridge(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	if dryRun {
		fmt.Println("Configuration is valid!")
		fmt.Printf("  Gateway:  %s (baud %d)\n", cfg.SerialPort, cfg.Baud)
		fmt.Printf("  MQTT:     %s:%d\n", cfg.MQTTHost, cfg.MQTTPort)
		fmt.Printf("  EEP roots: %v\n", cfg.EEPRoots)
		fmt.Printf("  Restore state: %v (delay %s)\n", cfg.RestoreState, cfg.RestoreDelay)
		return nil
	}

	logging.Info("starting enocean-mqtt bridge",
		zap.String("gateway", cfg.SerialPort),
		zap.String("mqtt_broker", fmt.Sprintf("%s:%d", cfg.MQTTHost, cfg.MQTTPort)))

	library := eep.Load(cfg.EEPRoots)
	logging.Info("loaded eep library", zap.Int("profiles", library.Count()))

	devicePath := cfg.DeviceStorePath
	if devicePath == "" {
		devicePath = registry.DefaultPath()
	}
	deviceRegistry := registry.Load(devicePath)

	statePath := cfg.StateStorePath
	if statePath == "" {
		statePath = statestore.DefaultPath()
	}
	stateStore := statestore.Load(statePath)

	t, err := transport.New(cfg.SerialPort, cfg.Baud)
	if err != nil {
		return fmt.Errorf("failed to build transport: %w", err)
	}

	mqttAdapter := mqttadapter.New(mqttadapter.Config{
		Host:     cfg.MQTTHost,
		Port:     cfg.MQTTPort,
		Username: cfg.MQTTUser,
		Password: cfg.MQTTPassword,
	})
	if err := mqttAdapter.Connect(); err != nil {
		// Not fatal: the client keeps retrying in the background, and
		// decoded states still land in the state store, which the
		// restore pass republishes after the restore delay (if the
		// broker is connected by then) or on a later startup.
		logging.Warn("mqtt broker not reachable yet", zap.Error(err))
	}
	defer mqttAdapter.Close()

	// sup is assigned after construction; the dispatcher's SendPacket and
	// Identity closures only get called once sup.Run is underway, so the
	// circular wiring is safe.
	var sup *supervisor.Supervisor
	disp := dispatcher.New(dispatcher.Config{
		Registry:   deviceRegistry,
		Library:    library,
		StateStore: stateStore,
		MQTT:       mqttAdapter,
		SendPacket: func(p *esp3.Packet) error { return sup.SendPacket(p) },
		Identity: func() (string, bool) {
			baseID, _, ok := sup.Identity()
			return baseID, ok
		},
	})
	sup = supervisor.New(t, disp.Dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RestoreState {
		go restoreState(ctx, cfg.RestoreDelay, deviceRegistry, stateStore, mqttAdapter)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logging.Info("received shutdown signal")
		sup.Stop()
		cancel()
	}()

	logging.Info("bridge running, press Ctrl+C to stop")
	if err := sup.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn("supervisor exited with error", zap.Error(err))
	}
	return nil
}

// restoreState republishes every enabled device's last known state
// after a startup delay, giving Home Assistant's own discovery pass
// time to settle first.
func restoreState(ctx context.Context, delay time.Duration, reg *registry.Registry, store *statestore.Store, mqtt *mqttadapter.Adapter) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	restored := 0
	for _, dev := range reg.List() {
		if !dev.Enabled {
			continue
		}
		state, ok := store.Get(dev.SenderID)
		if !ok {
			continue
		}
		if err := mqtt.PublishState(dev.SenderID, state); err != nil {
			logging.Warn("failed to republish restored state", zap.String("sender_id", dev.SenderID), zap.Error(err))
			continue
		}
		if err := mqtt.PublishAvailability(dev.SenderID, true); err != nil {
			logging.Warn("failed to republish availability", zap.String("sender_id", dev.SenderID), zap.Error(err))
		}
		restored++
	}
	logging.Info("restored persisted state", zap.Int("devices", restored))
}
