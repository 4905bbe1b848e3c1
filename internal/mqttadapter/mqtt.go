// Package mqttadapter implements the MQTT side of the bridge:
// connecting to the broker, publishing Home-Assistant-style discovery
// documents, retained state, availability, and entity removal.
package mqttadapter

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/eep"
	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
	"github.com/tostmann/enocean-mqtt-bridge/internal/registry"
)

// QoS is the publish quality of service used throughout. Delivery
// guarantees stop at the broker's QoS-1 semantics.
const QoS = 1

// Config holds the MQTT adapter's connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string
}

// Adapter wraps a paho MQTT client with the bridge's topic conventions.
// Connection state is guarded by mu; paho's client is itself
// goroutine-safe, so publishes only take the lock to snapshot the
// client and connected flag.
type Adapter struct {
	cfg    Config
	client mqtt.Client
	logger *zap.Logger

	mu        sync.Mutex
	connected bool
}

// New creates an Adapter. Call Connect to establish the broker
// connection; publishes issued before Connect succeeds fail with an
// error the caller logs and absorbs, since the state store holds the
// value for republish at next startup.
func New(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		logger: logging.With(zap.String("component", "mqttadapter")),
	}
}

// Connect dials the broker with auto-reconnect enabled. Connection
// failures are returned to the caller; once connected, paho's own
// reconnect loop keeps retrying transparently.
func (a *Adapter) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}

	clientID := a.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("enocean-mqtt-bridge-%d", time.Now().UnixNano())
	}

	broker := fmt.Sprintf("tcp://%s:%d", a.cfg.Host, a.cfg.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(a.onConnect).
		SetConnectionLostHandler(a.onConnectionLost)

	if a.cfg.Username != "" {
		opts.SetUsername(a.cfg.Username)
	}
	if a.cfg.Password != "" {
		opts.SetPassword(a.cfg.Password)
	}

	client := mqtt.NewClient(opts)
	a.client = client

	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		// The client keeps retrying in the background; onConnect flips
		// the connected flag once the broker becomes reachable.
		return fmt.Errorf("mqttadapter: connect to %s timed out, retrying in background", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqttadapter: connect to %s: %w", broker, err)
	}

	a.connected = true
	a.logger.Info("connected to mqtt broker", zap.String("broker", broker))
	return nil
}

func (a *Adapter) onConnect(mqtt.Client) {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	a.logger.Info("mqtt connection (re)established")
}

func (a *Adapter) onConnectionLost(_ mqtt.Client, err error) {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	a.logger.Warn("mqtt connection lost", zap.Error(err))
}

// IsConnected reports whether the adapter currently believes it has a
// live broker connection.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected && a.client != nil && a.client.IsConnected()
}

// Close disconnects from the broker, waiting up to one second for
// in-flight publishes to drain.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client != nil && a.client.IsConnected() {
		a.client.Disconnect(1000)
	}
	a.connected = false
}

// --- Topic helpers ---

func stateTopic(senderID string) string {
	return fmt.Sprintf("enocean/%s/state", senderID)
}

func availabilityTopic(senderID string) string {
	return fmt.Sprintf("enocean/%s/availability", senderID)
}

func discoveryTopic(component, senderID, shortcut string) string {
	return fmt.Sprintf("homeassistant/%s/%s_%s/config", component, senderID, strings.ToLower(shortcut))
}

// discoveryPayload is the Home-Assistant MQTT discovery document for one
// entity. Field names follow HA's discovery schema.
type discoveryPayload struct {
	Name              string `json:"name"`
	UniqueID          string `json:"unique_id"`
	StateTopic        string `json:"state_topic"`
	AvailabilityTopic string `json:"availability_topic"`
	ValueTemplate     string `json:"value_template"`
	DeviceClass       string `json:"device_class,omitempty"`
	UnitOfMeasurement string `json:"unit_of_measurement,omitempty"`
	Icon              string `json:"icon,omitempty"`
	StateClass        string `json:"state_class,omitempty"`
	PayloadOn         string `json:"payload_on,omitempty"`
	PayloadOff        string `json:"payload_off,omitempty"`
	Device            struct {
		Identifiers  []string `json:"identifiers"`
		Name         string   `json:"name"`
		Manufacturer string   `json:"manufacturer,omitempty"`
		Model        string   `json:"model,omitempty"`
	} `json:"device"`
}

// PublishDiscovery publishes one retained discovery document per entity
// in profile.Objects for device.
func (a *Adapter) PublishDiscovery(device registry.Device, profile *eep.Profile) error {
	for shortcut, meta := range profile.Objects {
		payload := discoveryPayload{
			Name:              meta.Name,
			UniqueID:          fmt.Sprintf("%s_%s", device.SenderID, strings.ToLower(shortcut)),
			StateTopic:        stateTopic(device.SenderID),
			AvailabilityTopic: availabilityTopic(device.SenderID),
			ValueTemplate:     fmt.Sprintf("{{ value_json.%s }}", shortcut),
			DeviceClass:       meta.DeviceClass,
			UnitOfMeasurement: meta.Unit,
			Icon:              meta.Icon,
			StateClass:        meta.StateClass,
		}
		if meta.Component == eep.ComponentBinarySensor || meta.Component == eep.ComponentSwitch {
			payload.PayloadOn = "1"
			payload.PayloadOff = "0"
		}
		payload.Device.Identifiers = []string{device.SenderID}
		payload.Device.Name = device.Name
		payload.Device.Manufacturer = device.Manufacturer
		payload.Device.Model = device.EEP

		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("mqttadapter: marshal discovery for %s/%s: %w", device.SenderID, shortcut, err)
		}
		if err := a.publish(discoveryTopic(string(meta.Component), device.SenderID, shortcut), data, true); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEntity publishes an empty retained payload to the discovery
// topic, which Home Assistant interprets as entity removal.
func (a *Adapter) RemoveEntity(component, senderID, shortcut string) error {
	return a.publish(discoveryTopic(component, senderID, shortcut), nil, true)
}

// PublishState publishes the decoded state map for senderID, retained,
// to its state topic.
func (a *Adapter) PublishState(senderID string, state map[string]eep.Value) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("mqttadapter: marshal state for %s: %w", senderID, err)
	}
	return a.publish(stateTopic(senderID), data, true)
}

// PublishAvailability publishes "online" or "offline" to the device's
// availability topic.
func (a *Adapter) PublishAvailability(senderID string, online bool) error {
	payload := "offline"
	if online {
		payload = "online"
	}
	return a.publish(availabilityTopic(senderID), []byte(payload), true)
}

func (a *Adapter) publish(topic string, payload []byte, retained bool) error {
	a.mu.Lock()
	client, connected := a.client, a.connected
	a.mu.Unlock()

	if !connected || client == nil {
		return fmt.Errorf("mqttadapter: not connected, dropping publish to %s", topic)
	}

	token := client.Publish(topic, QoS, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqttadapter: publish to %s timed out", topic)
	}
	return token.Error()
}
