// Package dispatcher implements telegram classification, teach-in/auto
// learn, and routing to the EEP interpreter and MQTT adapter.
package dispatcher

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/eep"
	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
	"github.com/tostmann/enocean-mqtt-bridge/internal/mqttadapter"
	"github.com/tostmann/enocean-mqtt-bridge/internal/registry"
	"github.com/tostmann/enocean-mqtt-bridge/internal/statestore"
	"github.com/tostmann/enocean-mqtt-bridge/pkg/esp3"
)

// Config wires the dispatcher's collaborators. SendPacket and Identity
// are supplied by the supervisor (internal/supervisor.Supervisor's
// SendPacket and Identity methods): the dispatcher never owns a
// transport directly, it only needs to emit teach-in responses through
// whichever supervisor is driving the link.
type Config struct {
	Registry   *registry.Registry
	Library    *eep.Library
	StateStore *statestore.Store
	MQTT       *mqttadapter.Adapter

	// SendPacket writes a packet without waiting for a response.
	SendPacket func(*esp3.Packet) error
	// Identity returns the gateway's base id and whether it's known yet.
	Identity func() (baseID string, ok bool)
}

// Dispatcher classifies inbound RADIO_ERP1 packets: known/enabled
// devices get decoded and published, 4BS teach-in frames trigger
// auto-learn, and unrecognized traffic is dropped with a diagnostic.
type Dispatcher struct {
	registry   *registry.Registry
	library    *eep.Library
	store      *statestore.Store
	mqtt       *mqttadapter.Adapter
	sendPacket func(*esp3.Packet) error
	identity   func() (string, bool)
	logger     *zap.Logger

	mu             sync.Mutex
	lastCandidates map[string][]string
}

// New creates a Dispatcher from cfg.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		registry:       cfg.Registry,
		library:        cfg.Library,
		store:          cfg.StateStore,
		mqtt:           cfg.MQTT,
		sendPacket:     cfg.SendPacket,
		identity:       cfg.Identity,
		logger:         logging.With(zap.String("component", "dispatcher")),
		lastCandidates: make(map[string][]string),
	}
}

// Dispatch classifies and handles one packet. Non-RADIO_ERP1 packets
// are ignored; the supervisor (its loop and SendCommand's incidental
// forwarding) only routes RADIO_ERP1 here in the first place, and the
// check keeps other callers safe.
func (d *Dispatcher) Dispatch(pkt *esp3.Packet) {
	if pkt.Type != esp3.PacketTypeRadioERP1 {
		return
	}
	senderID := pkt.SenderID()
	if senderID == "" {
		d.logger.Debug("radio packet with no usable sender id, dropping")
		return
	}
	rssi, _ := pkt.RSSI()

	if dev, known := d.registry.Get(senderID); known {
		if !dev.Enabled {
			return
		}
		if pkt.IsTeachIn() {
			// A replayed teach-in from a known device re-sends the
			// response so the peer leaves learn mode, without touching
			// the registry. A pending device completes its learn here.
			d.registry.UpdateLastSeen(dev.SenderID, rssi)
			d.autoLearn(pkt, rssi)
			return
		}
		d.process(dev, pkt, rssi)
		return
	}

	if pkt.IsTeachIn() {
		d.autoLearn(pkt, rssi)
		return
	}

	d.logger.Warn("unknown device",
		zap.String("sender_id", senderID),
		zap.Uint8("rorg", pkt.RORG()))
}

// process decodes a packet for a known, enabled device and routes the
// result to the state store and MQTT.
func (d *Dispatcher) process(dev registry.Device, pkt *esp3.Packet, rssi int) {
	d.registry.UpdateLastSeen(dev.SenderID, rssi)

	profile := d.library.Get(dev.EEP)
	if profile == nil {
		d.logger.Warn("device eep has no matching profile, dropping",
			zap.String("sender_id", dev.SenderID), zap.String("eep", dev.EEP))
		return
	}

	decoded := eep.Decode(pkt.Data, profile)
	if len(decoded) == 0 {
		d.logger.Debug("no case matched for device", zap.String("sender_id", dev.SenderID))
		return
	}

	decoded["rssi"] = eep.Number(float64(rssi))
	decoded["last_seen"] = eep.String(time.Now().UTC().Format(time.RFC3339))

	if err := d.store.Save(dev.SenderID, decoded); err != nil {
		d.logger.Warn("failed to persist decoded state", zap.String("sender_id", dev.SenderID), zap.Error(err))
	}
	if err := d.mqtt.PublishState(dev.SenderID, decoded); err != nil {
		d.logger.Warn("failed to publish state", zap.String("sender_id", dev.SenderID), zap.Error(err))
	}
	if err := d.mqtt.PublishAvailability(dev.SenderID, true); err != nil {
		d.logger.Warn("failed to publish availability", zap.String("sender_id", dev.SenderID), zap.Error(err))
	}
}

// autoLearn derives the candidate EEP from a 4BS teach-in frame, adds
// the device if the profile is known, and answers with a teach-in
// response.
func (d *Dispatcher) autoLearn(pkt *esp3.Packet, rssi int) {
	senderID := pkt.SenderID()
	if len(pkt.Data) < 5 {
		return
	}
	db3 := pkt.Data[1]
	db2 := pkt.Data[2]
	funcNum := (db3 >> 2) & 0x3F
	typeNum := ((db3 & 0x03) << 5) | ((db2 >> 3) & 0x1F)
	candidateEEP := fmt.Sprintf("A5-%02X-%02X", funcNum, typeNum)

	d.recordCandidate(senderID, candidateEEP)

	if existing, known := d.registry.Get(senderID); known && !existing.IsPending() {
		// Idempotent: already learned, re-send the response without
		// touching the registry.
		d.sendTeachInResponse(senderID, funcNum, typeNum)
		return
	}

	profile := d.library.Get(candidateEEP)
	if profile == nil {
		d.logger.Info("teach-in candidate profile not known, not adding device",
			zap.String("sender_id", senderID), zap.String("candidate_eep", candidateEEP))
		return
	}

	_, known := d.registry.Get(senderID)
	var dev registry.Device
	var err error
	if known {
		dev, err = d.registry.Update(senderID, func(dv *registry.Device) {
			dv.EEP = candidateEEP
			dv.Name = profile.Title
			dv.Manufacturer = profile.Manufacturer
		})
	} else {
		dev, err = d.registry.Add(senderID, profile.Title, candidateEEP, profile.Manufacturer)
	}
	if err != nil {
		d.logger.Warn("failed to learn device", zap.String("sender_id", senderID), zap.Error(err))
		return
	}

	if err := d.mqtt.PublishDiscovery(dev, profile); err != nil {
		d.logger.Warn("failed to publish discovery for learned device",
			zap.String("sender_id", senderID), zap.Error(err))
	}
	d.sendTeachInResponse(senderID, funcNum, typeNum)
	d.logger.Info("learned new device",
		zap.String("sender_id", senderID), zap.String("eep", candidateEEP), zap.String("name", dev.Name))
}

func (d *Dispatcher) sendTeachInResponse(senderID string, funcNum, typeNum byte) {
	if d.sendPacket == nil || d.identity == nil {
		return
	}
	baseID, ok := d.identity()
	if !ok {
		d.logger.Debug("gateway base id not yet known, skipping teach-in response",
			zap.String("sender_id", senderID))
		return
	}
	resp, err := esp3.NewTeachInResponse(baseID, senderID, funcNum, typeNum)
	if err != nil {
		d.logger.Warn("failed to build teach-in response", zap.Error(err))
		return
	}
	if err := d.sendPacket(resp); err != nil {
		d.logger.Warn("failed to send teach-in response", zap.String("sender_id", senderID), zap.Error(err))
	}
}

func (d *Dispatcher) recordCandidate(senderID, candidateEEP string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.lastCandidates[senderID] {
		if c == candidateEEP {
			return
		}
	}
	d.lastCandidates[senderID] = append(d.lastCandidates[senderID], candidateEEP)
}

// LastCandidates returns the EEP codes seen during teach-in for
// senderID, most recent last. The cache is in-memory only and never
// persisted; an admin surface can query it to suggest profiles for
// devices that were heard but not added.
func (d *Dispatcher) LastCandidates(senderID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	src := d.lastCandidates[senderID]
	out := make([]string, len(src))
	copy(out, src)
	return out
}
