// Package registry implements the persistent device registry: a JSON
// map of learned EnOcean devices keyed by hex sender id, with in-memory
// rssi/last_seen tracking that is not flushed to disk on every packet
// to spare flash storage.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tostmann/enocean-mqtt-bridge/internal/logging"
)

// PendingEEP is the sentinel EEP value for a device whose profile is not
// yet known; the registry's Update allows overwriting a pending device's
// EEP exactly once.
const PendingEEP = "pending"

// DefaultManufacturer is used when a device is added without an explicit
// manufacturer (auto-learn always supplies one from the matched profile,
// but external callers may not).
const DefaultManufacturer = "EnOcean"

// Device is a persistent record of a learned EnOcean device. RSSI and
// LastSeen are transient and excluded from JSON persistence.
type Device struct {
	SenderID     string    `json:"id"`
	Name         string    `json:"name"`
	EEP          string    `json:"eep"`
	Manufacturer string    `json:"manufacturer"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`

	RSSI     int       `json:"-"`
	LastSeen time.Time `json:"-"`
}

// IsPending reports whether the device's EEP is still the "pending"
// sentinel, i.e. it was added without a known profile and its EEP is
// still to be completed.
func (d Device) IsPending() bool {
	return d.EEP == PendingEEP
}

// Registry is the in-memory, disk-backed map of devices keyed by sender
// id. All mutation serializes against disk I/O through mu; readers copy
// the value out rather than returning internal pointers, so callers can
// hold a Device without locking.
type Registry struct {
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
	byID   map[string]Device
}

// DefaultPath prefers /data (a Home Assistant addon's persistent
// volume) when it exists and is writable, falling back to a
// working-directory file otherwise.
func DefaultPath() string {
	if info, err := os.Stat("/data"); err == nil && info.IsDir() {
		probe := filepath.Join("/data", ".write-test")
		if f, err := os.OpenFile(probe, os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			f.Close()
			os.Remove(probe)
			return filepath.Join("/data", "devices.json")
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return filepath.Join(cwd, "devices.json")
}

// Load reads the device registry from path, creating an empty in-memory
// registry if the file doesn't exist or fails to parse (logged, never
// fatal).
func Load(path string) *Registry {
	r := &Registry{
		path:   path,
		logger: logging.With(zap.String("component", "registry")),
		byID:   make(map[string]Device),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			r.logger.Warn("failed to read device registry", zap.String("path", path), zap.Error(err))
		}
		return r
	}

	var raw map[string]Device
	if err := json.Unmarshal(data, &raw); err != nil {
		r.logger.Error("failed to parse device registry, starting empty", zap.String("path", path), zap.Error(err))
		return r
	}
	for id, d := range raw {
		d.SenderID = id
		r.byID[id] = d
	}
	r.logger.Info("loaded device registry", zap.Int("devices", len(r.byID)))
	return r
}

// Get returns a copy of the device for senderID and whether it exists.
func (r *Registry) Get(senderID string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[senderID]
	return d, ok
}

// List returns a snapshot copy of every device, in no particular order.
func (r *Registry) List() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	return out
}

// Add creates a new device, enabled by default. It fails if senderID is
// already registered with a non-pending EEP.
func (r *Registry) Add(senderID, name, eep, manufacturer string) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[senderID]; ok && !existing.IsPending() {
		return Device{}, fmt.Errorf("registry: device %s already registered", senderID)
	}

	if manufacturer == "" {
		manufacturer = DefaultManufacturer
	}
	d := Device{
		SenderID:     senderID,
		Name:         name,
		EEP:          eep,
		Manufacturer: manufacturer,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
	}
	r.byID[senderID] = d
	if err := r.saveLocked(); err != nil {
		r.logger.Error("failed to persist device registry after add", zap.Error(err))
	}
	return d, nil
}

// Update applies a partial update to an existing device. A pending
// device's EEP may be completed exactly once: once EEP is no longer
// PendingEEP, later Update calls that try to change it are rejected.
func (r *Registry) Update(senderID string, fn func(d *Device)) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[senderID]
	if !ok {
		return Device{}, fmt.Errorf("registry: device %s not found", senderID)
	}

	wasPending := d.IsPending()
	prevEEP := d.EEP
	fn(&d)
	if !wasPending && d.EEP != prevEEP {
		return Device{}, fmt.Errorf("registry: device %s eep is already set to %s, refusing overwrite", senderID, prevEEP)
	}

	d.SenderID = senderID
	r.byID[senderID] = d
	if err := r.saveLocked(); err != nil {
		r.logger.Error("failed to persist device registry after update", zap.Error(err))
	}
	return d, nil
}

// Remove deletes a device from the registry.
func (r *Registry) Remove(senderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[senderID]; !ok {
		return false
	}
	delete(r.byID, senderID)
	if err := r.saveLocked(); err != nil {
		r.logger.Error("failed to persist device registry after remove", zap.Error(err))
	}
	return true
}

// UpdateLastSeen updates rssi/last_seen in memory only, without a disk
// write.
func (r *Registry) UpdateLastSeen(senderID string, rssi int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byID[senderID]
	if !ok {
		return
	}
	d.RSSI = rssi
	d.LastSeen = time.Now().UTC()
	r.byID[senderID] = d
}

func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}
	if dir := filepath.Dir(r.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("registry: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(r.byID, "", "  ")
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("registry: write %s: %w", r.path, err)
	}
	return nil
}
