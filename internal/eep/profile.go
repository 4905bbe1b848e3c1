package eep

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Component is the Home-Assistant entity kind a shortcut publishes as.
type Component string

// Recognized component kinds.
const (
	ComponentSensor       Component = "sensor"
	ComponentBinarySensor Component = "binary_sensor"
	ComponentSwitch       Component = "switch"
)

// preDefinedShortcuts expands the well-known EnOcean shortcut aliases
// that some profile files reference via objects.preDefined instead of
// spelling out the full entity metadata.
var preDefinedShortcuts = map[string]EntityMeta{
	"TMP": {Name: "Temperature", Component: ComponentSensor, DeviceClass: "temperature", Unit: "°C", StateClass: "measurement"},
	"HUM": {Name: "Humidity", Component: ComponentSensor, DeviceClass: "humidity", Unit: "%", StateClass: "measurement"},
	"ILL": {Name: "Illuminance", Component: ComponentSensor, DeviceClass: "illuminance", Unit: "lx", StateClass: "measurement"},
	"BAT": {Name: "Battery", Component: ComponentSensor, DeviceClass: "battery", Unit: "%", StateClass: "measurement"},
}

// EntityMeta describes how a decoded shortcut is exposed as a
// Home-Assistant entity via MQTT discovery.
type EntityMeta struct {
	Name        string    `json:"name"`
	Component   Component `json:"component"`
	DeviceClass string    `json:"device_class,omitempty"`
	Unit        string    `json:"unit,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	StateClass  string    `json:"state_class,omitempty"`
	Description string    `json:"description,omitempty"`
}

// objectsField decodes the profile's "objects" key, which is usually a
// map of shortcut to EntityMeta but may also carry a "preDefined" array
// of shortcut aliases to expand from the built-in table.
type objectsField map[string]EntityMeta

func (o *objectsField) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make(objectsField, len(raw))
	for key, v := range raw {
		if key == "preDefined" {
			var aliases []string
			if err := json.Unmarshal(v, &aliases); err != nil {
				return fmt.Errorf("eep: objects.preDefined: %w", err)
			}
			for _, alias := range aliases {
				if meta, ok := preDefinedShortcuts[alias]; ok {
					result[alias] = meta
				}
			}
			continue
		}
		var meta EntityMeta
		if err := json.Unmarshal(v, &meta); err != nil {
			return fmt.Errorf("eep: objects.%s: %w", key, err)
		}
		result[key] = meta
	}
	*o = result
	return nil
}

// DataField is one extraction instruction within a matched case.
type DataField struct {
	Shortcut string          `json:"shortcut"`
	BitOffs  int             `json:"bitoffs"`
	BitSize  int             `json:"bitsize"`
	Invert   bool            `json:"invert,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Decimals *int            `json:"decimals,omitempty"`

	// A datafield with BitSize zero carries its final value directly in
	// Value (e.g. {"shortcut":"BI","value":1}) rather than a formula
	// tree; no extraction is performed (see HasExtraction).
}

// HasExtraction reports whether this field extracts bits from the
// packet, as opposed to being a bare literal datafield.
func (d DataField) HasExtraction() bool {
	return d.BitSize > 0
}

// Case is one entry in a profile's ordered case list.
type Case struct {
	Data      *string     `json:"data,omitempty"`
	Status    *string     `json:"status,omitempty"`
	DataField []DataField `json:"datafield"`
}

// Matches reports whether this case's guards hold against raw (the
// case-selection integer per RORG) and status (the packet's trailing
// status byte).
func (c Case) Matches(raw uint32, status byte) bool {
	if c.Data != nil {
		guard, err := parseHexGuard(*c.Data)
		if err != nil || guard != raw {
			return false
		}
	}
	if c.Status != nil {
		guard, err := parseHexGuard(*c.Status)
		if err != nil || byte(guard) != status {
			return false
		}
	}
	return true
}

func parseHexGuard(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("eep: invalid hex guard %q: %w", s, err)
	}
	return uint32(v), nil
}

// rawProfile mirrors the on-disk JSON shape before it's normalized into
// a Profile (RORG parsed from hex/int, eep key derived if absent).
type rawProfile struct {
	EEP           string          `json:"eep"`
	RorgNumber    json.RawMessage `json:"rorg_number"`
	FuncNumber    json.RawMessage `json:"func_number"`
	TypeNumber    json.RawMessage `json:"type_number"`
	TypeTitle     string          `json:"type_title"`
	Manufacturer  string          `json:"manufacturer"`
	Description   string          `json:"description"`
	Bidirectional bool            `json:"bidirectional"`
	Objects       objectsField    `json:"objects"`
	Cases         []Case          `json:"case"`
}

// Profile is the normalized, immutable-after-load EEP definition.
type Profile struct {
	EEP           string
	RORG          byte
	Title         string
	Manufacturer  string
	Description   string
	Bidirectional bool
	Objects       map[string]EntityMeta
	Cases         []Case
}

// ParseProfile decodes and normalizes one EEP definition file.
func ParseProfile(data []byte) (*Profile, error) {
	var raw rawProfile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("eep: parse profile: %w", err)
	}

	rorg, err := parseRorgNumber(rawMessageToString(raw.RorgNumber))
	if err != nil {
		return nil, fmt.Errorf("eep: rorg_number: %w", err)
	}

	eepKey := raw.EEP
	if eepKey == "" {
		eepKey = deriveEEPKey(rorg, rawMessageToString(raw.FuncNumber), rawMessageToString(raw.TypeNumber))
	}
	if eepKey == "" {
		return nil, fmt.Errorf("eep: profile missing eep key and cannot derive one")
	}

	objects := map[string]EntityMeta(raw.Objects)
	if objects == nil {
		objects = map[string]EntityMeta{}
	}
	objects["rssi"] = EntityMeta{Name: "RSSI", Component: ComponentSensor, DeviceClass: "signal_strength", Unit: "dBm", StateClass: "measurement"}
	objects["last_seen"] = EntityMeta{Name: "Last Seen", Component: ComponentSensor, DeviceClass: "timestamp"}

	return &Profile{
		EEP:           eepKey,
		RORG:          rorg,
		Title:         raw.TypeTitle,
		Manufacturer:  raw.Manufacturer,
		Description:   raw.Description,
		Bidirectional: raw.Bidirectional,
		Objects:       objects,
		Cases:         raw.Cases,
	}, nil
}

// rawMessageToString unwraps a json.RawMessage holding either a quoted
// string ("A5") or a bare number (165) into text, since
// rorg_number/func_number/type_number appear as either in profile files
// seen in the wild. A bare number is rendered as 0x-prefixed hex (165
// becomes "0xA5") so it parses back to the same value.
func rawMessageToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("0x%X", n)
	}
	return string(raw)
}

func parseRorgNumber(s string) (byte, error) {
	if s == "" {
		return 0, fmt.Errorf("empty rorg_number")
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	base := 16
	if trimmed == s {
		// No 0x prefix: could still be a bare hex or decimal literal in
		// the source data; try hex first since profiles are keyed in hex.
		if v, err := strconv.ParseUint(trimmed, 16, 16); err == nil {
			return byte(v), nil
		}
		base = 10
	}
	v, err := strconv.ParseUint(trimmed, base, 16)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

func deriveEEPKey(rorg byte, funcNum, typeNum string) string {
	funcNum = strings.TrimPrefix(strings.TrimPrefix(funcNum, "0x"), "0X")
	typeNum = strings.TrimPrefix(strings.TrimPrefix(typeNum, "0x"), "0X")
	f, err1 := strconv.ParseUint(funcNum, 16, 8)
	t, err2 := strconv.ParseUint(typeNum, 16, 8)
	if err1 != nil || err2 != nil {
		return ""
	}
	return fmt.Sprintf("%02X-%02X-%02X", rorg, f, t)
}
