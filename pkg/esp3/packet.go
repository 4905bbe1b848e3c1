// Package esp3 implements the EnOcean Serial Protocol 3 wire format: packet
// framing with CRC8, and a typed view over decoded packets.
package esp3

import (
	"encoding/hex"
	"fmt"
)

// PacketType is the ESP3 packet type byte.
type PacketType byte

// ESP3 packet types.
const (
	PacketTypeRadioERP1     PacketType = 0x01
	PacketTypeResponse      PacketType = 0x02
	PacketTypeRadioSubTel   PacketType = 0x03
	PacketTypeEvent         PacketType = 0x04
	PacketTypeCommonCommand PacketType = 0x05
	PacketTypeSmartAck      PacketType = 0x06
	PacketTypeRemoteMan     PacketType = 0x07
)

// String returns a human-readable name for the packet type.
func (t PacketType) String() string {
	switch t {
	case PacketTypeRadioERP1:
		return "RADIO_ERP1"
	case PacketTypeResponse:
		return "RESPONSE"
	case PacketTypeRadioSubTel:
		return "RADIO_SUB_TEL"
	case PacketTypeEvent:
		return "EVENT"
	case PacketTypeCommonCommand:
		return "COMMON_COMMAND"
	case PacketTypeSmartAck:
		return "SMART_ACK"
	case PacketTypeRemoteMan:
		return "REMOTE_MAN"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", byte(t))
	}
}

// Common command codes used against COMMON_COMMAND packets.
const (
	CommandReadVersion byte = 0x03
	CommandReadBaseID  byte = 0x08
)

// RORG identifies the EnOcean telegram family.
const (
	RORG4BS byte = 0xA5
	RORGRPS byte = 0xF6
	RORG1BS byte = 0xD5
	RORGVLD byte = 0xD2
)

// Packet is a decoded ESP3 packet: a type tag plus data and optional blocks.
type Packet struct {
	Type     PacketType
	Data     []byte
	Optional []byte
}

// SenderID returns the hex-encoded 4-byte sender address for a RADIO_ERP1
// packet: the four bytes preceding the trailing status byte. It is
// undefined (empty) for any other packet type or for data too short to
// hold RORG + sender + status.
func (p *Packet) SenderID() string {
	if p.Type != PacketTypeRadioERP1 || len(p.Data) < 6 {
		return ""
	}
	sender := p.Data[len(p.Data)-5 : len(p.Data)-1]
	return hex.EncodeToString(sender)
}

// RORG returns the RORG byte (Data[0]) of a RADIO_ERP1 packet, or 0 if the
// packet is not RADIO_ERP1 or has no data.
func (p *Packet) RORG() byte {
	if p.Type != PacketTypeRadioERP1 || len(p.Data) == 0 {
		return 0
	}
	return p.Data[0]
}

// Status returns the trailing status byte of a RADIO_ERP1 packet.
func (p *Packet) Status() byte {
	if p.Type != PacketTypeRadioERP1 || len(p.Data) == 0 {
		return 0
	}
	return p.Data[len(p.Data)-1]
}

// RSSI returns the received signal strength in dBm (negative) for a
// RADIO_ERP1 packet carrying at least 6 optional bytes, and false
// otherwise. EnOcean gateways report RSSI as a positive attenuation byte
// in Optional[5]; the Home-Assistant convention is negative dBm.
func (p *Packet) RSSI() (int, bool) {
	if p.Type != PacketTypeRadioERP1 || len(p.Optional) < 6 {
		return 0, false
	}
	return -int(p.Optional[5]), true
}

// IsTeachIn reports whether the packet is a 4BS (A5) teach-in telegram:
// RORG 0xA5 with the LRN bit (DB0 bit 3, i.e. (DB0>>3)&1) clear. EnOcean
// defines LRN=0 as teach-in and LRN=1 as data.
func (p *Packet) IsTeachIn() bool {
	if p.RORG() != RORG4BS || len(p.Data) < 5 {
		return false
	}
	db0 := p.Data[4]
	return (db0>>3)&1 == 0
}

// NewReadBaseID builds a COMMON_COMMAND packet requesting the gateway's
// base ID.
func NewReadBaseID() *Packet {
	return &Packet{Type: PacketTypeCommonCommand, Data: []byte{CommandReadBaseID}}
}

// NewReadVersion builds a COMMON_COMMAND packet requesting chip/app
// version info. It also serves as the supervisor's idle-link ping.
func NewReadVersion() *Packet {
	return &Packet{Type: PacketTypeCommonCommand, Data: []byte{CommandReadVersion}}
}

// NewRadioERP1 builds a generic RADIO_ERP1 packet from a source address,
// destination address, RORG, payload, and status byte. src and dst are
// 4-byte hex strings; a dst of "" broadcasts.
func NewRadioERP1(src, dst string, rorg byte, payload []byte, status byte) (*Packet, error) {
	srcBytes, err := decodeAddr(src)
	if err != nil {
		return nil, fmt.Errorf("esp3: source address: %w", err)
	}

	data := make([]byte, 0, 1+len(payload)+4+1)
	data = append(data, rorg)
	data = append(data, payload...)
	data = append(data, srcBytes...)
	data = append(data, status)

	optional := make([]byte, 7)
	optional[0] = 0x03 // subtelegram count
	if dst != "" {
		dstBytes, err := decodeAddr(dst)
		if err != nil {
			return nil, fmt.Errorf("esp3: destination address: %w", err)
		}
		copy(optional[1:5], dstBytes)
	} else {
		optional[1], optional[2], optional[3], optional[4] = 0xFF, 0xFF, 0xFF, 0xFF
	}
	optional[5] = 0xFF // send at default power
	optional[6] = 0x00 // security level: none

	return &Packet{Type: PacketTypeRadioERP1, Data: data, Optional: optional}, nil
}

// NewRPSPacket builds an F6 (RPS) button telegram, pressed or released.
func NewRPSPacket(src, dst string, buttonCode byte, pressed bool) (*Packet, error) {
	db0 := buttonCode
	status := byte(0x30) // T21=1, NU=1 (pressed, rocker)
	if !pressed {
		db0 = 0x00
		status = 0x20 // NU=0 (released)
	}
	return NewRadioERP1(src, dst, RORGRPS, []byte{db0}, status)
}

// NewTeachInResponse builds a 4BS teach-in response telegram confirming
// that FUNC/TYPE was learned: DB3/DB2 re-encode FUNC/TYPE, DB1 is zero,
// DB0 sets LRN=1, LRN-result, and EEP-supported (0xF0).
func NewTeachInResponse(src, dst string, function, typ byte) (*Packet, error) {
	db3 := (function << 2) | (typ >> 5)
	db2 := (typ & 0x1F) << 3
	db1 := byte(0x00)
	db0 := byte(0xF0)
	return NewRadioERP1(src, dst, RORG4BS, []byte{db3, db2, db1, db0}, 0x00)
}

func decodeAddr(addr string) ([]byte, error) {
	b, err := hex.DecodeString(addr)
	if err != nil {
		return nil, err
	}
	if len(b) != 4 {
		return nil, fmt.Errorf("address %q is not 4 bytes", addr)
	}
	return b, nil
}

// ParseResponseReturnCode returns the first byte of a RESPONSE packet's
// data, the ESP3 RETURN_CODE. 0x00 is RET_OK.
func (p *Packet) ParseResponseReturnCode() (byte, bool) {
	if p.Type != PacketTypeResponse || len(p.Data) == 0 {
		return 0, false
	}
	return p.Data[0], true
}

// BaseID extracts the base ID from a READ_BASE_ID RESPONSE packet.
func (p *Packet) BaseID() (string, bool) {
	if p.Type != PacketTypeResponse || len(p.Data) < 5 || p.Data[0] != 0 {
		return "", false
	}
	return hex.EncodeToString(p.Data[1:5]), true
}

// VersionInfo is the gateway identity acquired once per transport session.
type VersionInfo struct {
	AppVersion string
	ChipID     string
}

// VersionInfo extracts version info from a READ_VERSION RESPONSE packet.
func (p *Packet) VersionInfo() (VersionInfo, bool) {
	if p.Type != PacketTypeResponse || len(p.Data) < 33 || p.Data[0] != 0 {
		return VersionInfo{}, false
	}
	appVer := fmt.Sprintf("%d.%d.%d.%d", p.Data[1], p.Data[2], p.Data[3], p.Data[4])
	chipID := hex.EncodeToString(p.Data[9:13])
	return VersionInfo{AppVersion: appVer, ChipID: chipID}, true
}
