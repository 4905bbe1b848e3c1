package esp3

import (
	"bytes"
	"testing"
)

func TestPacketSenderIDAndRORG(t *testing.T) {
	p := &Packet{
		Type: PacketTypeRadioERP1,
		Data: []byte{0xA5, 0x08, 0x02, 0x01, 0x0A, 0x00, 0x11, 0x22, 0x33, 0x00},
	}
	if got, want := p.RORG(), byte(0xA5); got != want {
		t.Errorf("RORG() = 0x%02x, want 0x%02x", got, want)
	}
	if got, want := p.SenderID(), "00112233"; got != want {
		t.Errorf("SenderID() = %q, want %q", got, want)
	}
	if got, want := p.Status(), byte(0x00); got != want {
		t.Errorf("Status() = 0x%02x, want 0x%02x", got, want)
	}
}

func TestPacketSenderIDWrongType(t *testing.T) {
	p := &Packet{Type: PacketTypeResponse, Data: []byte{0x00, 0x11, 0x22, 0x33, 0x44}}
	if got := p.SenderID(); got != "" {
		t.Errorf("SenderID() on non-RADIO_ERP1 = %q, want empty", got)
	}
}

func TestPacketRSSI(t *testing.T) {
	p := &Packet{
		Type:     PacketTypeRadioERP1,
		Data:     []byte{0xF6, 0x10, 0x00, 0x11, 0x22, 0x33, 0x30},
		Optional: []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0x2D, 0x00},
	}
	rssi, ok := p.RSSI()
	if !ok {
		t.Fatal("RSSI() ok = false, want true")
	}
	if rssi != -45 {
		t.Errorf("RSSI() = %d, want -45", rssi)
	}

	noOpt := &Packet{Type: PacketTypeRadioERP1, Data: p.Data}
	if _, ok := noOpt.RSSI(); ok {
		t.Error("RSSI() ok = true with no optional bytes, want false")
	}
}

func TestPacketIsTeachIn(t *testing.T) {
	tests := []struct {
		name string
		db0  byte
		want bool
	}{
		{"LRN bit clear is teach-in", 0x80, true}, // bit3=0
		{"LRN bit set is data", 0x0C, false},      // bit3=1
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Packet{Type: PacketTypeRadioERP1, Data: []byte{RORG4BS, 0x00, 0x00, 0x00, tt.db0, 0x11, 0x22, 0x33, 0x44, 0x00}}
			if got := p.IsTeachIn(); got != tt.want {
				t.Errorf("IsTeachIn() = %v, want %v", got, tt.want)
			}
		})
	}

	rps := &Packet{Type: PacketTypeRadioERP1, Data: []byte{RORGRPS, 0x10, 0x00, 0x11, 0x22, 0x33, 0x30}}
	if rps.IsTeachIn() {
		t.Error("IsTeachIn() = true for RPS packet, want false")
	}
}

func TestNewRadioERP1(t *testing.T) {
	p, err := NewRadioERP1("0017A2B4", "", RORG4BS, []byte{0x01, 0x02, 0x03, 0x08}, 0x00)
	if err != nil {
		t.Fatalf("NewRadioERP1: %v", err)
	}
	if p.Type != PacketTypeRadioERP1 {
		t.Errorf("Type = %v, want RADIO_ERP1", p.Type)
	}
	if got, want := p.SenderID(), "0017a2b4"; got != want {
		t.Errorf("SenderID() = %q, want %q", got, want)
	}
	if !bytes.Equal(p.Optional[1:5], []byte{0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Errorf("broadcast destination = %x, want ffffffff", p.Optional[1:5])
	}
}

func TestNewRadioERP1InvalidAddress(t *testing.T) {
	if _, err := NewRadioERP1("nothex", "", RORG4BS, []byte{0x00}, 0x00); err == nil {
		t.Fatal("expected error for invalid source address")
	}
	if _, err := NewRadioERP1("0017A2B4", "zz", RORG4BS, []byte{0x00}, 0x00); err == nil {
		t.Fatal("expected error for invalid destination address")
	}
}

func TestNewRPSPacketPressRelease(t *testing.T) {
	pressed, err := NewRPSPacket("0017A2B4", "", 0x10, true)
	if err != nil {
		t.Fatalf("NewRPSPacket pressed: %v", err)
	}
	if pressed.RORG() != RORGRPS {
		t.Errorf("RORG() = 0x%02x, want RPS", pressed.RORG())
	}
	if pressed.Data[1] != 0x10 {
		t.Errorf("DB0 = 0x%02x, want 0x10", pressed.Data[1])
	}

	released, err := NewRPSPacket("0017A2B4", "", 0x10, false)
	if err != nil {
		t.Fatalf("NewRPSPacket released: %v", err)
	}
	if released.Data[1] != 0x00 {
		t.Errorf("released DB0 = 0x%02x, want 0x00", released.Data[1])
	}
}

func TestNewTeachInResponseRoundTrip(t *testing.T) {
	const function, typ = 0x02, 0x05

	resp, err := NewTeachInResponse("FF800001", "0017A2B4", function, typ)
	if err != nil {
		t.Fatalf("NewTeachInResponse: %v", err)
	}

	db3, db2 := resp.Data[1], resp.Data[2]
	gotFunc := (db3 >> 2) & 0x3F
	gotType := ((db3 & 0x03) << 5) | ((db2 >> 3) & 0x1F)
	if gotFunc != function {
		t.Errorf("decoded FUNC = 0x%02x, want 0x%02x", gotFunc, function)
	}
	if gotType != typ {
		t.Errorf("decoded TYPE = 0x%02x, want 0x%02x", gotType, typ)
	}
}

func TestPacketBaseIDAndVersionInfo(t *testing.T) {
	baseIDResp := &Packet{Type: PacketTypeResponse, Data: []byte{0x00, 0xFF, 0x80, 0x00, 0x01}}
	id, ok := baseIDResp.BaseID()
	if !ok || id != "ff800001" {
		t.Errorf("BaseID() = (%q, %v), want (\"ff800001\", true)", id, ok)
	}

	verData := make([]byte, 33)
	verData[0] = 0x00
	copy(verData[1:5], []byte{0x02, 0x03, 0x01, 0x00})
	copy(verData[9:13], []byte{0xAB, 0xCD, 0xEF, 0x01})
	verResp := &Packet{Type: PacketTypeResponse, Data: verData}
	v, ok := verResp.VersionInfo()
	if !ok {
		t.Fatal("VersionInfo() ok = false")
	}
	if v.AppVersion != "2.3.1.0" {
		t.Errorf("AppVersion = %q, want 2.3.1.0", v.AppVersion)
	}
	if v.ChipID != "abcdef01" {
		t.Errorf("ChipID = %q, want abcdef01", v.ChipID)
	}
}
