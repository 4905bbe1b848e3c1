package transport

import "testing"

func TestNewSelectsTransportByPrefix(t *testing.T) {
	tr, err := New("tcp://192.168.1.10:9999", 0)
	if err != nil {
		t.Fatalf("New(tcp): %v", err)
	}
	tcp, ok := tr.(*TCP)
	if !ok {
		t.Fatalf("New(tcp) returned %T, want *TCP", tr)
	}
	if tcp.host != "192.168.1.10" || tcp.port != 9999 {
		t.Errorf("host/port = %s/%d, want 192.168.1.10/9999", tcp.host, tcp.port)
	}

	tr, err = New("/dev/ttyUSB0", 0)
	if err != nil {
		t.Fatalf("New(serial): %v", err)
	}
	serial, ok := tr.(*Serial)
	if !ok {
		t.Fatalf("New(serial) returned %T, want *Serial", tr)
	}
	if serial.path != "/dev/ttyUSB0" || serial.baud != DefaultBaud {
		t.Errorf("path/baud = %s/%d, want /dev/ttyUSB0/%d", serial.path, serial.baud, DefaultBaud)
	}
}

func TestNewInvalidTCPAddress(t *testing.T) {
	if _, err := New("tcp://not-a-valid-addr", 0); err == nil {
		t.Fatal("expected error for invalid tcp address")
	}
}

func TestNewEmptySerialPath(t *testing.T) {
	if _, err := New("", 0); err == nil {
		t.Fatal("expected error for empty serial path")
	}
}
