package eep

import "testing"

func TestExtractBitsMSBFirst(t *testing.T) {
	data := []byte{0b10110010, 0b01010101}

	tests := []struct {
		name    string
		bitoffs int
		bitsize int
		want    uint32
	}{
		{"first bit", 0, 1, 1},
		{"second bit", 1, 1, 0},
		{"first byte", 0, 8, 0xB2},
		{"second byte", 8, 8, 0x55},
		{"whole buffer", 0, 16, 0xB255},
		{"mid-byte nibble", 4, 4, 0x2},
		{"crossing byte boundary", 4, 8, 0x25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractBits(data, tt.bitoffs, tt.bitsize); got != tt.want {
				t.Errorf("ExtractBits(%v, %d, %d) = %#x, want %#x", data, tt.bitoffs, tt.bitsize, got, tt.want)
			}
		})
	}
}

func TestExtractBitsOutOfRangeReturnsZeroPadded(t *testing.T) {
	data := []byte{0xFF}
	if got := ExtractBits(data, 4, 8); got != 0xF0 {
		t.Errorf("ExtractBits past end = %#x, want 0xF0 (zero-padded tail)", got)
	}
}

func TestExtractBitsInvalidSize(t *testing.T) {
	data := []byte{0xFF, 0xFF}
	if got := ExtractBits(data, 0, 0); got != 0 {
		t.Errorf("ExtractBits with bitsize=0 = %d, want 0", got)
	}
	if got := ExtractBits(data, 0, 33); got != 0 {
		t.Errorf("ExtractBits with bitsize=33 = %d, want 0", got)
	}
}
