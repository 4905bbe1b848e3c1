package eep

import (
	"encoding/json"
	"math"
)

// Decode runs the full EEP interpretation pipeline against a RADIO_ERP1
// data slice (RORG at [0], payload, sender id, trailing status byte):
// case selection by declaration order, bitfield extraction for the
// matched case, formula evaluation, and decimal rounding. It returns an
// empty, non-nil map if no case matches.
func Decode(data []byte, profile *Profile) map[string]Value {
	result := make(map[string]Value)
	if profile == nil || len(data) == 0 {
		return result
	}

	status := data[len(data)-1]
	raw := caseSelectionValue(data)

	var matched *Case
	for i := range profile.Cases {
		if profile.Cases[i].Matches(raw, status) {
			matched = &profile.Cases[i]
			break
		}
	}
	if matched == nil {
		return result
	}

	for _, field := range matched.DataField {
		shortcut := field.Shortcut
		if shortcut == "" {
			continue
		}
		result[shortcut] = decodeField(field, data)
	}
	return result
}

// caseSelectionValue computes the integer used for case-guard matching:
// a single byte (data[1]) for RPS (F6) and 1BS (D5), or the big-endian
// 4-byte value data[1..5) for everything else including 4BS (A5).
func caseSelectionValue(data []byte) uint32 {
	rorg := data[0]
	if (rorg == 0xF6 || rorg == 0xD5) && len(data) > 1 {
		return uint32(data[1])
	}
	if len(data) >= 5 {
		return uint32(data[1])<<24 | uint32(data[2])<<16 | uint32(data[3])<<8 | uint32(data[4])
	}
	return 0
}

func decodeField(field DataField, data []byte) Value {
	if !field.HasExtraction() {
		return literalValue(field.Value)
	}

	raw := ExtractBits(data, field.BitOffs, field.BitSize)
	if field.Invert && field.BitSize == 1 {
		raw ^= 1
	}

	var v Value
	if len(field.Value) > 0 {
		v = EvalFormula(field.Value, float64(raw))
	} else {
		v = Number(float64(raw))
	}

	if field.Decimals != nil && v.Kind == KindNumber {
		v = Number(roundToDecimals(v.Num, *field.Decimals))
	}
	return v
}

// literalValue handles datafields that carry a final value directly
// (e.g. {"shortcut":"BI","value":1}) instead of a formula over extracted
// bits. The literal may be numeric, boolean, or string.
func literalValue(raw json.RawMessage) Value {
	if len(raw) == 0 {
		return Number(0)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return Number(n)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return Boolean(b)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return String(s)
	}
	return Number(0)
}

// roundToDecimals rounds to n decimal places, half away from zero.
func roundToDecimals(v float64, n int) float64 {
	if n < 0 {
		return v
	}
	scale := math.Pow(10, float64(n))
	return math.Round(v*scale) / scale
}
