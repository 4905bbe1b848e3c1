package statestore

import (
	"path/filepath"
	"testing"

	"github.com/tostmann/enocean-mqtt-bridge/internal/eep"
)

func TestSaveGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_states.json")
	s := Load(path)

	state := State{
		"TMP":       eep.Number(25.1),
		"rssi":      eep.Number(-60),
		"last_seen": eep.String("2026-07-31T12:00:00Z"),
	}
	if err := s.Save("0194E0CB", state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok := s.Get("0194E0CB")
	if !ok {
		t.Fatal("Get: not found after Save")
	}
	if got["TMP"].Num != 25.1 {
		t.Errorf("TMP = %+v", got["TMP"])
	}

	s2 := Load(path)
	got2, ok := s2.Get("0194E0CB")
	if !ok || got2["TMP"].Num != 25.1 {
		t.Errorf("reload from disk: got %+v, ok=%v", got2, ok)
	}
}

func TestAllReturnsIndependentSnapshot(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "last_states.json"))
	s.Save("AA", State{"TMP": eep.Number(1)})
	s.Save("BB", State{"TMP": eep.Number(2)})

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("All() len = %d, want 2", len(all))
	}
	all["AA"]["TMP"] = eep.Number(999)

	got, _ := s.Get("AA")
	if got["TMP"].Num == 999 {
		t.Error("mutating All() result must not affect the store")
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if len(s.All()) != 0 {
		t.Error("expected empty store for missing file")
	}
}
