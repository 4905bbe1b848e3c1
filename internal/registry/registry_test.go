package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAddGetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	r := Load(path)

	d, err := r.Add("0194E0CB", "Temperature Sensor -20..+60C", "A5-02-05", "EnOcean")
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !d.Enabled {
		t.Error("Add should default Enabled=true")
	}

	got, ok := r.Get("0194E0CB")
	if !ok {
		t.Fatal("Get: not found after Add")
	}
	if got.EEP != "A5-02-05" {
		t.Errorf("EEP = %q", got.EEP)
	}

	// Persisted to disk.
	r2 := Load(path)
	got2, ok := r2.Get("0194E0CB")
	if !ok || got2.EEP != "A5-02-05" {
		t.Errorf("reload from disk: got %+v, ok=%v", got2, ok)
	}
}

func TestAddDuplicateNonPendingFails(t *testing.T) {
	r := Load(filepath.Join(t.TempDir(), "devices.json"))
	if _, err := r.Add("AABBCCDD", "Dev", "A5-02-05", ""); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if _, err := r.Add("AABBCCDD", "Dev2", "A5-02-05", ""); err == nil {
		t.Error("expected error adding duplicate non-pending device")
	}
}

func TestAddOverPendingSucceeds(t *testing.T) {
	r := Load(filepath.Join(t.TempDir(), "devices.json"))
	if _, err := r.Add("AABBCCDD", "Unknown", PendingEEP, ""); err != nil {
		t.Fatalf("Add pending: %v", err)
	}
	d, err := r.Add("AABBCCDD", "Now Known", "A5-02-05", "EnOcean")
	if err != nil {
		t.Fatalf("Add over pending: %v", err)
	}
	if d.EEP != "A5-02-05" {
		t.Errorf("EEP after completing pending = %q", d.EEP)
	}
}

func TestUpdatePendingEEPOnceThenLocked(t *testing.T) {
	r := Load(filepath.Join(t.TempDir(), "devices.json"))
	if _, err := r.Add("11223344", "Unknown", PendingEEP, ""); err != nil {
		t.Fatalf("Add: %v", err)
	}

	_, err := r.Update("11223344", func(d *Device) { d.EEP = "F6-02-01" })
	if err != nil {
		t.Fatalf("completing pending EEP: %v", err)
	}

	_, err = r.Update("11223344", func(d *Device) { d.EEP = "A5-02-05" })
	if err == nil {
		t.Error("expected error overwriting an already-completed EEP")
	}
}

func TestUpdateNonEEPFieldsAlwaysAllowed(t *testing.T) {
	r := Load(filepath.Join(t.TempDir(), "devices.json"))
	if _, err := r.Add("11223344", "Name", "A5-02-05", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	d, err := r.Update("11223344", func(d *Device) { d.Enabled = false; d.Name = "Renamed" })
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if d.Enabled || d.Name != "Renamed" {
		t.Errorf("Update result = %+v", d)
	}
}

func TestRemove(t *testing.T) {
	r := Load(filepath.Join(t.TempDir(), "devices.json"))
	r.Add("11223344", "Name", "A5-02-05", "")
	if !r.Remove("11223344") {
		t.Error("Remove should succeed for existing device")
	}
	if r.Remove("11223344") {
		t.Error("Remove should fail for already-removed device")
	}
	if _, ok := r.Get("11223344"); ok {
		t.Error("device should be gone after Remove")
	}
}

func TestUpdateLastSeenDoesNotTouchDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	r := Load(path)
	r.Add("11223344", "Name", "A5-02-05", "")

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	modTimeAfterAdd := info.ModTime()

	r.UpdateLastSeen("11223344", -55)

	d, _ := r.Get("11223344")
	if d.RSSI != -55 {
		t.Errorf("RSSI = %d, want -55", d.RSSI)
	}
	if d.LastSeen.IsZero() {
		t.Error("LastSeen not set")
	}

	info2, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat after UpdateLastSeen: %v", err)
	}
	if !info2.ModTime().Equal(modTimeAfterAdd) {
		t.Error("UpdateLastSeen must not write to disk")
	}
}

func TestListSnapshotIsIndependent(t *testing.T) {
	r := Load(filepath.Join(t.TempDir(), "devices.json"))
	r.Add("11223344", "Name", "A5-02-05", "")

	list := r.List()
	if len(list) != 1 {
		t.Fatalf("List() len = %d, want 1", len(list))
	}
	list[0].Name = "Mutated"

	got, _ := r.Get("11223344")
	if got.Name == "Mutated" {
		t.Error("mutating a List() result must not affect the registry")
	}
}
