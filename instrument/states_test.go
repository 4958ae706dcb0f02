package instrument

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnumValue(t *testing.T) {
	if got := EnumValue(2); got != "0x0002" {
		t.Fatalf("expect 0x0002, got %s", got)
	}
	if got := EnumValue(0x1a2b); got != "0x1a2b" {
		t.Fatalf("expect 0x1a2b, got %s", got)
	}
}

func TestStateTableName(t *testing.T) {
	if name, ok := DefaultTrackerStates.Name(int(StateTracking)); !ok || name != "Tracking" {
		t.Fatalf("unexpected %q %v", name, ok)
	}
	if _, ok := DefaultTrackerStates.Name(0x7f); ok {
		t.Fatal("unknown value should not resolve")
	}
	if got := DefaultRecordingStates.Describe(0x7f); got != "unknown state 0x007f" {
		t.Fatalf("unexpected fallback %q", got)
	}
}

func TestReadStateTableJSON(t *testing.T) {
	in := `[
  {"EnumValue": "0x0000", "Description": "Not connected"},
  {"EnumValue": "0x0010", "Description": "Calibrating"}
]`
	table, err := ReadStateTable(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadStateTable failed: %v", err)
	}
	if name := table.Describe(0x10); name != "Calibrating" {
		t.Fatalf("expect Calibrating, got %q", name)
	}
}

func TestLoadStateTableYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record_states.yaml")
	data := "- EnumValue: \"0x0001\"\n  Description: Recording\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := LoadStateTable(path)
	if err != nil {
		t.Fatalf("LoadStateTable failed: %v", err)
	}
	if name, ok := table.Name(1); !ok || name != "Recording" {
		t.Fatalf("unexpected %q %v", name, ok)
	}
}

func TestReadStateTableEmpty(t *testing.T) {
	if _, err := ReadStateTable(strings.NewReader("")); err == nil {
		t.Fatal("expected error for empty input")
	}
}
