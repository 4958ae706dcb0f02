package instrument

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// TrackerState is the raw tracker state enum returned by getState.
type TrackerState int

// RecordingState is the raw recording state enum returned by getRecordingState.
type RecordingState int

// Tracker and recording states reported by the simulator.
const (
	StateIdle     TrackerState = 0x0001
	StateTracking TrackerState = 0x0002

	RecordingIdle   RecordingState = 0x0000
	RecordingActive RecordingState = 0x0001
)

// EnumValue renders an enum the way state tables key it: "0x" plus four hex digits.
func EnumValue(v int) string {
	return fmt.Sprintf("%#06x", v)
}

// StateEntry is one row of a state table file.
type StateEntry struct {
	EnumValue   string `json:"EnumValue" yaml:"EnumValue"`
	Description string `json:"Description" yaml:"Description"`
}

// StateTable maps enum values to human-readable descriptions.
type StateTable []StateEntry

var (
	DefaultTrackerStates = StateTable{
		{EnumValue: EnumValue(int(StateIdle)), Description: "Idle"},
		{EnumValue: EnumValue(int(StateTracking)), Description: "Tracking"},
	}
	DefaultRecordingStates = StateTable{
		{EnumValue: EnumValue(int(RecordingIdle)), Description: "Not recording"},
		{EnumValue: EnumValue(int(RecordingActive)), Description: "Recording"},
	}
)

// Name looks up v. ok is false when the table has no row for it.
func (t StateTable) Name(v int) (name string, ok bool) {
	key := EnumValue(v)
	for _, e := range t {
		if e.EnumValue == key {
			return e.Description, true
		}
	}
	return "", false
}

// Describe is Name with a fallback for unknown values.
func (t StateTable) Describe(v int) string {
	if name, ok := t.Name(v); ok {
		return name
	}
	return "unknown state " + EnumValue(v)
}

// ReadStateTable decodes a state table. JSON files decode as well, being valid YAML.
func ReadStateTable(r io.Reader) (StateTable, error) {
	var t StateTable
	if err := yaml.NewDecoder(r).Decode(&t); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("instrument: empty state table")
		}
		return nil, fmt.Errorf("instrument: decode state table: %w", err)
	}
	return t, nil
}

// LoadStateTable reads a state table file such as tracker_states.json.
func LoadStateTable(path string) (StateTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadStateTable(f)
}
