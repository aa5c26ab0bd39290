package scenario

import "time"

// Scenario is a scripted sequence of readings for one or more rooms, with
// replies and room state checked along the way
type Scenario struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Setup       Setup     `yaml:"setup"`
	Readings    []Reading `yaml:"readings"`
	Checks      []Check   `yaml:"checks"`
}

// Setup holds defaults applied to every reading
type Setup struct {
	BuildingID string `yaml:"building_id"`
	RoomID     string `yaml:"room_id"`
	SourceID   string `yaml:"source_id"`
}

// Reading is one update sent to the service
type Reading struct {
	AtMs        int    `yaml:"at_ms"` // milliseconds from start
	Description string `yaml:"description"`
	BuildingID  string `yaml:"building_id,omitempty"`
	RoomID      string `yaml:"room_id,omitempty"`
	Occupancy   int    `yaml:"occupancy"`
	SequenceID  int64  `yaml:"sequence_id"`
	// Timestamp defaults to the send time
	Timestamp string `yaml:"timestamp,omitempty"`
	// Expect is matched against the decoded reply body
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Check inspects a room's state at a point in time
type Check struct {
	AtMs        int    `yaml:"at_ms"`
	Description string `yaml:"description"`
	// Source is where state is read from: api, redis or mqtt
	Source     string                 `yaml:"source"`
	BuildingID string                 `yaml:"building_id,omitempty"`
	RoomID     string                 `yaml:"room_id,omitempty"`
	Expect     map[string]interface{} `yaml:"expect"`
}

// Room returns the reading's room, falling back to setup
func (r Reading) Room(s Setup) (string, string) {
	return firstNonEmpty(r.BuildingID, s.BuildingID), firstNonEmpty(r.RoomID, s.RoomID)
}

// Room returns the check's room, falling back to setup
func (c Check) Room(s Setup) (string, string) {
	return firstNonEmpty(c.BuildingID, s.BuildingID), firstNonEmpty(c.RoomID, s.RoomID)
}

func firstNonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

// TestResult contains the results of a scenario execution
type TestResult struct {
	Scenario     *Scenario           `json:"scenario"`
	StartTime    time.Time           `json:"start_time"`
	EndTime      time.Time           `json:"end_time"`
	Passed       bool                `json:"passed"`
	PassedCount  int                 `json:"passed_count"`
	FailedCount  int                 `json:"failed_count"`
	Expectations []ExpectationResult `json:"expectations"`
}

// ExpectationResult is the outcome of one reply or state expectation
type ExpectationResult struct {
	Layer       string                 `json:"layer"`
	Description string                 `json:"description"`
	Expected    map[string]interface{} `json:"expected"`
	Passed      bool                   `json:"passed"`
	Reason      string                 `json:"reason,omitempty"`
	Actual      interface{}            `json:"actual,omitempty"`
}
