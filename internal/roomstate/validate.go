package roomstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/relvacode/iso8601"
)

// requiredFields lists inbound fields in the order they are checked
var requiredFields = []string{
	"timestamp", "building_id", "room_id",
	"occupancy_state", "source_id", "sequence_id",
}

// isoShape is the structure accepted for timestamps: a calendar date with an
// optional hour, minute, second, fraction and UTC offset. iso8601.ParseString
// tolerates trailing time components, so the shape is checked first.
var isoShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:[T ]\d{2}(?::\d{2}(?::\d{2}(?:[.,]\d{1,9})?)?)?(?:[+-]\d{2}(?::?\d{2})?)?)?$`)

// ValidationError reports the first field that failed validation
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func missingField(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "Missing required field: " + field}
}

// Validate checks a reading without touching any state: required fields,
// occupancy_state in {0,1}, then an ISO-8601 timestamp.
func Validate(r RawReading) error {
	switch {
	case r.Timestamp == "":
		return missingField("timestamp")
	case r.BuildingID == "":
		return missingField("building_id")
	case r.RoomID == "":
		return missingField("room_id")
	case r.SourceID == "":
		return missingField("source_id")
	}

	if r.OccupancyState != 0 && r.OccupancyState != 1 {
		return &ValidationError{Field: "occupancy_state", Message: "occupancy_state must be 0 or 1"}
	}

	ts := strings.TrimSuffix(r.Timestamp, "Z")
	if !isoShape.MatchString(ts) {
		return &ValidationError{Field: "timestamp", Message: "Invalid timestamp format"}
	}
	if _, err := iso8601.ParseString(ts); err != nil {
		return &ValidationError{Field: "timestamp", Message: "Invalid timestamp format"}
	}

	return nil
}

// DecodeReading parses a JSON object into a RawReading, reporting absent or
// mistyped fields as validation errors, then runs Validate.
func DecodeReading(data []byte) (RawReading, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return RawReading{}, &ValidationError{Message: fmt.Sprintf("Invalid JSON body: %v", err)}
	}

	for _, name := range requiredFields {
		if v, ok := fields[name]; !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return RawReading{}, missingField(name)
		}
	}

	var r RawReading
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"timestamp", &r.Timestamp},
		{"building_id", &r.BuildingID},
		{"room_id", &r.RoomID},
		{"source_id", &r.SourceID},
	} {
		if err := json.Unmarshal(fields[f.name], f.dst); err != nil {
			return RawReading{}, &ValidationError{Field: f.name, Message: f.name + " must be a string"}
		}
	}

	var occupancy float64
	if err := json.Unmarshal(fields["occupancy_state"], &occupancy); err != nil || (occupancy != 0 && occupancy != 1) {
		return RawReading{}, &ValidationError{Field: "occupancy_state", Message: "occupancy_state must be 0 or 1"}
	}
	r.OccupancyState = int(occupancy)

	if err := json.Unmarshal(fields["sequence_id"], &r.SequenceID); err != nil {
		return RawReading{}, &ValidationError{Field: "sequence_id", Message: "sequence_id must be an integer"}
	}

	if err := Validate(r); err != nil {
		return RawReading{}, err
	}
	return r, nil
}
