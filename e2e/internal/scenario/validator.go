package scenario

import (
	"fmt"
	"strings"
)

var checkSources = map[string]bool{"api": true, "redis": true, "mqtt": true}

// ValidateScenario performs validation checks on a loaded scenario
func ValidateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("scenario description is required")
	}

	if s.Setup.SourceID == "" {
		s.Setup.SourceID = "e2e-runner"
	}

	if err := validateReadings(s); err != nil {
		return fmt.Errorf("readings validation failed: %w", err)
	}

	if err := validateChecks(s); err != nil {
		return fmt.Errorf("checks validation failed: %w", err)
	}

	return nil
}

func validateReadings(s *Scenario) error {
	if len(s.Readings) == 0 {
		return fmt.Errorf("at least one reading is required")
	}

	last := 0
	for i, r := range s.Readings {
		if r.AtMs < 0 {
			return fmt.Errorf("reading %d: at_ms cannot be negative", i)
		}
		// Readings are sent in file order; time may only move forward
		if r.AtMs < last {
			return fmt.Errorf("reading %d: at_ms %d is before the previous reading (%d)", i, r.AtMs, last)
		}
		last = r.AtMs

		if r.Description == "" {
			return fmt.Errorf("reading %d: description is required", i)
		}

		building, room := r.Room(s.Setup)
		if building == "" || room == "" {
			return fmt.Errorf("reading %d: building_id and room_id are required (directly or in setup)", i)
		}
	}

	return nil
}

func validateChecks(s *Scenario) error {
	hasReplyExpectation := false
	for _, r := range s.Readings {
		if len(r.Expect) > 0 {
			hasReplyExpectation = true
		}
	}
	if len(s.Checks) == 0 && !hasReplyExpectation {
		return fmt.Errorf("at least one check or reply expectation is required")
	}

	for i, c := range s.Checks {
		if c.AtMs < 0 {
			return fmt.Errorf("check %d: at_ms cannot be negative", i)
		}

		if c.Source == "" {
			s.Checks[i].Source = "api"
		} else if !checkSources[c.Source] {
			return fmt.Errorf("check %d: unknown source %q (must be api, redis or mqtt)", i, c.Source)
		}

		if len(c.Expect) == 0 {
			return fmt.Errorf("check %d: expect is required", i)
		}

		building, room := c.Room(s.Setup)
		if building == "" || room == "" || strings.ContainsAny(building+room, "/#+") {
			return fmt.Errorf("check %d: a plain building_id and room_id are required", i)
		}
	}

	return nil
}
