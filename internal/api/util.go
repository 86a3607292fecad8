package api

import (
	"errors"
	"fmt"
	"time"
)

var errOrchestratorUnconfigured = errors.New("position lifecycle control is not configured on this server")

func errMissingQuery(name string) error {
	return fmt.Errorf("missing required query parameter %q", name)
}

// parseTimeRange parses optional RFC3339 from/to query values. Empty values
// pass through as the zero time.Time, matching ports.TimelineQuery's
// "zero means unbounded" convention.
func parseTimeRange(fromStr, toStr string) (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if fromStr != "" {
		if from, err = time.Parse(time.RFC3339, fromStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse from: %w", err)
		}
	}
	if toStr != "" {
		if to, err = time.Parse(time.RFC3339, toStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("parse to: %w", err)
		}
	}
	return from, to, nil
}
