package checker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saaga0h/roomwatch/e2e/internal/observer"
	"github.com/saaga0h/roomwatch/e2e/internal/scenario"
	roomredis "github.com/saaga0h/roomwatch/pkg/redis"
)

// ErrNoState means the source has nothing recorded for the room
var ErrNoState = errors.New("no state for room")

// StateSource reads a room's latest state as a flat field map
type StateSource interface {
	Fetch(ctx context.Context, buildingID, roomID string) (map[string]interface{}, error)
}

// APISource reads state from GET /occupancy/{building_id}/{room_id}
type APISource struct {
	BaseURL string
	Client  *http.Client
}

func (s *APISource) Fetch(ctx context.Context, buildingID, roomID string) (map[string]interface{}, error) {
	u := fmt.Sprintf("%s/occupancy/%s/%s", s.BaseURL, url.PathEscape(buildingID), url.PathEscape(roomID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNoState
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected API status %d", resp.StatusCode)
	}

	var fields map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}
	return fields, nil
}

// RedisSource reads the mirrored room hash
type RedisSource struct {
	Client *redis.Client
}

func (s *RedisSource) Fetch(ctx context.Context, buildingID, roomID string) (map[string]interface{}, error) {
	hash, err := s.Client.HGetAll(ctx, roomredis.RoomStateKey(buildingID, roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(hash) == 0 {
		return nil, ErrNoState
	}

	fields := make(map[string]interface{}, len(hash))
	for k, v := range hash {
		fields[k] = v
	}
	return fields, nil
}

// MQTTSource reads the last retained status the observer saw
type MQTTSource struct {
	Observer *observer.Observer
}

func (s *MQTTSource) Fetch(ctx context.Context, buildingID, roomID string) (map[string]interface{}, error) {
	fields, ok := s.Observer.Latest(buildingID, roomID)
	if !ok {
		return nil, ErrNoState
	}
	return fields, nil
}

// CheckState evaluates one check against a state source. An expectation of
// {exists: false} passes only when the source has no state for the room.
func CheckState(ctx context.Context, src StateSource, setup scenario.Setup, c scenario.Check) scenario.ExpectationResult {
	b, r := c.Room(setup)
	res := scenario.ExpectationResult{
		Layer:       c.Source,
		Description: c.Description,
		Expected:    c.Expect,
	}

	fields, err := src.Fetch(ctx, b, r)
	wantAbsent := c.Expect["exists"] == false

	switch {
	case errors.Is(err, ErrNoState):
		res.Passed = wantAbsent
		if !wantAbsent {
			res.Reason = fmt.Sprintf("no state for %s/%s", b, r)
		}
		return res
	case err != nil:
		res.Reason = err.Error()
		return res
	case wantAbsent:
		res.Reason = fmt.Sprintf("expected no state for %s/%s", b, r)
		res.Actual = fields
		return res
	}

	expect := make(map[string]interface{}, len(c.Expect))
	for k, v := range c.Expect {
		if k != "exists" {
			expect[k] = v
		}
	}

	res.Actual = fields
	res.Passed, res.Reason = MatchAll(fields, expect)
	return res
}
