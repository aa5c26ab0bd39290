package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saaga0h/roomwatch/e2e/internal/checker"
	"github.com/saaga0h/roomwatch/e2e/internal/observer"
	"github.com/saaga0h/roomwatch/e2e/internal/reporter"
	"github.com/saaga0h/roomwatch/e2e/internal/scenario"
	"github.com/saaga0h/roomwatch/internal/roomstate"
)

// Options selects the endpoints a run talks to. MQTTBroker and RedisHost
// are optional; checks against a missing source fail.
type Options struct {
	APIURL     string
	MQTTBroker string
	RedisHost  string
}

// Runner orchestrates test scenario execution
type Runner struct {
	opts   Options
	logger *log.Logger
	http   *http.Client

	observer    *observer.Observer
	redisClient *redis.Client
	sources     map[string]checker.StateSource
}

// NewRunner creates a new test runner
func NewRunner(opts Options, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		opts:   opts,
		logger: logger,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

// step is either a reading to send or a check to run
type step struct {
	atMs    int
	reading *scenario.Reading
	check   *scenario.Check
}

func schedule(s *scenario.Scenario) []step {
	steps := make([]step, 0, len(s.Readings)+len(s.Checks))
	for i := range s.Readings {
		steps = append(steps, step{atMs: s.Readings[i].AtMs, reading: &s.Readings[i]})
	}
	for i := range s.Checks {
		steps = append(steps, step{atMs: s.Checks[i].AtMs, check: &s.Checks[i]})
	}
	// Readings go before checks scheduled at the same moment
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].atMs != steps[j].atMs {
			return steps[i].atMs < steps[j].atMs
		}
		return steps[i].reading != nil && steps[j].reading == nil
	})
	return steps
}

// Run executes a test scenario
func (r *Runner) Run(ctx context.Context, s *scenario.Scenario) (*scenario.TestResult, []reporter.TimelineEvent, error) {
	r.logger.Printf("Starting scenario: %s", s.Name)
	r.logger.Printf("Description: %s", s.Description)

	if err := r.initialize(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialization failed: %w", err)
	}
	defer r.cleanup()

	startTime := time.Now()
	var (
		events  []reporter.TimelineEvent
		results []scenario.ExpectationResult
	)

	for _, st := range schedule(s) {
		if err := WaitUntil(ctx, startTime, st.atMs); err != nil {
			return nil, nil, fmt.Errorf("scenario interrupted: %w", err)
		}
		elapsed := GetElapsed(startTime)

		if st.reading != nil {
			res, desc := r.send(ctx, s.Setup, *st.reading)
			r.logger.Printf("[%.2fs] Sent reading: %s", elapsed, desc)
			events = append(events, reporter.TimelineEvent{Elapsed: elapsed, Layer: "reading", Description: desc})
			if res != nil {
				results = append(results, *res)
				events = append(events, r.logResult(elapsed, *res))
			}
			continue
		}

		res := r.check(ctx, s.Setup, *st.check)
		results = append(results, res)
		events = append(events, r.logResult(elapsed, res))
	}

	passedCount := 0
	for _, res := range results {
		if res.Passed {
			passedCount++
		}
	}

	return &scenario.TestResult{
		Scenario:     s,
		StartTime:    startTime,
		EndTime:      time.Now(),
		Passed:       passedCount == len(results),
		PassedCount:  passedCount,
		FailedCount:  len(results) - passedCount,
		Expectations: results,
	}, events, nil
}

// send posts one reading and matches its reply when the reading carries an
// expectation. The reply is decoded with its HTTP status under "http_status".
func (r *Runner) send(ctx context.Context, setup scenario.Setup, rd scenario.Reading) (*scenario.ExpectationResult, string) {
	b, room := rd.Room(setup)
	ts := rd.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(time.RFC3339Nano)
	}

	desc := fmt.Sprintf("%s/%s occupancy=%d seq=%d (%s)", b, room, rd.Occupancy, rd.SequenceID, rd.Description)

	reply, err := r.post(ctx, roomstate.RawReading{
		Timestamp:      ts,
		BuildingID:     b,
		RoomID:         room,
		OccupancyState: rd.Occupancy,
		SourceID:       setup.SourceID,
		SequenceID:     rd.SequenceID,
	})

	if len(rd.Expect) == 0 {
		if err != nil {
			r.logger.Printf("Reading not delivered: %v", err)
		}
		return nil, desc
	}

	res := &scenario.ExpectationResult{
		Layer:       "reply",
		Description: rd.Description,
		Expected:    rd.Expect,
	}
	if err != nil {
		res.Reason = err.Error()
		return res, desc
	}
	res.Actual = reply
	res.Passed, res.Reason = checker.MatchAll(reply, rd.Expect)
	return res, desc
}

func (r *Runner) post(ctx context.Context, reading roomstate.RawReading) (map[string]interface{}, error) {
	body, err := json.Marshal(reading)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reading: %w", err)
	}

	url := strings.TrimRight(r.opts.APIURL, "/") + "/occupancy/update"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send reading: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply: %w", err)
	}

	reply := map[string]interface{}{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &reply); err != nil {
			return nil, fmt.Errorf("failed to decode reply %q: %w", data, err)
		}
	}
	reply["http_status"] = resp.StatusCode
	return reply, nil
}

func (r *Runner) check(ctx context.Context, setup scenario.Setup, c scenario.Check) scenario.ExpectationResult {
	src, ok := r.sources[c.Source]
	if !ok {
		return scenario.ExpectationResult{
			Layer:       c.Source,
			Description: c.Description,
			Expected:    c.Expect,
			Reason:      fmt.Sprintf("source %q is not configured", c.Source),
		}
	}
	return checker.CheckState(ctx, src, setup, c)
}

func (r *Runner) logResult(elapsed float64, res scenario.ExpectationResult) reporter.TimelineEvent {
	if res.Passed {
		r.logger.Printf("[%.2fs] ✓ PASS %s: %s", elapsed, res.Layer, res.Description)
	} else {
		r.logger.Printf("[%.2fs] ✗ FAIL %s: %s: %s", elapsed, res.Layer, res.Description, res.Reason)
	}
	return reporter.TimelineEvent{
		Elapsed:     elapsed,
		Layer:       res.Layer,
		Description: res.Description,
		Success:     res.Passed,
		IsCheck:     true,
	}
}

// initialize sets up connections
func (r *Runner) initialize(ctx context.Context) error {
	r.sources = map[string]checker.StateSource{
		"api": &checker.APISource{BaseURL: strings.TrimRight(r.opts.APIURL, "/"), Client: r.http},
	}

	if r.opts.RedisHost != "" {
		r.redisClient = redis.NewClient(&redis.Options{Addr: r.opts.RedisHost})
		if err := r.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		r.logger.Printf("Connected to Redis at %s", r.opts.RedisHost)
		r.sources["redis"] = &checker.RedisSource{Client: r.redisClient}
	}

	if r.opts.MQTTBroker != "" {
		r.observer = observer.NewObserver(r.opts.MQTTBroker, r.logger)
		if err := r.observer.Start(); err != nil {
			return fmt.Errorf("failed to start observer: %w", err)
		}
		r.sources["mqtt"] = &checker.MQTTSource{Observer: r.observer}
	}

	return nil
}

// cleanup closes all connections
func (r *Runner) cleanup() {
	if r.observer != nil {
		r.observer.Stop()
	}
	if r.redisClient != nil {
		r.redisClient.Close()
	}
}

// SaveCapture saves the MQTT capture to a file
func (r *Runner) SaveCapture(filename string) error {
	if r.observer == nil {
		return fmt.Errorf("observer not initialized")
	}
	return r.observer.SaveCapture(filename)
}
