package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/saaga0h/roomwatch/internal/roomstate"
	"github.com/saaga0h/roomwatch/pkg/mqtt"
)

// Agent receives raw readings over MQTT and feeds them to the processor.
// Each room gets its own serial queue, started on its first reading and
// reaped once drained, so one room's readings are processed in arrival
// order while a paced room does not stall the others.
type Agent struct {
	mqtt      mqtt.Client
	processor *roomstate.Processor
	logger    *slog.Logger

	queueSize int

	mu      sync.Mutex
	ctx     context.Context
	rooms   map[roomstate.RoomKey]*roomQueue
	running bool
	closed  bool
	wg      sync.WaitGroup
}

// roomQueue is one room's backlog. pending counts readings handed to the
// room but not yet processed and is guarded by Agent.mu.
type roomQueue struct {
	ch      chan roomstate.RawReading
	pending int
}

// AgentOption configures an Agent
type AgentOption func(*Agent)

// WithQueueSize sets the per-room queue length. A room whose queue is full
// blocks the broker callback until its backlog drains.
func WithQueueSize(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.queueSize = n
		}
	}
}

// NewAgent creates the MQTT ingress agent
func NewAgent(mqttClient mqtt.Client, processor *roomstate.Processor, logger *slog.Logger, opts ...AgentOption) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		mqtt:      mqttClient,
		processor: processor,
		logger:    logger,
		queueSize: 64,
		rooms:     make(map[roomstate.RoomKey]*roomQueue),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start connects, subscribes to raw reading topics and blocks until ctx is cancelled
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting MQTT ingress agent", "topic", mqtt.TopicRawReadings)

	if err := a.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	a.mu.Lock()
	// Queued readings must survive cancellation so Stop can drain them
	a.ctx = context.WithoutCancel(ctx)
	a.running = !a.closed
	a.mu.Unlock()

	if err := a.mqtt.Subscribe(mqtt.TopicRawReadings, 1, a.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to raw readings: %w", err)
	}

	a.logger.Info("MQTT ingress agent started and ready to receive readings")

	<-ctx.Done()
	a.logger.Info("MQTT ingress agent stopping")
	return nil
}

// Stop disconnects from the broker and waits for queued readings to drain
func (a *Agent) Stop() error {
	a.logger.Info("Stopping MQTT ingress agent")

	a.mqtt.Disconnect()

	a.mu.Lock()
	a.closed = true
	a.running = false
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("MQTT ingress agent stopped")
	return nil
}

// enqueue hands r to its room's queue, starting a worker for the room when
// none is running
func (a *Agent) enqueue(r roomstate.RawReading) bool {
	key := r.Key()

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return false
	}
	q, ok := a.rooms[key]
	if !ok {
		q = &roomQueue{ch: make(chan roomstate.RawReading, a.queueSize)}
		a.rooms[key] = q
		a.wg.Add(1)
		go a.drain(a.ctx, key, q)
	}
	q.pending++
	a.mu.Unlock()

	q.ch <- r
	return true
}

// drain processes a room's readings in order and exits once nothing is
// pending; a later reading for the room starts a fresh worker
func (a *Agent) drain(ctx context.Context, key roomstate.RoomKey, q *roomQueue) {
	defer a.wg.Done()

	for r := range q.ch {
		a.process(ctx, r)

		a.mu.Lock()
		q.pending--
		if q.pending == 0 {
			delete(a.rooms, key)
			a.mu.Unlock()
			return
		}
		a.mu.Unlock()
	}
}

// activeRooms returns the number of rooms with a running worker
func (a *Agent) activeRooms() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rooms)
}

// handleMessage decodes a message and queues it on its room's worker
func (a *Agent) handleMessage(msg mqtt.Message) {
	topic := msg.Topic()
	a.logger.Debug("Received MQTT message", "topic", topic, "size", len(msg.Payload()))

	reading, err := DecodeMessage(topic, msg.Payload())
	if err != nil {
		a.logger.Warn("Rejected reading", "topic", topic, "error", err)
		return
	}

	if !a.enqueue(reading) {
		a.logger.Warn("Agent not running, reading dropped", "topic", topic)
	}
}

func (a *Agent) process(ctx context.Context, r roomstate.RawReading) {
	res, err := a.processor.Process(ctx, r)
	switch {
	case err != nil:
		a.logger.Warn("Reading not applied",
			"building_id", r.BuildingID,
			"room_id", r.RoomID,
			"sequence_id", r.SequenceID,
			"error", err)
	case !res.Accepted:
		a.logger.Debug("Reading ignored",
			"building_id", r.BuildingID,
			"room_id", r.RoomID,
			"sequence_id", r.SequenceID,
			"reason", res.Reason)
	default:
		a.logger.Debug("Reading accepted",
			"building_id", r.BuildingID,
			"room_id", r.RoomID,
			"sequence_id", r.SequenceID,
			"status", res.Status.String())
	}
}

// DecodeMessage decodes a raw reading published on
// occupancy/raw/{building_id}/{room_id}. building_id and room_id default to
// the topic's values when the payload omits them.
func DecodeMessage(topic string, payload []byte) (roomstate.RawReading, error) {
	buildingID, roomID, err := mqtt.ParseRoomTopic(topic)
	if err != nil {
		return roomstate.RawReading{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		// Let the decoder produce the canonical error
		return roomstate.DecodeReading(payload)
	}

	for name, fallback := range map[string]string{"building_id": buildingID, "room_id": roomID} {
		if v, ok := fields[name]; ok && string(v) != "null" {
			continue
		}
		encoded, err := json.Marshal(fallback)
		if err != nil {
			return roomstate.RawReading{}, err
		}
		fields[name] = encoded
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return roomstate.RawReading{}, errors.New("failed to re-encode reading")
	}
	return roomstate.DecodeReading(merged)
}
