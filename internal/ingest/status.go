package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/saaga0h/roomwatch/internal/roomstate"
	"github.com/saaga0h/roomwatch/pkg/mqtt"
)

// StatusPublisher publishes each room's latest reading as a retained message
// on occupancy/status/{building_id}/{room_id}
type StatusPublisher struct {
	client mqtt.Client
	logger *slog.Logger
}

// NewStatusPublisher creates a publisher over an MQTT client
func NewStatusPublisher(client mqtt.Client, logger *slog.Logger) *StatusPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusPublisher{client: client, logger: logger}
}

func (p *StatusPublisher) OnAccepted(ctx context.Context, r roomstate.AcceptedReading) {
	p.publish(ctx, r)
}

func (p *StatusPublisher) OnDuplicate(ctx context.Context, r roomstate.RawReading) {}

func (p *StatusPublisher) OnDemoted(ctx context.Context, r roomstate.AcceptedReading) {
	p.publish(ctx, r)
}

func (p *StatusPublisher) publish(ctx context.Context, r roomstate.AcceptedReading) {
	if !p.client.IsConnected() {
		p.logger.Debug("MQTT not connected, status not published", "building_id", r.BuildingID, "room_id", r.RoomID)
		return
	}

	payload, err := json.Marshal(r)
	if err != nil {
		p.logger.Error("Failed to encode room status", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	topic := mqtt.RoomStatusTopic(r.BuildingID, r.RoomID)
	if err := p.client.Publish(ctx, topic, 1, true, payload); err != nil {
		p.logger.Error("Failed to publish room status", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("Published room status", "topic", topic, "status", r.Status.String())
}
