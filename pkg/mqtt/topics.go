package mqtt

import (
	"fmt"
	"strings"
)

// Topic constants for occupancy readings and room status
const (
	// Raw readings (input): occupancy/raw/{building_id}/{room_id}
	TopicRawReadings = "occupancy/raw/+/+"

	// Room status (output): occupancy/status/{building_id}/{room_id}
	TopicStatusBase = "occupancy/status"
)

// RawReadingTopic constructs the raw reading topic for a room
// Pattern: occupancy/raw/{building_id}/{room_id}
func RawReadingTopic(buildingID, roomID string) string {
	return fmt.Sprintf("occupancy/raw/%s/%s", buildingID, roomID)
}

// RoomStatusTopic constructs the status topic for a room
// Pattern: occupancy/status/{building_id}/{room_id}
func RoomStatusTopic(buildingID, roomID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicStatusBase, buildingID, roomID)
}

// ParseRoomTopic extracts building and room ids from a raw or status topic
func ParseRoomTopic(topic string) (buildingID, roomID string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "occupancy" || parts[2] == "" || parts[3] == "" {
		return "", "", fmt.Errorf("invalid topic format: %s (expected occupancy/{kind}/{building}/{room})", topic)
	}
	return parts[2], parts[3], nil
}
