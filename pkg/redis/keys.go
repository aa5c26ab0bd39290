package redis

import "fmt"

// RoomStateKey returns the key for the latest accepted reading of a room (hash)
// Pattern: room:latest:{building_id}:{room_id}
func RoomStateKey(buildingID, roomID string) string {
	return fmt.Sprintf("room:latest:%s:%s", buildingID, roomID)
}

// RoomStatePattern matches every room state key
const RoomStatePattern = "room:latest:*"
