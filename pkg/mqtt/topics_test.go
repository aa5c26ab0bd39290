package mqtt

import "testing"

func TestRoomTopics(t *testing.T) {
	if got := RawReadingTopic("B1", "R1"); got != "occupancy/raw/B1/R1" {
		t.Errorf("RawReadingTopic() = %s", got)
	}
	if got := RoomStatusTopic("B1", "R1"); got != "occupancy/status/B1/R1" {
		t.Errorf("RoomStatusTopic() = %s", got)
	}
}

func TestParseRoomTopic(t *testing.T) {
	tests := []struct {
		topic    string
		building string
		room     string
		wantErr  bool
	}{
		{topic: "occupancy/raw/B1/R1", building: "B1", room: "R1"},
		{topic: "occupancy/status/HQ/4.12", building: "HQ", room: "4.12"},
		{topic: "occupancy/raw/B1", wantErr: true},
		{topic: "automation/raw/motion/study", wantErr: true},
		{topic: "occupancy/raw//R1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			b, r, err := ParseRoomTopic(tt.topic)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseRoomTopic(%q) expected error", tt.topic)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRoomTopic(%q) unexpected error: %v", tt.topic, err)
			}
			if b != tt.building || r != tt.room {
				t.Errorf("ParseRoomTopic(%q) = %s, %s", tt.topic, b, r)
			}
		})
	}
}
