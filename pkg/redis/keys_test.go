package redis

import (
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomStateKey(t *testing.T) {
	key := RoomStateKey("hq", "lab-3")
	assert.Equal(t, "room:latest:hq:lab-3", key)

	matched, err := path.Match(RoomStatePattern, key)
	assert.NoError(t, err)
	assert.True(t, matched)
}
