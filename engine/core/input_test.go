package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputTracksFrames(t *testing.T) {
	bus := NewEventBus()
	var pressed []uint32
	bus.Register(EVENT_CODE_KEY_PRESSED, t, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		pressed = append(pressed, data.U32[0])
		return true
	})

	in := NewInput(bus)
	in.ProcessKey(KEY_W, true)
	in.ProcessKey(KEY_W, true)
	assert.True(t, in.IsKeyDown(KEY_W))
	assert.True(t, in.KeyPressedThisFrame(KEY_W))
	assert.Equal(t, []uint32{uint32(KEY_W)}, pressed)

	in.Update()
	assert.True(t, in.WasKeyDown(KEY_W))
	assert.False(t, in.KeyPressedThisFrame(KEY_W))

	in.ProcessKey(KEY_W, false)
	assert.False(t, in.IsKeyDown(KEY_W))
	assert.False(t, in.IsKeyDown(KEYS_MAX_KEYS))
}
