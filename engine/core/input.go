package core

import "sync"

// Key code definitions
type KeyCode uint16

const (
	KEY_SPACE  KeyCode = 0x20
	KEY_ESCAPE KeyCode = 0x1B
	KEY_LEFT   KeyCode = 0x25
	KEY_UP     KeyCode = 0x26
	KEY_RIGHT  KeyCode = 0x27
	KEY_DOWN   KeyCode = 0x28
	KEY_A      KeyCode = 0x41
	KEY_D      KeyCode = 0x44
	KEY_E      KeyCode = 0x45
	KEY_Q      KeyCode = 0x51
	KEY_R      KeyCode = 0x52
	KEY_S      KeyCode = 0x53
	KEY_W      KeyCode = 0x57
	KEY_LSHIFT KeyCode = 0xA0

	KEYS_MAX_KEYS KeyCode = 0xFF
)

type keyboardState struct {
	Keys [KEYS_MAX_KEYS]bool
}

/**
 * @brief Keyboard state of the current and the previous frame. Key changes
 * are also fired on the event bus.
 */
type Input struct {
	mu       sync.Mutex
	current  keyboardState
	previous keyboardState
	events   *EventBus
}

func NewInput(events *EventBus) *Input {
	return &Input{events: events}
}

// Update makes the current state the previous one. Call once per frame.
func (in *Input) Update() {
	in.mu.Lock()
	in.previous = in.current
	in.mu.Unlock()
}

func (in *Input) IsKeyDown(key KeyCode) bool {
	if key >= KEYS_MAX_KEYS {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.current.Keys[key]
}

func (in *Input) WasKeyDown(key KeyCode) bool {
	if key >= KEYS_MAX_KEYS {
		return false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.previous.Keys[key]
}

// KeyPressedThisFrame is true on the frame a key goes down.
func (in *Input) KeyPressedThisFrame(key KeyCode) bool {
	return in.IsKeyDown(key) && !in.WasKeyDown(key)
}

func (in *Input) ProcessKey(key KeyCode, pressed bool) {
	if key >= KEYS_MAX_KEYS {
		return
	}
	in.mu.Lock()
	// Only handle this if the state actually changed.
	changed := in.current.Keys[key] != pressed
	in.current.Keys[key] = pressed
	in.mu.Unlock()
	if !changed || in.events == nil {
		return
	}

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	ctx := EventContext{}
	ctx.U32[0] = uint32(key)
	in.events.Fire(code, in, ctx)
}
