package core

type Button uint16

const (
	BUTTON_LEFT Button = iota
	BUTTON_RIGHT
	BUTTON_MIDDLE
	BUTTON_MAX_BUTTONS
)

// Key code definitions
type KeyCode uint16

const (
	KEY_BACKSPACE KeyCode = 0x08
	KEY_TAB       KeyCode = 0x09
	KEY_ENTER     KeyCode = 0x0D
	KEY_SHIFT     KeyCode = 0x10
	KEY_CONTROL   KeyCode = 0x11
	KEY_ESCAPE    KeyCode = 0x1B
	KEY_SPACE     KeyCode = 0x20
	KEY_LEFT      KeyCode = 0x25
	KEY_UP        KeyCode = 0x26
	KEY_RIGHT     KeyCode = 0x27
	KEY_DOWN      KeyCode = 0x28
	KEY_A         KeyCode = 0x41
	KEY_B         KeyCode = 0x42
	KEY_C         KeyCode = 0x43
	KEY_D         KeyCode = 0x44
	KEY_E         KeyCode = 0x45
	KEY_F         KeyCode = 0x46
	KEY_G         KeyCode = 0x47
	KEY_H         KeyCode = 0x48
	KEY_I         KeyCode = 0x49
	KEY_J         KeyCode = 0x4A
	KEY_K         KeyCode = 0x4B
	KEY_L         KeyCode = 0x4C
	KEY_M         KeyCode = 0x4D
	KEY_N         KeyCode = 0x4E
	KEY_O         KeyCode = 0x4F
	KEY_P         KeyCode = 0x50
	KEY_Q         KeyCode = 0x51
	KEY_R         KeyCode = 0x52
	KEY_S         KeyCode = 0x53
	KEY_T         KeyCode = 0x54
	KEY_U         KeyCode = 0x55
	KEY_V         KeyCode = 0x56
	KEY_W         KeyCode = 0x57
	KEY_X         KeyCode = 0x58
	KEY_Y         KeyCode = 0x59
	KEY_Z         KeyCode = 0x5A
	KEY_F1        KeyCode = 0x70
	KEY_F2        KeyCode = 0x71
	KEY_F3        KeyCode = 0x72
	KEY_F4        KeyCode = 0x73
	KEY_F5        KeyCode = 0x74

	KEYS_MAX_KEYS KeyCode = 0xFF
)

type keyboardState struct {
	Keys [KEYS_MAX_KEYS]bool
}

type mouseState struct {
	X       int32
	Y       int32
	Buttons [BUTTON_MAX_BUTTONS]bool
}

// Input tracks the current and previous keyboard and mouse state and fires
// events through the owning EventSystem on changes.
type Input struct {
	events           *EventSystem
	KeyboardCurrent  keyboardState
	KeyboardPrevious keyboardState
	MouseCurrent     mouseState
	MousePrevious    mouseState
}

func NewInput(events *EventSystem) *Input {
	return &Input{events: events}
}

// Update copies current states to previous states. Call once per frame.
func (in *Input) Update(deltaTime float64) {
	in.KeyboardPrevious = in.KeyboardCurrent
	in.MousePrevious = in.MouseCurrent
}

// keyboard input
func (in *Input) IsKeyDown(key KeyCode) bool {
	return in.KeyboardCurrent.Keys[key]
}

func (in *Input) IsKeyUp(key KeyCode) bool {
	return !in.KeyboardCurrent.Keys[key]
}

func (in *Input) WasKeyDown(key KeyCode) bool {
	return in.KeyboardPrevious.Keys[key]
}

func (in *Input) WasKeyUp(key KeyCode) bool {
	return !in.KeyboardPrevious.Keys[key]
}

func (in *Input) ProcessKey(key KeyCode, pressed bool) {
	if key >= KEYS_MAX_KEYS || in.KeyboardCurrent.Keys[key] == pressed {
		return
	}
	in.KeyboardCurrent.Keys[key] = pressed

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	in.events.Fire(EventContext{
		Type: code,
		Data: &KeyEvent{
			KeyCode: key,
			Shift:   in.KeyboardCurrent.Keys[KEY_SHIFT],
			Control: in.KeyboardCurrent.Keys[KEY_CONTROL],
		},
	})
}

// mouse input
func (in *Input) IsButtonDown(button Button) bool {
	return in.MouseCurrent.Buttons[button]
}

func (in *Input) WasButtonDown(button Button) bool {
	return in.MousePrevious.Buttons[button]
}

func (in *Input) MousePosition() (int32, int32) {
	return in.MouseCurrent.X, in.MouseCurrent.Y
}

// MouseDelta is the movement since the previous Update.
func (in *Input) MouseDelta() (int32, int32) {
	return in.MouseCurrent.X - in.MousePrevious.X, in.MouseCurrent.Y - in.MousePrevious.Y
}

func (in *Input) ProcessButton(button Button, pressed bool) {
	if button >= BUTTON_MAX_BUTTONS || in.MouseCurrent.Buttons[button] == pressed {
		return
	}
	in.MouseCurrent.Buttons[button] = pressed

	code := EVENT_CODE_BUTTON_RELEASED
	if pressed {
		code = EVENT_CODE_BUTTON_PRESSED
	}
	in.events.Fire(EventContext{
		Type: code,
		Data: &MouseEvent{
			Button: button,
			PosX:   in.MouseCurrent.X,
			PosY:   in.MouseCurrent.Y,
		},
	})
}

func (in *Input) ProcessMouseMove(x, y int32) {
	if in.MouseCurrent.X == x && in.MouseCurrent.Y == y {
		return
	}
	dx, dy := x-in.MouseCurrent.X, y-in.MouseCurrent.Y
	in.MouseCurrent.X = x
	in.MouseCurrent.Y = y

	in.events.Fire(EventContext{
		Type: EVENT_CODE_MOUSE_MOVED,
		Data: &MouseEvent{
			PosX:   x,
			PosY:   y,
			DeltaX: dx,
			DeltaY: dy,
		},
	})
}

func (in *Input) ProcessMouseWheel(zDelta int8) {
	in.events.Fire(EventContext{
		Type: EVENT_CODE_MOUSE_WHEEL,
		Data: &MouseEvent{
			Scroll: zDelta,
		},
	})
}
