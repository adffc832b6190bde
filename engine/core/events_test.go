package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventRegisterAndFire(t *testing.T) {
	es := NewEventSystem()
	var got []KeyCode
	listener := &struct{}{}

	assert.True(t, es.Register(EVENT_CODE_KEY_PRESSED, listener, func(ctx EventContext) bool {
		got = append(got, ctx.Data.(*KeyEvent).KeyCode)
		return true
	}))
	assert.False(t, es.Register(EVENT_CODE_KEY_PRESSED, listener, func(EventContext) bool { return false }))

	in := NewInput(es)
	in.ProcessKey(KEY_W, true)
	in.ProcessKey(KEY_W, true)
	in.ProcessKey(KEY_W, false)

	assert.Equal(t, []KeyCode{KEY_W}, got)
	assert.True(t, es.Unregister(EVENT_CODE_KEY_PRESSED, listener))
	assert.False(t, es.Fire(EventContext{Type: EVENT_CODE_KEY_PRESSED, Data: &KeyEvent{}}))
}

func TestInputMouseDelta(t *testing.T) {
	in := NewInput(NewEventSystem())
	in.ProcessMouseMove(10, 20)
	in.Update(0)
	in.ProcessMouseMove(15, 18)

	dx, dy := in.MouseDelta()
	assert.Equal(t, int32(5), dx)
	assert.Equal(t, int32(-2), dy)

	in.ProcessButton(BUTTON_RIGHT, true)
	assert.True(t, in.IsButtonDown(BUTTON_RIGHT))
	assert.False(t, in.WasButtonDown(BUTTON_RIGHT))
}
