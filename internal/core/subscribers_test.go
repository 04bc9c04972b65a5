package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribersEmitInOrder(t *testing.T) {
	var s Subscribers[int]
	var got []string
	s.Subscribe(func(v int) { got = append(got, "a") })
	s.Subscribe(func(v int) { got = append(got, "b") })

	s.Emit(1)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestSubscribersUnsubscribeIsDeterministic(t *testing.T) {
	var s Subscribers[int]
	calls := 0
	unsub := s.Subscribe(func(int) { calls++ })
	keep := 0
	s.Subscribe(func(int) { keep++ })

	s.Emit(1)
	unsub()
	unsub()
	s.Emit(2)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, keep)
	assert.Equal(t, 1, s.Len())
}

func TestSubscribersHandlerMayUnsubscribeItself(t *testing.T) {
	var s Subscribers[string]
	calls := 0
	var unsub func()
	unsub = s.Subscribe(func(string) {
		calls++
		unsub()
	})

	s.Emit("x")
	s.Emit("y")
	assert.Equal(t, 1, calls)
	assert.Zero(t, s.Len())
}
