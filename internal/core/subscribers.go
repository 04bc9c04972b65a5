package core

import "sync"

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Subscribers is an ordered observer list. Each Subscribe returns its own
// unsubscribe func, so handlers never leak across call attempts.
// The zero value is ready to use.
type Subscribers[T any] struct {
	mu   sync.RWMutex
	next uint64
	subs []subscriber[T]
}

func (s *Subscribers[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	s.mu.Lock()
	s.next++
	id := s.next
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Subscribers[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Emit calls every handler in subscription order. Handlers run outside the
// lock and may subscribe or unsubscribe.
func (s *Subscribers[T]) Emit(v T) {
	s.mu.RLock()
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.fn(v)
	}
}

func (s *Subscribers[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Clear drops every handler.
func (s *Subscribers[T]) Clear() {
	s.mu.Lock()
	s.subs = nil
	s.mu.Unlock()
}
