package services

import (
	"sync"

	"github.com/google/uuid"
)

// ChannelOccupancy reports which users currently hold a live connection in
// a conversation's channel. The websocket hub implements it; tests use
// fakes.
type ChannelOccupancy interface {
	ActiveUsers(conversationID uuid.UUID) []uuid.UUID
}

// keyedMutex serializes multi-step mutations per conversation. Handlers
// for different conversations proceed concurrently; two sends into the
// same conversation do not interleave across their read-then-write steps.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*conversationLock
}

type conversationLock struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*conversationLock)}
}

func (k *keyedMutex) Lock(key uuid.UUID) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &conversationLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
}

func (k *keyedMutex) Unlock(key uuid.UUID) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if ok {
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
	}
	k.mu.Unlock()

	if ok {
		l.Unlock()
	}
}
