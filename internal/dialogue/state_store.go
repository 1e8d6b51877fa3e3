// Package dialogue implements the per-phone SMS ordering conversation: the
// stage state machine, the command interpreter, and the conversation state
// store that backs them.
package dialogue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/brewtap/brewtap/internal/models"
	"github.com/brewtap/brewtap/internal/store"
)

// ConversationStore keeps one ConversationState per phone number behind a
// write-through cache. It is injected, never package-global, so each process
// scope owns its own cache.
//
// Durable writes are deliberately best-effort and use the store's own
// connection, isolated from any order-commit transaction: losing a state
// write must never roll back a committed order, and vice versa.
type ConversationStore struct {
	mu    sync.RWMutex
	cache map[string]models.ConversationState
	store store.Store
	now   func() time.Time
}

// NewConversationStore creates a conversation store over the given backend.
func NewConversationStore(st store.Store) *ConversationStore {
	return &ConversationStore{
		cache: make(map[string]models.ConversationState),
		store: st,
		now:   time.Now,
	}
}

// Get returns the state for phone, reading through to the durable store on a
// cache miss. A phone with no active conversation gets the zero state.
func (s *ConversationStore) Get(phone string) models.ConversationState {
	s.mu.RLock()
	state, ok := s.cache[phone]
	s.mu.RUnlock()
	if ok {
		return cloneState(state)
	}

	persisted, err := s.store.GetConversationState(phone)
	if err != nil {
		slog.Error("ConversationStore read-through failed, using empty state", "error", err, "phone", phone)
	}
	if persisted == nil {
		return models.ConversationState{Phone: phone, Scratch: map[string]string{}}
	}

	s.mu.Lock()
	s.cache[phone] = *persisted
	s.mu.Unlock()
	return cloneState(*persisted)
}

// Set transitions phone to stage with a full scratch replacement. It is the
// only mutation path: the message counter increments and the interaction
// timestamp updates on every call, and no residual scratch fields survive
// from prior stages unless the caller copies them forward.
func (s *ConversationStore) Set(phone string, stage models.Stage, scratch map[string]string) models.ConversationState {
	if scratch == nil {
		scratch = map[string]string{}
	}
	now := s.now()

	s.mu.Lock()
	state, ok := s.cache[phone]
	if !ok {
		if persisted, err := s.store.GetConversationState(phone); err == nil && persisted != nil {
			state = *persisted
		}
	}
	state.Phone = phone
	state.Stage = stage
	state.Scratch = scratch
	state.MessageCount++
	state.LastInteraction = now
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	s.cache[phone] = state
	s.mu.Unlock()

	if err := s.store.SaveConversationState(state); err != nil {
		// Best-effort: the cache carries the conversation forward.
		slog.Error("ConversationStore durable write failed", "error", err, "phone", phone, "stage", stage)
	}
	slog.Debug("ConversationStore transition", "phone", phone, "stage", stage, "message_count", state.MessageCount)
	return cloneState(state)
}

// Clear removes all conversation state for phone.
func (s *ConversationStore) Clear(phone string) {
	s.mu.Lock()
	delete(s.cache, phone)
	s.mu.Unlock()
	if err := s.store.DeleteConversationState(phone); err != nil {
		slog.Error("ConversationStore durable delete failed", "error", err, "phone", phone)
	}
}

func cloneState(in models.ConversationState) models.ConversationState {
	out := in
	out.Scratch = make(map[string]string, len(in.Scratch))
	for k, v := range in.Scratch {
		out.Scratch[k] = v
	}
	return out
}
