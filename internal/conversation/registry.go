package conversation

import (
	"errors"
	"sync"
	"time"
)

// ErrAlreadyActive is returned by Begin when the chat already has a conversation.
var ErrAlreadyActive = errors.New("conversation: already active")

type chatLock struct {
	mu   sync.Mutex
	refs int
}

// Registry maps chat IDs to live conversations.
// Its mutex guards the maps only and is never held across network calls.
type Registry struct {
	mu      sync.Mutex
	convs   map[int64]*Conversation
	locks   map[int64]*chatLock
	expired map[int64]time.Time
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		convs:   make(map[int64]*Conversation),
		locks:   make(map[int64]*chatLock),
		expired: make(map[int64]time.Time),
		now:     time.Now,
	}
}

// Begin creates a conversation in AwaitingPhone.
func (r *Registry) Begin(chatID int64) (*Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[chatID]; ok {
		return nil, ErrAlreadyActive
	}
	now := r.now()
	c := &Conversation{
		ChatID:       chatID,
		State:        AwaitingPhone,
		StartedAt:    now,
		lastActivity: now,
	}
	r.convs[chatID] = c
	delete(r.expired, chatID)
	return c, nil
}

func (r *Registry) Get(chatID int64) (*Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[chatID]
	return c, ok
}

// End removes the chat's conversation. Removing a missing chat is a no-op.
func (r *Registry) End(chatID int64) {
	r.mu.Lock()
	delete(r.convs, chatID)
	r.mu.Unlock()
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

// Chats returns a snapshot of chat IDs with live conversations.
func (r *Registry) Chats() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, 0, len(r.convs))
	for id := range r.convs {
		out = append(out, id)
	}
	return out
}

// Touch records activity for the chat's conversation.
func (r *Registry) Touch(chatID int64) {
	r.mu.Lock()
	if c, ok := r.convs[chatID]; ok {
		c.lastActivity = r.now()
	}
	r.mu.Unlock()
}

// LastActivity reports when the chat last made progress.
func (r *Registry) LastActivity(chatID int64) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[chatID]
	if !ok {
		return time.Time{}, false
	}
	return c.lastActivity, true
}

// Idle lists chats with no activity since cutoff.
func (r *Registry) Idle(cutoff time.Time) []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int64
	for id, c := range r.convs {
		if c.lastActivity.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}

// Lock enters the chat's exclusive section and returns its exit.
// Entries are reference counted and dropped when the last holder leaves.
func (r *Registry) Lock(chatID int64) (unlock func()) {
	l := r.acquire(chatID)
	l.mu.Lock()
	return r.exit(chatID, l)
}

// TryLock is Lock without waiting. ok is false when the section is taken.
func (r *Registry) TryLock(chatID int64) (unlock func(), ok bool) {
	l := r.acquire(chatID)
	if !l.mu.TryLock() {
		r.drop(chatID, l)
		return nil, false
	}
	return r.exit(chatID, l), true
}

func (r *Registry) acquire(chatID int64) *chatLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[chatID]
	if !ok {
		l = &chatLock{}
		r.locks[chatID] = l
	}
	l.refs++
	return l
}

func (r *Registry) drop(chatID int64, l *chatLock) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(r.locks, chatID)
	}
}

func (r *Registry) exit(chatID int64, l *chatLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			r.drop(chatID, l)
		})
	}
}

// MarkExpired leaves a tombstone so the next stray message is answered.
func (r *Registry) MarkExpired(chatID int64) {
	r.mu.Lock()
	r.expired[chatID] = r.now()
	r.mu.Unlock()
}

// TakeExpired consumes the chat's tombstone.
func (r *Registry) TakeExpired(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.expired[chatID]
	delete(r.expired, chatID)
	return ok
}

// PruneExpired drops tombstones older than before.
func (r *Registry) PruneExpired(before time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, at := range r.expired {
		if at.Before(before) {
			delete(r.expired, id)
		}
	}
}

func (r *Registry) lockCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}
