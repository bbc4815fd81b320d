package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ripple-chat/internal/repository"
	"ripple-chat/internal/domain"
	"ripple-chat/pkg/events"
)

// Counter tracks active connection counts per user. The local
// implementation is process-memory; the redis one shares counts across
// processes.
type Counter interface {
	Increment(ctx context.Context, userID uuid.UUID) (int64, error)
	Decrement(ctx context.Context, userID uuid.UUID) (int64, error)
	Get(ctx context.Context, userID uuid.UUID) (int64, error)
	Online(ctx context.Context) ([]uuid.UUID, error)
}

// LocalCounter is the in-process connection counter.
type LocalCounter struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int64
}

func NewLocalCounter() *LocalCounter {
	return &LocalCounter{counts: make(map[uuid.UUID]int64)}
}

func (c *LocalCounter) Increment(ctx context.Context, userID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[userID]++
	return c.counts[userID], nil
}

func (c *LocalCounter) Decrement(ctx context.Context, userID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counts[userID] - 1
	if n <= 0 {
		delete(c.counts, userID)
		return 0, nil
	}
	c.counts[userID] = n
	return n, nil
}

func (c *LocalCounter) Get(ctx context.Context, userID uuid.UUID) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[userID], nil
}

func (c *LocalCounter) Online(ctx context.Context) ([]uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]uuid.UUID, 0, len(c.counts))
	for userID := range c.counts {
		users = append(users, userID)
	}
	return users, nil
}

// StatusPayload is the user:online / user:offline event body.
type StatusPayload struct {
	UserID     uuid.UUID         `json:"userId"`
	Status     domain.UserStatus `json:"status"`
	LastActive time.Time         `json:"lastActive"`
}

// Tracker derives online/offline transitions from connection counts.
// Only the first connect and the last disconnect of a user broadcast, so
// multi-tab sessions don't flicker. Presence is best-effort: a failed
// status persist is logged and the counter still advances.
type Tracker struct {
	counter Counter
	users   repository.UserRepository
	sink    events.Sink
	logger  *zap.Logger
}

func NewTracker(counter Counter, users repository.UserRepository, sink events.Sink) *Tracker {
	if counter == nil {
		counter = NewLocalCounter()
	}
	return &Tracker{
		counter: counter,
		users:   users,
		sink:    sink,
		logger:  zap.L().With(zap.String("component", "presence")),
	}
}

func (t *Tracker) Connect(ctx context.Context, userID uuid.UUID) {
	count, err := t.counter.Increment(ctx, userID)
	if err != nil {
		t.logger.Error("presence increment failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if count != 1 {
		return
	}

	now := time.Now()
	if err := t.users.UpdateStatus(ctx, userID, domain.UserOnline, now); err != nil {
		t.logger.Error("persist online status failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if t.sink != nil {
		t.sink.ToAll(ctx, events.New(events.EventUserOnline, StatusPayload{
			UserID:     userID,
			Status:     domain.UserOnline,
			LastActive: now,
		}))
	}
}

func (t *Tracker) Disconnect(ctx context.Context, userID uuid.UUID) {
	count, err := t.counter.Decrement(ctx, userID)
	if err != nil {
		t.logger.Error("presence decrement failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	if count != 0 {
		return
	}

	now := time.Now()
	if err := t.users.UpdateStatus(ctx, userID, domain.UserOffline, now); err != nil {
		t.logger.Error("persist offline status failed", zap.String("user_id", userID.String()), zap.Error(err))
	}
	if t.sink != nil {
		t.sink.ToAll(ctx, events.New(events.EventUserOffline, StatusPayload{
			UserID:     userID,
			Status:     domain.UserOffline,
			LastActive: now,
		}))
	}
}

func (t *Tracker) IsOnline(ctx context.Context, userID uuid.UUID) bool {
	count, err := t.counter.Get(ctx, userID)
	if err != nil {
		return false
	}
	return count > 0
}

func (t *Tracker) OnlineUsers(ctx context.Context) []uuid.UUID {
	users, err := t.counter.Online(ctx)
	if err != nil {
		t.logger.Error("list online users failed", zap.Error(err))
		return nil
	}
	return users
}
