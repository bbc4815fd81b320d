package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ripple-chat/internal/domain"
	"ripple-chat/internal/presence"
	"ripple-chat/internal/repository"
	ripple_errors "ripple-chat/pkg/errors"
	"ripple-chat/pkg/events"
)

type UserService struct {
	users   repository.UserRepository
	tracker *presence.Tracker
	sink    events.Sink
	logger  *zap.Logger
}

func NewUserService(users repository.UserRepository, tracker *presence.Tracker, sink events.Sink) *UserService {
	return &UserService{
		users:   users,
		tracker: tracker,
		sink:    sink,
		logger:  zap.L().With(zap.String("component", "user_service")),
	}
}

func (s *UserService) Get(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *UserService) Search(ctx context.Context, query string, limit int) ([]domain.User, error) {
	if query == "" {
		return nil, ripple_errors.ErrInvalidPayload
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	return s.users.SearchUsers(ctx, query, limit)
}

// SetStatus handles an explicit user:status-update from the client,
// independent of connection-driven presence.
func (s *UserService) SetStatus(ctx context.Context, userID uuid.UUID, status domain.UserStatus) error {
	if status != domain.UserOnline && status != domain.UserOffline {
		return ripple_errors.ErrInvalidPayload
	}
	now := time.Now()
	if err := s.users.UpdateStatus(ctx, userID, status, now); err != nil {
		return err
	}
	event := events.EventUserOffline
	if status == domain.UserOnline {
		event = events.EventUserOnline
	}
	s.sink.ToAll(ctx, events.New(event, presence.StatusPayload{
		UserID:     userID,
		Status:     status,
		LastActive: now,
	}))
	return nil
}

// OnlineUsers returns the currently connected users as full records.
func (s *UserService) OnlineUsers(ctx context.Context) ([]domain.User, error) {
	ids := s.tracker.OnlineUsers(ctx)
	if len(ids) == 0 {
		return []domain.User{}, nil
	}
	return s.users.GetByIDs(ctx, ids)
}
