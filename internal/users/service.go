package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ServiceConfig describes the dependencies required for user storage.
type ServiceConfig struct {
	Repository Repository
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service upserts guestbook users and resolves message authors.
type Service struct {
	repo   Repository
	now    func() time.Time
	logger *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("users: repository required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   cfg.Repository,
		now:    clock,
		logger: logger,
	}, nil
}

// Upsert returns the stored user for externalID, creating it from the provider profile on first login.
// Existing users are returned unchanged; the provider nickname and avatar are not refreshed.
func (s *Service) Upsert(ctx context.Context, externalID, nickname, avatarURL string) (User, error) {
	id := normalize(externalID)
	if id == "" {
		return User{}, ErrInvalidUserID
	}

	existing, err := s.Get(ctx, id)
	if err == nil {
		s.logger.Debug("existing user signed in", zap.String("user_id", id))
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	user := User{
		ID:              id,
		Nickname:        normalize(nickname),
		ProfileImageURL: normalize(avatarURL),
		CreatedAt:       s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, fmt.Errorf("users: create %s: %w", id, err)
	}
	s.logger.Info("user created", zap.String("user_id", id))
	return user, nil
}

// Get loads a user by provider id from the repository. A deleted user is ErrUserNotFound
// on the very next call; callers that resolve many ids dedupe per request.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	key := normalize(id)
	if key == "" {
		return User{}, ErrInvalidUserID
	}

	user, err := s.repo.Find(ctx, key)
	if err != nil {
		return User{}, err
	}
	if user.ID == "" {
		user.ID = key
	}
	return user, nil
}
