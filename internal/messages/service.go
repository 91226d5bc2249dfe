package messages

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/serandev/seran-sjune/internal/users"
	"go.uber.org/zap"
)

const (
	opServiceNew = "messages.service.new"
	opCreate     = "messages.create"
	opList       = "messages.list"

	defaultFeedRetryDelay = 2 * time.Second
	maxFeedRetryDelay     = 30 * time.Second
)

var (
	errMissingRepository = errors.New("repository is required")
	errMissingAuthors    = errors.New("author directory is required")
	noOpLogger           = zap.NewNop()
)

// ServiceConfig describes the dependencies of the message store.
type ServiceConfig struct {
	Repository Repository
	Authors    AuthorDirectory
	Feed       ChangeFeed
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	// FeedRetryDelay is the first wait before a closed feed is reopened. It doubles up to 30s.
	FeedRetryDelay time.Duration
}

// Service creates and lists guestbook messages and pushes live snapshots.
type Service struct {
	repo       Repository
	authors    AuthorDirectory
	feed       ChangeFeed
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	feedRetry  time.Duration
}

// NewService validates the configuration. A nil Feed installs an in-process Broker.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opServiceNew, "missing_repository", errMissingRepository)
	}
	if cfg.Authors == nil {
		return nil, newServiceError(opServiceNew, "missing_authors", errMissingAuthors)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	feed := cfg.Feed
	if feed == nil {
		feed = NewBroker()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	feedRetry := cfg.FeedRetryDelay
	if feedRetry <= 0 {
		feedRetry = defaultFeedRetryDelay
	}

	return &Service{
		repo:       cfg.Repository,
		authors:    cfg.Authors,
		feed:       feed,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		feedRetry:  feedRetry,
	}, nil
}

// Create stores a message written by userID. The author must exist; content is trimmed and
// stored as given. The timestamp comes from the server clock, never from the caller.
func (s *Service) Create(ctx context.Context, userID, content, ipAddress string) (MessageWithUser, error) {
	author := strings.TrimSpace(userID)
	if author == "" {
		return MessageWithUser{}, newServiceError(opCreate, "missing_user_id", ErrMissingUserID)
	}
	body := strings.TrimSpace(content)
	if body == "" {
		return MessageWithUser{}, newServiceError(opCreate, "empty_content", ErrEmptyContent)
	}

	user, err := s.authors.Get(ctx, author)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return MessageWithUser{}, newServiceError(opCreate, "unknown_user", err)
		}
		s.logError(opCreate, "author_lookup_failed", err, zap.String("user_id", author))
		return MessageWithUser{}, newServiceError(opCreate, "author_lookup_failed", err)
	}

	var id string
	if assigner, ok := s.repo.(IDAssigner); !ok || !assigner.AssignsIDs() {
		id, err = s.idProvider.NewID()
		if err != nil {
			s.logError(opCreate, "id_generation_failed", err)
			return MessageWithUser{}, newServiceError(opCreate, "id_generation_failed", err)
		}
	}

	ip := strings.TrimSpace(ipAddress)
	if ip == "" {
		ip = UnknownIPAddress
	}

	stored, err := s.repo.Insert(ctx, Message{
		ID:        id,
		UserID:    author,
		Content:   body,
		IPAddress: ip,
		CreatedAt: s.clock().UTC(),
	})
	if err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("user_id", author))
		return MessageWithUser{}, newServiceError(opCreate, "insert_failed", err)
	}

	if notifier, ok := s.feed.(interface{ Notify() }); ok {
		notifier.Notify()
	}

	return join(stored, Author{Nickname: user.Nickname, ProfileImageURL: user.ProfileImageURL}), nil
}

// List returns every message newest first, each joined with its author.
// Authors that cannot be resolved are replaced by the placeholder profile.
func (s *Service) List(ctx context.Context) ([]MessageWithUser, error) {
	stored, err := s.repo.ListRecent(ctx)
	if err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	sortNewestFirst(stored)

	resolved := make(map[string]Author)
	result := make([]MessageWithUser, 0, len(stored))
	for _, message := range stored {
		author, ok := resolved[message.UserID]
		if !ok {
			author = s.resolveAuthor(ctx, message.UserID)
			resolved[message.UserID] = author
		}
		result = append(result, join(message, author))
	}
	return result, nil
}

// Subscribe invokes callback with the current list immediately and again after every change.
// Feed or query failures are reported as an empty list. A feed that closes on its own is
// reopened after a backoff and followed by a fresh snapshot. The returned func releases the
// listener; it is also released when ctx ends.
func (s *Service) Subscribe(ctx context.Context, callback func([]MessageWithUser)) func() {
	watchCtx, cancel := context.WithCancel(ctx)
	changes, stopFeed := s.feed.Watch(watchCtx)

	go func() {
		defer func() { stopFeed() }()
		defer cancel()
		s.deliverSnapshot(watchCtx, callback)
		delay := s.feedRetry
		for {
			select {
			case <-watchCtx.Done():
				return
			case change, ok := <-changes:
				if !ok {
					if watchCtx.Err() != nil {
						return
					}
					stopFeed()
					stopFeed = func() {}
					s.logger.Warn("message feed closed, reopening", zap.Duration("delay", delay))
					select {
					case <-watchCtx.Done():
						return
					case <-time.After(delay):
					}
					delay = min(delay*2, maxFeedRetryDelay)
					changes, stopFeed = s.feed.Watch(watchCtx)
					s.deliverSnapshot(watchCtx, callback)
					continue
				}
				if change.Err != nil {
					s.logger.Warn("message feed error", zap.Error(change.Err))
					callback([]MessageWithUser{})
					continue
				}
				delay = s.feedRetry
				s.deliverSnapshot(watchCtx, callback)
			}
		}
	}()

	return cancel
}

func (s *Service) deliverSnapshot(ctx context.Context, callback func([]MessageWithUser)) {
	snapshot, err := s.List(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		callback([]MessageWithUser{})
		return
	}
	callback(snapshot)
}

func (s *Service) resolveAuthor(ctx context.Context, userID string) Author {
	user, err := s.authors.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, users.ErrUserNotFound) {
			s.logger.Warn("author lookup failed", zap.String("user_id", userID), zap.Error(err))
		}
		return PlaceholderAuthor()
	}
	return Author{Nickname: user.Nickname, ProfileImageURL: user.ProfileImageURL}
}

func join(message Message, author Author) MessageWithUser {
	return MessageWithUser{
		ID:        message.ID,
		UserID:    message.UserID,
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
		User:      author,
	}
}

func sortNewestFirst(stored []Message) {
	slices.SortStableFunc(stored, func(a, b Message) int {
		if byTime := b.CreatedAt.Compare(a.CreatedAt); byTime != 0 {
			return byTime
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("messages service error", attrs...)
}
