package messages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/serandev/seran-sjune/internal/users"
)

const (
	// UnknownIPAddress is stored when the client address cannot be determined.
	UnknownIPAddress = "unknown"
	// PlaceholderNickname is shown for messages whose author can no longer be resolved.
	PlaceholderNickname = "알 수 없는 사용자"
	// PlaceholderProfileImageURL accompanies PlaceholderNickname.
	PlaceholderProfileImageURL = "https://via.placeholder.com/40?text=?"
)

var (
	// ErrMissingUserID indicates a create request without an author.
	ErrMissingUserID = errors.New("messages: user id is required")
	// ErrEmptyContent indicates a create request whose content is blank after trimming.
	ErrEmptyContent = errors.New("messages: content is required")
)

// Message is a persisted guestbook entry.
type Message struct {
	ID        string    `gorm:"column:id;primaryKey;size:64;not null" firestore:"-"`
	UserID    string    `gorm:"column:user_id;size:64;not null;index" firestore:"userId"`
	Content   string    `gorm:"column:content;type:text;not null" firestore:"content"`
	IPAddress string    `gorm:"column:ip_address;size:64;not null;default:''" firestore:"ipAddress"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_messages_created_at" firestore:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}

// Author is the public profile embedded in a rendered message.
type Author struct {
	Nickname        string `json:"nickname"`
	ProfileImageURL string `json:"profileImageUrl"`
}

// PlaceholderAuthor is substituted when a message author is missing.
func PlaceholderAuthor() Author {
	return Author{Nickname: PlaceholderNickname, ProfileImageURL: PlaceholderProfileImageURL}
}

// MessageWithUser is a message joined with its author's profile. The ip address is never exposed.
type MessageWithUser struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	User      Author    `json:"user"`
}

// Repository persists messages. ListRecent returns messages newest first.
type Repository interface {
	Insert(ctx context.Context, message Message) (Message, error)
	ListRecent(ctx context.Context) ([]Message, error)
}

// IDAssigner is implemented by repositories whose store generates message ids on insert.
type IDAssigner interface {
	AssignsIDs() bool
}

// AuthorDirectory resolves message authors.
type AuthorDirectory interface {
	Get(ctx context.Context, id string) (users.User, error)
}

// Change signals that the message collection may have changed. Err is set when the feed failed.
type Change struct {
	Err error
}

// ChangeFeed delivers change signals until ctx is done or the returned stop func is called.
type ChangeFeed interface {
	Watch(ctx context.Context) (<-chan Change, func())
}

// ServiceError carries a stable code of the form messages.<operation>.<reason>.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ErrorCode extracts the ServiceError code from err, or "" if there is none.
func ErrorCode(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
