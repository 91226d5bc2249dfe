package users

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrUserNotFound indicates no user document exists for the requested id.
var ErrUserNotFound = errors.New("users: user not found")

// ErrInvalidUserID indicates an empty provider user id.
var ErrInvalidUserID = errors.New("users: invalid user id")

// User is a guestbook author keyed by the provider-issued user id.
type User struct {
	ID              string    `gorm:"column:id;primaryKey;size:64;not null" firestore:"-" json:"id"`
	Nickname        string    `gorm:"column:nickname;size:190;not null" firestore:"nickname" json:"nickname"`
	ProfileImageURL string    `gorm:"column:profile_image_url;size:512" firestore:"profileImageUrl" json:"profileImageUrl"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime" firestore:"createdAt,omitempty" json:"-"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// Repository persists users. Find returns ErrUserNotFound when the id is unknown.
type Repository interface {
	Find(ctx context.Context, id string) (User, error)
	Create(ctx context.Context, user User) error
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
