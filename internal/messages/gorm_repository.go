package messages

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// GormRepository stores messages in a relational table.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository wraps a gorm handle.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("messages: database connection required")
	}
	return &GormRepository{db: db}, nil
}

// Insert stores message as given; ID and CreatedAt must already be set.
func (r *GormRepository) Insert(ctx context.Context, message Message) (Message, error) {
	if err := r.db.WithContext(ctx).Create(&message).Error; err != nil {
		return Message{}, err
	}
	return message, nil
}

// ListRecent returns every message, newest first.
func (r *GormRepository) ListRecent(ctx context.Context) ([]Message, error) {
	var stored []Message
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Find(&stored).Error; err != nil {
		return nil, err
	}
	return stored, nil
}
