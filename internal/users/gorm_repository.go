package users

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRepository stores users in a relational table.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository wraps a gorm handle.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	return &GormRepository{db: db}, nil
}

// Find loads a user by provider id.
func (r *GormRepository) Find(ctx context.Context, id string) (User, error) {
	var user User
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Create inserts a new user; an existing row with the same id is overwritten.
func (r *GormRepository) Create(ctx context.Context, user User) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&user).
		Error
}
