package firestore

import (
	"context"
	"fmt"

	fs "cloud.google.com/go/firestore"
	"github.com/serandev/seran-sjune/internal/users"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UserRepository keeps one document per provider user id.
type UserRepository struct {
	collection *fs.CollectionRef
}

func NewUserRepository(client *fs.Client) (*UserRepository, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore: client required")
	}
	return &UserRepository{collection: client.Collection(usersCollection)}, nil
}

func (r *UserRepository) Find(ctx context.Context, id string) (users.User, error) {
	snapshot, err := r.collection.Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return users.User{}, users.ErrUserNotFound
	}
	if err != nil {
		return users.User{}, err
	}
	var user users.User
	if err := snapshot.DataTo(&user); err != nil {
		return users.User{}, fmt.Errorf("firestore: decode user %s: %w", id, err)
	}
	user.ID = snapshot.Ref.ID
	return user, nil
}

func (r *UserRepository) Create(ctx context.Context, user users.User) error {
	_, err := r.collection.Doc(user.ID).Set(ctx, map[string]interface{}{
		"nickname":        user.Nickname,
		"profileImageUrl": user.ProfileImageURL,
		"createdAt":       fs.ServerTimestamp,
	})
	return err
}
