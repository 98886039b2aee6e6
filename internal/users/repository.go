// internal/users/repository.go

package users

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrUserNotFound = errors.New("user not found")

// Repository is the read-only lookup surface the chat core needs.
// Writes to the users collection happen elsewhere in the platform.
type Repository interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*User, error)
	AllExist(ctx context.Context, ids []primitive.ObjectID) (bool, error)
}
