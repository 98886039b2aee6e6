// internal/users/mongo.go
// MongoDB implementation of the user lookup repository

package users

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type mongoRepository struct {
	users *mongo.Collection
}

// NewMongoRepository creates a repository backed by the users collection
func NewMongoRepository(db *mongo.Database) Repository {
	return &mongoRepository{
		users: db.Collection("users"),
	}
}

func (r *mongoRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*User, error) {
	var user User
	err := r.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &user, nil
}

func (r *mongoRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := r.users.FindOne(ctx, bson.M{"username": username}).Decode(&user)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &user, nil
}

func (r *mongoRepository) FindByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := r.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch users: %w", err)
	}
	defer cursor.Close(ctx)

	var out []*User
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode users: %w", err)
	}
	return out, nil
}

func (r *mongoRepository) AllExist(ctx context.Context, ids []primitive.ObjectID) (bool, error) {
	if len(ids) == 0 {
		return true, nil
	}

	count, err := r.users.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return false, fmt.Errorf("failed to count users: %w", err)
	}
	return count == int64(len(ids)), nil
}
