// internal/users/resolver.go
// Resolves a client-supplied identifier (document id or username) to a user.
// DM initiation accepts either form, so the distinction is made here once.

package users

import (
	"context"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,50}$`)
)

// Resolver maps an id-or-username identifier to a canonical user record
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve looks up a user by 24-hex id, or by username with an optional
// leading "@". Returns ErrUserNotFound when nothing matches.
func (r *Resolver) Resolve(ctx context.Context, identifier string) (*User, error) {
	value := strings.TrimSpace(identifier)
	if value == "" {
		return nil, ErrUserNotFound
	}

	if objectIDPattern.MatchString(value) {
		id, err := primitive.ObjectIDFromHex(value)
		if err != nil {
			return nil, ErrUserNotFound
		}
		return r.repo.FindByID(ctx, id)
	}

	username := strings.TrimPrefix(value, "@")
	if !usernamePattern.MatchString(username) {
		return nil, ErrUserNotFound
	}
	return r.repo.FindByUsername(ctx, username)
}
