// internal/users/models.go

package users

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the account document as the chat core sees it. Registration and
// profile editing are owned by another part of the platform.
type User struct {
	ID         primitive.ObjectID `bson:"_id" json:"_id"`
	Name       string             `bson:"name" json:"name"`
	Username   string             `bson:"username" json:"username"`
	ProfilePic *string            `bson:"profilePic,omitempty" json:"profilePic,omitempty"`
	CreatedAt  time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Summary is the participant/sender shape embedded in chat responses
type Summary struct {
	ID         primitive.ObjectID `bson:"_id" json:"_id"`
	Name       string             `bson:"name" json:"name"`
	Username   string             `bson:"username" json:"username"`
	ProfilePic *string            `bson:"profilePic,omitempty" json:"profilePic"`
}

// Summary returns the reduced shape safe to embed in API payloads
func (u *User) Summary() *Summary {
	if u == nil {
		return nil
	}
	return &Summary{
		ID:         u.ID,
		Name:       u.Name,
		Username:   u.Username,
		ProfilePic: u.ProfilePic,
	}
}
