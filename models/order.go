package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UserImageOrder holds the per-user display order of image ids. It is a view
// index over the images collection, not a source of truth for existence: an id
// here may point at a deleted image after a partial failure, and readers must
// skip such ids. Version guards wholesale reorders against lost updates.
type UserImageOrder struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	OwnerID   primitive.ObjectID   `bson:"owner_id" json:"owner_id"`
	ImageIDs  []primitive.ObjectID `bson:"image_ids" json:"image_ids"`
	Version   int64                `bson:"version" json:"version"`
	CreatedAt time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at" json:"updated_at"`
}
