package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Image is a single gallery image record. Display order is not stored here -
// it lives exclusively in the owner's UserImageOrder document.
type Image struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID   primitive.ObjectID `bson:"owner_id" json:"owner_id"`
	Title     string             `bson:"title" json:"title"`
	S3Key     string             `bson:"s3key" json:"s3key"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updated_at"`
}

// ImageDTO is the API shape of an image. S3Key carries a temporary presigned
// access URL on read paths, never the raw storage key.
type ImageDTO struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	UserID    string    `json:"userId"`
	S3Key     string    `json:"s3key"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type UpdateOrderRequest struct {
	UserID   string   `json:"userId" binding:"required,hexadecimal,len=24"`
	ImageIDs []string `json:"imageIds" binding:"required"`
}

type RenameImageRequest struct {
	Title  string `form:"title" json:"title" binding:"required,min=1,max=200"`
	UserID string `form:"userId" json:"userId" binding:"required,hexadecimal,len=24"`
}

type Pagination struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

type ImageListResponse struct {
	Images     []ImageDTO `json:"images"`
	Pagination Pagination `json:"pagination"`
}
