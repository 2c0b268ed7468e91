package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"image-gallery-platform/models"
)

// MongoImageStore persists individual image records. It knows nothing about
// display order.
type MongoImageStore struct {
	imagesCollection *mongo.Collection
}

func NewMongoImageStore(db *mongo.Database) *MongoImageStore {
	return &MongoImageStore{
		imagesCollection: db.Collection("images"),
	}
}

func (s *MongoImageStore) Insert(ctx context.Context, image *models.Image) error {
	now := time.Now()
	if image.ID.IsZero() {
		image.ID = primitive.NewObjectID()
	}
	image.CreatedAt = now
	image.UpdatedAt = now

	if _, err := s.imagesCollection.InsertOne(ctx, image); err != nil {
		return fmt.Errorf("failed to insert image record: %w", err)
	}
	return nil
}

func (s *MongoImageStore) InsertMany(ctx context.Context, images []*models.Image) error {
	if len(images) == 0 {
		return nil
	}

	now := time.Now()
	docs := make([]interface{}, 0, len(images))
	for _, image := range images {
		if image.ID.IsZero() {
			image.ID = primitive.NewObjectID()
		}
		image.CreatedAt = now
		image.UpdatedAt = now
		docs = append(docs, image)
	}

	if _, err := s.imagesCollection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert image records: %w", err)
	}
	return nil
}

func (s *MongoImageStore) ByID(ctx context.Context, id primitive.ObjectID) (*models.Image, error) {
	var image models.Image
	err := s.imagesCollection.FindOne(ctx, bson.M{"_id": id}).Decode(&image)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up image: %w", err)
	}
	return &image, nil
}

// ByIDs fetches the records for the given ids in a single query. Ids with no
// backing record are simply absent from the result - callers decide what a
// missing record means.
func (s *MongoImageStore) ByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*models.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := s.imagesCollection.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch images: %w", err)
	}
	defer cursor.Close(ctx)

	var images []*models.Image
	if err := cursor.All(ctx, &images); err != nil {
		return nil, fmt.Errorf("failed to decode images: %w", err)
	}
	return images, nil
}

func (s *MongoImageStore) ByOwner(ctx context.Context, ownerID primitive.ObjectID) ([]*models.Image, error) {
	cursor, err := s.imagesCollection.Find(ctx, bson.M{"owner_id": ownerID})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch images for owner: %w", err)
	}
	defer cursor.Close(ctx)

	var images []*models.Image
	if err := cursor.All(ctx, &images); err != nil {
		return nil, fmt.Errorf("failed to decode images: %w", err)
	}
	return images, nil
}

// TitleExists reports whether the owner already has an image with the given
// title. exclude, when non-nil, skips that record so renames don't collide
// with themselves.
func (s *MongoImageStore) TitleExists(ctx context.Context, ownerID primitive.ObjectID, title string, exclude *primitive.ObjectID) (bool, error) {
	filter := bson.M{"owner_id": ownerID, "title": title}
	if exclude != nil {
		filter["_id"] = bson.M{"$ne": *exclude}
	}

	count, err := s.imagesCollection.CountDocuments(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("failed to check title uniqueness: %w", err)
	}
	return count > 0, nil
}

func (s *MongoImageStore) UpdateTitle(ctx context.Context, id primitive.ObjectID, title string) (*models.Image, error) {
	update := bson.M{"$set": bson.M{"title": title, "updated_at": time.Now()}}
	result, err := s.imagesCollection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update image title: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return s.ByID(ctx, id)
}

func (s *MongoImageStore) UpdateKey(ctx context.Context, id primitive.ObjectID, s3key string) error {
	update := bson.M{"$set": bson.M{"s3key": s3key, "updated_at": time.Now()}}
	result, err := s.imagesCollection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to update image storage key: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoImageStore) Delete(ctx context.Context, id primitive.ObjectID) error {
	result, err := s.imagesCollection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete image: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
