package services

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"image-gallery-platform/models"
)

// MongoOrderList maintains the per-user ordered sequence of image ids in the
// user_image_orders collection. One document per owner; the document is
// created lazily on first append or first reorder.
//
// Append and Remove are single atomic document updates. Replace is guarded by
// a version field so a wholesale reorder cannot silently overwrite a write
// that landed after the client read the list.
type MongoOrderList struct {
	ordersCollection *mongo.Collection
}

func NewMongoOrderList(db *mongo.Database) *MongoOrderList {
	return &MongoOrderList{
		ordersCollection: db.Collection("user_image_orders"),
	}
}

// Append adds imageID to the end of the owner's sequence, creating the list
// if absent. Add-to-set semantics: appending an id already in the list is a
// no-op, not a duplicate.
func (s *MongoOrderList) Append(ctx context.Context, ownerID, imageID primitive.ObjectID) error {
	return s.appendMany(ctx, ownerID, []primitive.ObjectID{imageID})
}

// AppendMany adds all ids in one atomic write, preserving their relative
// order. Bulk creates rely on this so a batch is indexed all-or-nothing.
func (s *MongoOrderList) AppendMany(ctx context.Context, ownerID primitive.ObjectID, imageIDs []primitive.ObjectID) error {
	if len(imageIDs) == 0 {
		return nil
	}
	return s.appendMany(ctx, ownerID, imageIDs)
}

func (s *MongoOrderList) appendMany(ctx context.Context, ownerID primitive.ObjectID, imageIDs []primitive.ObjectID) error {
	now := time.Now()
	filter := bson.M{"owner_id": ownerID}
	update := bson.M{
		"$addToSet": bson.M{"image_ids": bson.M{"$each": imageIDs}},
		"$inc":      bson.M{"version": 1},
		"$set":      bson.M{"updated_at": now},
		"$setOnInsert": bson.M{
			"owner_id":   ownerID,
			"created_at": now,
		},
	}

	_, err := s.ordersCollection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to append to order list: %w", err)
	}
	return nil
}

// Remove pulls imageID from the owner's sequence. Removing an absent id, or
// removing from an absent list, is a no-op.
func (s *MongoOrderList) Remove(ctx context.Context, ownerID, imageID primitive.ObjectID) error {
	filter := bson.M{"owner_id": ownerID}
	update := bson.M{
		"$pull": bson.M{"image_ids": imageID},
		"$inc":  bson.M{"version": 1},
		"$set":  bson.M{"updated_at": time.Now()},
	}

	_, err := s.ordersCollection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to remove from order list: %w", err)
	}
	return nil
}

// Replace rewrites the sequence wholesale. expectedVersion must match the
// version read alongside the current list; a stale version yields
// ErrOrderConflict so the caller can re-read and retry. expectedVersion 0
// creates the list.
func (s *MongoOrderList) Replace(ctx context.Context, ownerID primitive.ObjectID, imageIDs []primitive.ObjectID, expectedVersion int64) error {
	now := time.Now()

	if expectedVersion == 0 {
		doc := models.UserImageOrder{
			OwnerID:   ownerID,
			ImageIDs:  imageIDs,
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, err := s.ordersCollection.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			// List appeared between the caller's read and this write.
			return ErrOrderConflict
		}
		if err != nil {
			return fmt.Errorf("failed to create order list: %w", err)
		}
		return nil
	}

	filter := bson.M{"owner_id": ownerID, "version": expectedVersion}
	update := bson.M{
		"$set": bson.M{"image_ids": imageIDs, "updated_at": now},
		"$inc": bson.M{"version": 1},
	}

	result, err := s.ordersCollection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to replace order list: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrOrderConflict
	}
	return nil
}

// Get returns the full id sequence and its version. An absent list reads as
// empty with version 0.
func (s *MongoOrderList) Get(ctx context.Context, ownerID primitive.ObjectID) ([]primitive.ObjectID, int64, error) {
	var order models.UserImageOrder
	err := s.ordersCollection.FindOne(ctx, bson.M{"owner_id": ownerID}).Decode(&order)
	if err == mongo.ErrNoDocuments {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read order list: %w", err)
	}
	return order.ImageIDs, order.Version, nil
}

// GetPage returns the id slice for the 1-based page and the total sequence
// length. Ids are not resolved into records here. A page past the end yields
// an empty slice with the real total, never an error.
func (s *MongoOrderList) GetPage(ctx context.Context, ownerID primitive.ObjectID, page, pageSize int) ([]primitive.ObjectID, int, error) {
	ids, _, err := s.Get(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	return PageSlice(ids, page, pageSize), len(ids), nil
}

// PageSlice computes the window of ids for a 1-based page. Pagination is pure
// position arithmetic over the sequence; out-of-range pages clamp to empty.
func PageSlice(ids []primitive.ObjectID, page, pageSize int) []primitive.ObjectID {
	if page < 1 || pageSize < 1 {
		return nil
	}

	start := (page - 1) * pageSize
	if start >= len(ids) {
		return nil
	}

	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}
	return ids[start:end]
}
