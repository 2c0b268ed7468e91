package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"image-gallery-platform/internal/logger"
	"image-gallery-platform/models"
)

// ImageStore persists image records.
type ImageStore interface {
	Insert(ctx context.Context, image *models.Image) error
	InsertMany(ctx context.Context, images []*models.Image) error
	ByID(ctx context.Context, id primitive.ObjectID) (*models.Image, error)
	ByIDs(ctx context.Context, ids []primitive.ObjectID) ([]*models.Image, error)
	ByOwner(ctx context.Context, ownerID primitive.ObjectID) ([]*models.Image, error)
	TitleExists(ctx context.Context, ownerID primitive.ObjectID, title string, exclude *primitive.ObjectID) (bool, error)
	UpdateTitle(ctx context.Context, id primitive.ObjectID, title string) (*models.Image, error)
	UpdateKey(ctx context.Context, id primitive.ObjectID, s3key string) error
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// OrderList maintains the per-user display order of image ids.
type OrderList interface {
	Append(ctx context.Context, ownerID, imageID primitive.ObjectID) error
	AppendMany(ctx context.Context, ownerID primitive.ObjectID, imageIDs []primitive.ObjectID) error
	Remove(ctx context.Context, ownerID, imageID primitive.ObjectID) error
	Replace(ctx context.Context, ownerID primitive.ObjectID, imageIDs []primitive.ObjectID, expectedVersion int64) error
	Get(ctx context.Context, ownerID primitive.ObjectID) ([]primitive.ObjectID, int64, error)
	GetPage(ctx context.Context, ownerID primitive.ObjectID, page, pageSize int) ([]primitive.ObjectID, int, error)
}

// MediaGateway stores files and resolves storage keys to temporary URLs.
type MediaGateway interface {
	Upload(ctx context.Context, file io.Reader, size int64, mimeType, originalName string) (string, error)
	AccessURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// UploadFile is one incoming multipart file.
type UploadFile struct {
	Reader       io.Reader
	Size         int64
	MimeType     string
	OriginalName string
}

// ImageService is the single orchestration point over the image store, the
// order list and the media gateway. It enforces per-owner title uniqueness
// and keeps the order list consistent with the records it references.
//
// Record and index writes are not transactional across the two collections.
// A record that exists but was never indexed, or an id lingering in the list
// after a delete, is tolerated by the read path and repaired by the
// Reconciler - never rolled back here.
type ImageService struct {
	store   ImageStore
	orders  OrderList
	gateway MediaGateway
}

func NewImageService(store ImageStore, orders OrderList, gateway MediaGateway) *ImageService {
	return &ImageService{
		store:   store,
		orders:  orders,
		gateway: gateway,
	}
}

// CreateImage uploads the file, creates the record and appends its id to the
// owner's order list.
func (s *ImageService) CreateImage(ctx context.Context, ownerID primitive.ObjectID, title string, file UploadFile) (*models.ImageDTO, error) {
	exists, err := s.store.TitleExists(ctx, ownerID, title, nil)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateTitle, title)
	}

	key, err := s.gateway.Upload(ctx, file.Reader, file.Size, file.MimeType, file.OriginalName)
	if err != nil {
		return nil, err
	}

	image := &models.Image{
		OwnerID: ownerID,
		Title:   title,
		S3Key:   key,
	}
	if err := s.store.Insert(ctx, image); err != nil {
		if delErr := s.gateway.Delete(ctx, key); delErr != nil {
			logger.Warn("Failed to clean up object after insert failure", "key", key, "error", delErr)
		}
		return nil, err
	}

	if err := s.orders.Append(ctx, ownerID, image.ID); err != nil {
		// The record exists but is not in any visible order yet. The
		// reconciler re-indexes it on its next pass.
		logger.Error("Failed to index new image in order list",
			"owner_id", ownerID.Hex(), "image_id", image.ID.Hex(), "error", err)
	}

	return s.toDTO(ctx, image), nil
}

// CreateImages is the bulk variant. The whole batch is validated up front,
// every file is uploaded, then records are inserted and indexed with a single
// atomic order-list write. A count mismatch or a duplicate title anywhere in
// the batch persists nothing.
func (s *ImageService) CreateImages(ctx context.Context, ownerID primitive.ObjectID, titles []string, files []UploadFile) ([]models.ImageDTO, error) {
	if len(titles) != len(files) {
		return nil, fmt.Errorf("%w: %d titles, %d files", ErrCountMismatch, len(titles), len(files))
	}
	if len(titles) == 0 {
		return []models.ImageDTO{}, nil
	}

	seen := make(map[string]struct{}, len(titles))
	for _, title := range titles {
		if _, dup := seen[title]; dup {
			return nil, fmt.Errorf("%w: %q appears twice in batch", ErrDuplicateTitle, title)
		}
		seen[title] = struct{}{}

		exists, err := s.store.TitleExists(ctx, ownerID, title, nil)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTitle, title)
		}
	}

	keys := make([]string, 0, len(files))
	cleanup := func() {
		for _, key := range keys {
			if err := s.gateway.Delete(ctx, key); err != nil {
				logger.Warn("Failed to clean up object after batch failure", "key", key, "error", err)
			}
		}
	}

	for _, file := range files {
		key, err := s.gateway.Upload(ctx, file.Reader, file.Size, file.MimeType, file.OriginalName)
		if err != nil {
			cleanup()
			return nil, err
		}
		keys = append(keys, key)
	}

	images := make([]*models.Image, 0, len(titles))
	for i, title := range titles {
		images = append(images, &models.Image{
			OwnerID: ownerID,
			Title:   title,
			S3Key:   keys[i],
		})
	}
	if err := s.store.InsertMany(ctx, images); err != nil {
		cleanup()
		return nil, err
	}

	ids := make([]primitive.ObjectID, 0, len(images))
	for _, image := range images {
		ids = append(ids, image.ID)
	}
	if err := s.orders.AppendMany(ctx, ownerID, ids); err != nil {
		logger.Error("Failed to index image batch in order list",
			"owner_id", ownerID.Hex(), "count", len(ids), "error", err)
	}

	dtos := make([]models.ImageDTO, 0, len(images))
	for _, image := range images {
		dtos = append(dtos, *s.toDTO(ctx, image))
	}
	return dtos, nil
}

// GetImagesInOrder returns one page of the owner's images in list order. Ids
// with no backing record are silently skipped; the reported total is the
// nominal list length, not the resolved count, so pagination stays stable
// while the reconciler catches up.
func (s *ImageService) GetImagesInOrder(ctx context.Context, ownerID primitive.ObjectID, page, limit int) (*models.ImageListResponse, error) {
	pageIDs, total, err := s.orders.GetPage(ctx, ownerID, page, limit)
	if err != nil {
		return nil, err
	}

	records, err := s.store.ByIDs(ctx, pageIDs)
	if err != nil {
		return nil, err
	}

	byID := make(map[primitive.ObjectID]*models.Image, len(records))
	for _, record := range records {
		byID[record.ID] = record
	}

	images := make([]models.ImageDTO, 0, len(pageIDs))
	for _, id := range pageIDs {
		record, ok := byID[id]
		if !ok {
			// Dangling id: deleted record still referenced by the list.
			logger.Debug("Skipping dangling image id", "owner_id", ownerID.Hex(), "image_id", id.Hex())
			continue
		}

		url, err := s.gateway.AccessURL(ctx, record.S3Key)
		if err != nil {
			return nil, err
		}

		dto := mapImage(record)
		dto.S3Key = url
		images = append(images, dto)
	}

	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}

	return &models.ImageListResponse{
		Images: images,
		Pagination: models.Pagination{
			Total:      total,
			Page:       page,
			Limit:      limit,
			TotalPages: totalPages,
		},
	}, nil
}

// UpdateOrder replaces the owner's display order. The submitted ids must be a
// permutation of the current list (ErrInvalidOrder otherwise) and every id
// with a backing record must belong to the owner (ErrForbidden otherwise).
// The versioned replace is retried once on conflict.
func (s *ImageService) UpdateOrder(ctx context.Context, ownerID primitive.ObjectID, imageIDs []primitive.ObjectID) error {
	for attempt := 0; attempt < 2; attempt++ {
		current, version, err := s.orders.Get(ctx, ownerID)
		if err != nil {
			return err
		}

		if !sameIDMultiset(current, imageIDs) {
			return ErrInvalidOrder
		}

		records, err := s.store.ByIDs(ctx, imageIDs)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.OwnerID != ownerID {
				return fmt.Errorf("%w: image %s", ErrForbidden, record.ID.Hex())
			}
		}

		err = s.orders.Replace(ctx, ownerID, imageIDs, version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrOrderConflict) {
			return err
		}
	}
	return ErrOrderConflict
}

// RenameImage updates the title and, when a replacement file is supplied,
// swaps the stored object.
func (s *ImageService) RenameImage(ctx context.Context, imageID, ownerID primitive.ObjectID, newTitle string, replacement *UploadFile) (*models.ImageDTO, error) {
	image, err := s.store.ByID(ctx, imageID)
	if err != nil {
		return nil, err
	}
	if image.OwnerID != ownerID {
		return nil, fmt.Errorf("%w: image %s", ErrForbidden, imageID.Hex())
	}

	exists, err := s.store.TitleExists(ctx, ownerID, newTitle, &imageID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateTitle, newTitle)
	}

	if replacement != nil {
		newKey, err := s.gateway.Upload(ctx, replacement.Reader, replacement.Size, replacement.MimeType, replacement.OriginalName)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateKey(ctx, imageID, newKey); err != nil {
			if delErr := s.gateway.Delete(ctx, newKey); delErr != nil {
				logger.Warn("Failed to clean up replacement object", "key", newKey, "error", delErr)
			}
			return nil, err
		}
		if err := s.gateway.Delete(ctx, image.S3Key); err != nil {
			logger.Warn("Failed to delete replaced object", "key", image.S3Key, "error", err)
		}
	}

	updated, err := s.store.UpdateTitle(ctx, imageID, newTitle)
	if err != nil {
		return nil, err
	}
	return s.toDTO(ctx, updated), nil
}

// DeleteImage removes the record, prunes the id from the owner's order list
// and deletes the stored object. Prune and object deletion are best-effort:
// a lingering id is absorbed by the read path until the reconciler drops it.
func (s *ImageService) DeleteImage(ctx context.Context, imageID, requesterID primitive.ObjectID) error {
	image, err := s.store.ByID(ctx, imageID)
	if err != nil {
		return err
	}
	if image.OwnerID != requesterID {
		return fmt.Errorf("%w: image %s", ErrForbidden, imageID.Hex())
	}

	if err := s.store.Delete(ctx, imageID); err != nil {
		return err
	}

	if err := s.orders.Remove(ctx, image.OwnerID, imageID); err != nil {
		logger.Error("Failed to prune deleted image from order list",
			"owner_id", image.OwnerID.Hex(), "image_id", imageID.Hex(), "error", err)
	}

	if err := s.gateway.Delete(ctx, image.S3Key); err != nil {
		logger.Warn("Failed to delete stored object", "key", image.S3Key, "error", err)
	}

	return nil
}

// toDTO maps a record and swaps the storage key for a temporary access URL.
// If presigning fails the raw key is kept so a successful write is not
// reported as an error.
func (s *ImageService) toDTO(ctx context.Context, image *models.Image) *models.ImageDTO {
	dto := mapImage(image)
	if url, err := s.gateway.AccessURL(ctx, image.S3Key); err == nil {
		dto.S3Key = url
	} else {
		logger.Warn("Failed to presign access URL", "key", image.S3Key, "error", err)
	}
	return &dto
}

func mapImage(image *models.Image) models.ImageDTO {
	return models.ImageDTO{
		ID:        image.ID.Hex(),
		Title:     image.Title,
		UserID:    image.OwnerID.Hex(),
		S3Key:     image.S3Key,
		CreatedAt: image.CreatedAt,
		UpdatedAt: image.UpdatedAt,
	}
}

// sameIDMultiset reports whether a and b contain the same ids with the same
// multiplicities, order ignored.
func sameIDMultiset(a, b []primitive.ObjectID) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[primitive.ObjectID]int, len(a))
	for _, id := range a {
		counts[id]++
	}
	for _, id := range b {
		counts[id]--
		if counts[id] < 0 {
			return false
		}
	}
	return true
}
