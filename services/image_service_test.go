package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"image-gallery-platform/models"
)

// In-memory collaborators so the orchestration rules can be exercised
// without MongoDB or object storage.

type fakeImageStore struct {
	images    map[primitive.ObjectID]*models.Image
	insertErr error
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{images: make(map[primitive.ObjectID]*models.Image)}
}

func (f *fakeImageStore) Insert(_ context.Context, image *models.Image) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	if image.ID.IsZero() {
		image.ID = primitive.NewObjectID()
	}
	image.CreatedAt = time.Now()
	image.UpdatedAt = image.CreatedAt
	f.images[image.ID] = image
	return nil
}

func (f *fakeImageStore) InsertMany(ctx context.Context, images []*models.Image) error {
	for _, image := range images {
		if err := f.Insert(ctx, image); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeImageStore) ByID(_ context.Context, id primitive.ObjectID) (*models.Image, error) {
	image, ok := f.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	return image, nil
}

func (f *fakeImageStore) ByIDs(_ context.Context, ids []primitive.ObjectID) ([]*models.Image, error) {
	var result []*models.Image
	for _, id := range ids {
		if image, ok := f.images[id]; ok {
			result = append(result, image)
		}
	}
	return result, nil
}

func (f *fakeImageStore) ByOwner(_ context.Context, ownerID primitive.ObjectID) ([]*models.Image, error) {
	var result []*models.Image
	for _, image := range f.images {
		if image.OwnerID == ownerID {
			result = append(result, image)
		}
	}
	return result, nil
}

func (f *fakeImageStore) TitleExists(_ context.Context, ownerID primitive.ObjectID, title string, exclude *primitive.ObjectID) (bool, error) {
	for _, image := range f.images {
		if exclude != nil && image.ID == *exclude {
			continue
		}
		if image.OwnerID == ownerID && image.Title == title {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeImageStore) UpdateTitle(_ context.Context, id primitive.ObjectID, title string) (*models.Image, error) {
	image, ok := f.images[id]
	if !ok {
		return nil, ErrNotFound
	}
	image.Title = title
	image.UpdatedAt = time.Now()
	return image, nil
}

func (f *fakeImageStore) UpdateKey(_ context.Context, id primitive.ObjectID, s3key string) error {
	image, ok := f.images[id]
	if !ok {
		return ErrNotFound
	}
	image.S3Key = s3key
	return nil
}

func (f *fakeImageStore) Delete(_ context.Context, id primitive.ObjectID) error {
	if _, ok := f.images[id]; !ok {
		return ErrNotFound
	}
	delete(f.images, id)
	return nil
}

type fakeOrderList struct {
	lists     map[primitive.ObjectID][]primitive.ObjectID
	versions  map[primitive.ObjectID]int64
	appendErr error

	// afterGet simulates a concurrent writer sneaking in between a read
	// of the list and the versioned replace.
	afterGet func()
}

func newFakeOrderList() *fakeOrderList {
	return &fakeOrderList{
		lists:    make(map[primitive.ObjectID][]primitive.ObjectID),
		versions: make(map[primitive.ObjectID]int64),
	}
}

func (f *fakeOrderList) Append(ctx context.Context, ownerID, imageID primitive.ObjectID) error {
	return f.AppendMany(ctx, ownerID, []primitive.ObjectID{imageID})
}

func (f *fakeOrderList) AppendMany(_ context.Context, ownerID primitive.ObjectID, imageIDs []primitive.ObjectID) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	existing := make(map[primitive.ObjectID]struct{}, len(f.lists[ownerID]))
	for _, id := range f.lists[ownerID] {
		existing[id] = struct{}{}
	}
	for _, id := range imageIDs {
		if _, ok := existing[id]; ok {
			continue
		}
		f.lists[ownerID] = append(f.lists[ownerID], id)
		existing[id] = struct{}{}
	}
	f.versions[ownerID]++
	return nil
}

func (f *fakeOrderList) Remove(_ context.Context, ownerID, imageID primitive.ObjectID) error {
	ids := f.lists[ownerID]
	for i, id := range ids {
		if id == imageID {
			f.lists[ownerID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	f.versions[ownerID]++
	return nil
}

func (f *fakeOrderList) Replace(_ context.Context, ownerID primitive.ObjectID, imageIDs []primitive.ObjectID, expectedVersion int64) error {
	if f.versions[ownerID] != expectedVersion {
		return ErrOrderConflict
	}
	f.lists[ownerID] = append([]primitive.ObjectID(nil), imageIDs...)
	f.versions[ownerID]++
	return nil
}

func (f *fakeOrderList) Get(_ context.Context, ownerID primitive.ObjectID) ([]primitive.ObjectID, int64, error) {
	ids, version := f.lists[ownerID], f.versions[ownerID]
	if f.afterGet != nil {
		f.afterGet()
	}
	return ids, version, nil
}

func (f *fakeOrderList) GetPage(_ context.Context, ownerID primitive.ObjectID, page, pageSize int) ([]primitive.ObjectID, int, error) {
	ids := f.lists[ownerID]
	return PageSlice(ids, page, pageSize), len(ids), nil
}

type fakeGateway struct {
	uploads int
	objects map[string]bool
	deleted []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{objects: make(map[string]bool)}
}

func (f *fakeGateway) Upload(_ context.Context, _ io.Reader, _ int64, _, originalName string) (string, error) {
	f.uploads++
	key := fmt.Sprintf("media/obj-%d-%s", f.uploads, originalName)
	f.objects[key] = true
	return key, nil
}

func (f *fakeGateway) AccessURL(_ context.Context, key string) (string, error) {
	return "https://cdn.test/" + key + "?sig=abc", nil
}

func (f *fakeGateway) Delete(_ context.Context, key string) error {
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type serviceFixture struct {
	store   *fakeImageStore
	orders  *fakeOrderList
	gateway *fakeGateway
	svc     *ImageService
}

func newFixture() *serviceFixture {
	store := newFakeImageStore()
	orders := newFakeOrderList()
	gateway := newFakeGateway()
	return &serviceFixture{
		store:   store,
		orders:  orders,
		gateway: gateway,
		svc:     NewImageService(store, orders, gateway),
	}
}

func testFile(name string) UploadFile {
	return UploadFile{
		Reader:       bytes.NewReader([]byte("image-bytes")),
		Size:         11,
		MimeType:     "image/png",
		OriginalName: name,
	}
}

func (fx *serviceFixture) mustCreate(t *testing.T, ownerID primitive.ObjectID, title string) *models.ImageDTO {
	t.Helper()
	dto, err := fx.svc.CreateImage(context.Background(), ownerID, title, testFile(title+".png"))
	require.NoError(t, err)
	return dto
}

func TestCreateImage(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()

	first := fx.mustCreate(t, owner, "sunset")
	second := fx.mustCreate(t, owner, "sunrise")

	ids, _, err := fx.orders.Get(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, first.ID, ids[0].Hex())
	assert.Equal(t, second.ID, ids[1].Hex())

	assert.Contains(t, first.S3Key, "https://cdn.test/", "response carries an access URL, not the raw key")
}

func TestCreateImage_DuplicateTitle(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()
	other := primitive.NewObjectID()

	fx.mustCreate(t, owner, "sunset")

	_, err := fx.svc.CreateImage(context.Background(), owner, "sunset", testFile("dup.png"))
	assert.ErrorIs(t, err, ErrDuplicateTitle)

	// Same title under a different owner is fine
	_, err = fx.svc.CreateImage(context.Background(), other, "sunset", testFile("other.png"))
	assert.NoError(t, err)
}

func TestCreateImage_IndexFailureKeepsRecord(t *testing.T) {
	fx := newFixture()
	fx.orders.appendErr = fmt.Errorf("write conflict")
	owner := primitive.NewObjectID()

	dto, err := fx.svc.CreateImage(context.Background(), owner, "orphan", testFile("orphan.png"))
	require.NoError(t, err, "index failure after a successful create is not an error")

	id, err := primitive.ObjectIDFromHex(dto.ID)
	require.NoError(t, err)
	_, err = fx.store.ByID(context.Background(), id)
	assert.NoError(t, err, "record survives")

	ids, _, _ := fx.orders.Get(context.Background(), owner)
	assert.Empty(t, ids, "order list untouched until the reconciler runs")

	// The reconciler's repair computation picks the orphan up
	repaired, changed := RepairOrder(ids, []primitive.ObjectID{id})
	assert.True(t, changed)
	assert.Equal(t, []primitive.ObjectID{id}, repaired)
}

func TestCreateImages_CountMismatch(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()

	_, err := fx.svc.CreateImages(context.Background(), owner, []string{"a", "b"}, []UploadFile{testFile("a.png")})
	assert.ErrorIs(t, err, ErrCountMismatch)
	assert.Zero(t, fx.gateway.uploads, "nothing uploaded")
	assert.Empty(t, fx.store.images, "nothing persisted")
}

func TestCreateImages_DuplicateWithinBatch(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()

	_, err := fx.svc.CreateImages(context.Background(), owner,
		[]string{"a", "a"}, []UploadFile{testFile("1.png"), testFile("2.png")})
	assert.ErrorIs(t, err, ErrDuplicateTitle)
	assert.Empty(t, fx.store.images)
}

func TestCreateImages_Success(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()

	dtos, err := fx.svc.CreateImages(context.Background(), owner,
		[]string{"a", "b", "c"},
		[]UploadFile{testFile("a.png"), testFile("b.png"), testFile("c.png")})
	require.NoError(t, err)
	require.Len(t, dtos, 3)

	ids, _, _ := fx.orders.Get(context.Background(), owner)
	require.Len(t, ids, 3)
	for i, dto := range dtos {
		assert.Equal(t, dto.ID, ids[i].Hex(), "batch indexed in submission order")
	}
}

func TestGetImagesInOrder_Pagination(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()

	for i := 0; i < 25; i++ {
		fx.mustCreate(t, owner, fmt.Sprintf("img-%02d", i))
	}

	page3, err := fx.svc.GetImagesInOrder(context.Background(), owner, 3, 10)
	require.NoError(t, err)
	assert.Len(t, page3.Images, 5)
	assert.Equal(t, 25, page3.Pagination.Total)
	assert.Equal(t, 3, page3.Pagination.TotalPages)

	page4, err := fx.svc.GetImagesInOrder(context.Background(), owner, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, page4.Images)
	assert.Equal(t, 25, page4.Pagination.Total)
}

func TestGetImagesInOrder_SkipsDanglingIDs(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()
	ctx := context.Background()

	created := fx.mustCreate(t, owner, "kept")
	dangling := primitive.NewObjectID()
	require.NoError(t, fx.orders.Append(ctx, owner, dangling))

	result, err := fx.svc.GetImagesInOrder(ctx, owner, 1, 10)
	require.NoError(t, err)
	require.Len(t, result.Images, 1, "dangling id silently skipped")
	assert.Equal(t, created.ID, result.Images[0].ID)
	assert.Equal(t, 2, result.Pagination.Total, "total reflects nominal list length")
}

func TestUpdateOrder_RoundTrip(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()
	ctx := context.Background()

	a := fx.mustCreate(t, owner, "a")
	b := fx.mustCreate(t, owner, "b")
	c := fx.mustCreate(t, owner, "c")

	toID := func(dto *models.ImageDTO) primitive.ObjectID {
		id, err := primitive.ObjectIDFromHex(dto.ID)
		require.NoError(t, err)
		return id
	}
	reversed := []primitive.ObjectID{toID(c), toID(b), toID(a)}

	require.NoError(t, fx.svc.UpdateOrder(ctx, owner, reversed))

	result, err := fx.svc.GetImagesInOrder(ctx, owner, 1, 10)
	require.NoError(t, err)
	require.Len(t, result.Images, 3)
	assert.Equal(t, c.ID, result.Images[0].ID)
	assert.Equal(t, b.ID, result.Images[1].ID)
	assert.Equal(t, a.ID, result.Images[2].ID)
}

func TestUpdateOrder_Validation(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()
	ctx := context.Background()

	a := fx.mustCreate(t, owner, "a")
	fx.mustCreate(t, owner, "b")

	aID, _ := primitive.ObjectIDFromHex(a.ID)

	t.Run("dropped id rejected", func(t *testing.T) {
		err := fx.svc.UpdateOrder(ctx, owner, []primitive.ObjectID{aID})
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("foreign id rejected", func(t *testing.T) {
		err := fx.svc.UpdateOrder(ctx, owner, []primitive.ObjectID{aID, primitive.NewObjectID()})
		assert.ErrorIs(t, err, ErrInvalidOrder)
	})

	t.Run("foreign-owned record in list rejected", func(t *testing.T) {
		other := primitive.NewObjectID()
		stray := fx.mustCreate(t, other, "stray")
		strayID, _ := primitive.ObjectIDFromHex(stray.ID)

		// Simulate drift: a foreign id slipped into the owner's list
		require.NoError(t, fx.orders.Append(ctx, owner, strayID))
		current, _, _ := fx.orders.Get(ctx, owner)

		err := fx.svc.UpdateOrder(ctx, owner, current)
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestUpdateOrder_VersionConflict(t *testing.T) {
	newConflictFixture := func(t *testing.T) (*serviceFixture, primitive.ObjectID, []primitive.ObjectID) {
		t.Helper()
		fx := newFixture()
		owner := primitive.NewObjectID()
		a := fx.mustCreate(t, owner, "a")
		b := fx.mustCreate(t, owner, "b")

		aID, _ := primitive.ObjectIDFromHex(a.ID)
		bID, _ := primitive.ObjectIDFromHex(b.ID)
		return fx, owner, []primitive.ObjectID{bID, aID}
	}

	t.Run("single conflict is retried and succeeds", func(t *testing.T) {
		fx, owner, swapped := newConflictFixture(t)
		ctx := context.Background()

		conflicts := 1
		fx.orders.afterGet = func() {
			if conflicts > 0 {
				conflicts--
				fx.orders.versions[owner]++
			}
		}

		require.NoError(t, fx.svc.UpdateOrder(ctx, owner, swapped))

		ids, _, _ := fx.orders.Get(ctx, owner)
		assert.Equal(t, swapped, ids)
	})

	t.Run("persistent conflict surfaces", func(t *testing.T) {
		fx, owner, swapped := newConflictFixture(t)

		fx.orders.afterGet = func() { fx.orders.versions[owner]++ }

		err := fx.svc.UpdateOrder(context.Background(), owner, swapped)
		assert.ErrorIs(t, err, ErrOrderConflict)
	})
}

func TestRenameImage(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()
	ctx := context.Background()

	a := fx.mustCreate(t, owner, "a")
	fx.mustCreate(t, owner, "b")
	aID, _ := primitive.ObjectIDFromHex(a.ID)

	t.Run("duplicate title rejected", func(t *testing.T) {
		_, err := fx.svc.RenameImage(ctx, aID, owner, "b", nil)
		assert.ErrorIs(t, err, ErrDuplicateTitle)
	})

	t.Run("rename to own title is allowed", func(t *testing.T) {
		_, err := fx.svc.RenameImage(ctx, aID, owner, "a", nil)
		assert.NoError(t, err)
	})

	t.Run("wrong owner rejected", func(t *testing.T) {
		_, err := fx.svc.RenameImage(ctx, aID, primitive.NewObjectID(), "c", nil)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("rename succeeds", func(t *testing.T) {
		dto, err := fx.svc.RenameImage(ctx, aID, owner, "renamed", nil)
		require.NoError(t, err)
		assert.Equal(t, "renamed", dto.Title)
	})

	t.Run("replacement file swaps object", func(t *testing.T) {
		oldKey := fx.store.images[aID].S3Key
		replacement := testFile("new.png")

		_, err := fx.svc.RenameImage(ctx, aID, owner, "renamed-again", &replacement)
		require.NoError(t, err)

		assert.NotEqual(t, oldKey, fx.store.images[aID].S3Key)
		assert.Contains(t, fx.gateway.deleted, oldKey, "old object cleaned up")
	})

	t.Run("missing image", func(t *testing.T) {
		_, err := fx.svc.RenameImage(ctx, primitive.NewObjectID(), owner, "x", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDeleteImage(t *testing.T) {
	fx := newFixture()
	owner := primitive.NewObjectID()
	ctx := context.Background()

	a := fx.mustCreate(t, owner, "a")
	fx.mustCreate(t, owner, "b")
	aID, _ := primitive.ObjectIDFromHex(a.ID)
	aKey := fx.store.images[aID].S3Key

	t.Run("wrong owner rejected", func(t *testing.T) {
		err := fx.svc.DeleteImage(ctx, aID, primitive.NewObjectID())
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("delete removes record, order entry and object", func(t *testing.T) {
		require.NoError(t, fx.svc.DeleteImage(ctx, aID, owner))

		_, err := fx.store.ByID(ctx, aID)
		assert.ErrorIs(t, err, ErrNotFound)

		result, err := fx.svc.GetImagesInOrder(ctx, owner, 1, 10)
		require.NoError(t, err)
		for _, img := range result.Images {
			assert.NotEqual(t, a.ID, img.ID)
		}

		assert.Contains(t, fx.gateway.deleted, aKey)
	})

	t.Run("second delete reports not found", func(t *testing.T) {
		err := fx.svc.DeleteImage(ctx, aID, owner)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("pruning an already-removed id is a no-op", func(t *testing.T) {
		assert.NoError(t, fx.orders.Remove(ctx, owner, aID))
		assert.NoError(t, fx.orders.Remove(ctx, owner, aID))
	})
}
