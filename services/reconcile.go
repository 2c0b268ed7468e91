package services

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"image-gallery-platform/internal/logger"
)

// Reconciler is the asynchronous repair job for order-list drift. Record and
// index writes are not transactional, so after a partial failure an order
// list can reference a deleted record (dangling id) or miss a record that was
// created but never indexed. Each pass walks every owner and repairs both
// directions while preserving the stored order.
type Reconciler struct {
	store     *MongoImageStore
	orders    *MongoOrderList
	scheduler *gocron.Scheduler
	interval  time.Duration
}

func NewReconciler(store *MongoImageStore, orders *MongoOrderList, interval time.Duration) *Reconciler {
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &Reconciler{
		store:     store,
		orders:    orders,
		scheduler: s,
		interval:  interval,
	}
}

// Start schedules the repair pass and runs the scheduler in the background.
func (r *Reconciler) Start() error {
	_, err := r.scheduler.Every(r.interval).Tag("order-reconcile").Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := r.Run(ctx); err != nil {
			logger.Error("Order list reconcile pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule reconcile job: %w", err)
	}

	r.scheduler.StartAsync()
	return nil
}

func (r *Reconciler) Stop() {
	r.scheduler.Stop()
}

// Run executes one full repair pass over every known owner.
func (r *Reconciler) Run(ctx context.Context) error {
	owners, err := r.knownOwners(ctx)
	if err != nil {
		return err
	}

	for _, ownerID := range owners {
		if err := r.reconcileOwner(ctx, ownerID); err != nil {
			logger.Warn("Failed to reconcile owner order list", "owner_id", ownerID.Hex(), "error", err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileOwner(ctx context.Context, ownerID primitive.ObjectID) error {
	current, version, err := r.orders.Get(ctx, ownerID)
	if err != nil {
		return err
	}

	records, err := r.store.ByOwner(ctx, ownerID)
	if err != nil {
		return err
	}

	recordIDs := make([]primitive.ObjectID, 0, len(records))
	for _, record := range records {
		recordIDs = append(recordIDs, record.ID)
	}

	repaired, changed := RepairOrder(current, recordIDs)
	if !changed {
		return nil
	}

	logger.Info("Repairing order list",
		"owner_id", ownerID.Hex(), "before", len(current), "after", len(repaired))

	// A conflict means a user mutation landed mid-pass; the next pass picks
	// this owner up again.
	if err := r.orders.Replace(ctx, ownerID, repaired, version); err != nil {
		return err
	}
	return nil
}

// knownOwners is the union of owners with an order document and owners with
// at least one image record - either side can exist without the other after
// a partial failure.
func (r *Reconciler) knownOwners(ctx context.Context) ([]primitive.ObjectID, error) {
	seen := make(map[primitive.ObjectID]struct{})

	fromImages, err := r.store.imagesCollection.Distinct(ctx, "owner_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list image owners: %w", err)
	}
	for _, v := range fromImages {
		if id, ok := v.(primitive.ObjectID); ok {
			seen[id] = struct{}{}
		}
	}

	fromOrders, err := r.orders.ordersCollection.Distinct(ctx, "owner_id", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list order owners: %w", err)
	}
	for _, v := range fromOrders {
		if id, ok := v.(primitive.ObjectID); ok {
			seen[id] = struct{}{}
		}
	}

	owners := make([]primitive.ObjectID, 0, len(seen))
	for id := range seen {
		owners = append(owners, id)
	}
	return owners, nil
}

// RepairOrder drops ids with no backing record from the sequence and appends
// record ids missing from it, keeping the surviving prefix in its stored
// order. Returns the repaired sequence and whether anything changed.
func RepairOrder(current, recordIDs []primitive.ObjectID) ([]primitive.ObjectID, bool) {
	existing := make(map[primitive.ObjectID]struct{}, len(recordIDs))
	for _, id := range recordIDs {
		existing[id] = struct{}{}
	}

	repaired := make([]primitive.ObjectID, 0, len(recordIDs))
	listed := make(map[primitive.ObjectID]struct{}, len(current))
	changed := false

	for _, id := range current {
		if _, dup := listed[id]; dup {
			changed = true
			continue
		}
		listed[id] = struct{}{}

		if _, ok := existing[id]; !ok {
			changed = true
			continue
		}
		repaired = append(repaired, id)
	}

	for _, id := range recordIDs {
		if _, ok := listed[id]; !ok {
			repaired = append(repaired, id)
			changed = true
		}
	}

	return repaired, changed
}
