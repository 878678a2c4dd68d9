// Package pipeline reconciles extracted records into the persistent store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mkotliar/bookcrawl/models"
	"github.com/mkotliar/bookcrawl/storage"
	"github.com/mkotliar/bookcrawl/store"
)

// Reconciler idempotently upserts extracted records, creating categories on
// first reference and attaching stored cover images.
type Reconciler struct {
	store store.Store
	blobs storage.ObjectStore
}

// NewReconciler builds a reconciler. blobs may be nil when image storage is
// disabled; records then keep their data upsert but lose the image step.
func NewReconciler(st store.Store, blobs storage.ObjectStore) *Reconciler {
	return &Reconciler{store: st, blobs: blobs}
}

// Reconcile persists a batch of records inside one storage transaction.
// Each record runs in a nested transaction (savepoint), so a single failing
// record is rolled back, logged, and counted as skipped without aborting the
// rest of the batch.
func (r *Reconciler) Reconcile(ctx context.Context, records []*models.Record) (models.ReconcileResult, error) {
	var result models.ReconcileResult

	err := r.store.WithTx(ctx, func(tx store.Store) error {
		for _, rec := range records {
			if rec == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rec := rec
			err := tx.WithTx(ctx, func(rtx store.Store) error {
				return r.reconcileOne(ctx, rtx, rec, &result)
			})
			if err != nil {
				result.Skipped++
				slog.Error("record reconcile failed",
					slog.String("title", rec.Title),
					slog.String("url", rec.SourceURL),
					slog.Any("error", err),
				)
			}
		}
		return nil
	})
	if err != nil {
		return models.ReconcileResult{}, fmt.Errorf("reconcile batch: %w", err)
	}

	slog.Info("batch reconciled",
		slog.Int("records", len(records)),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("skipped", result.Skipped),
	)
	return result, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, tx store.Store, rec *models.Record, result *models.ReconcileResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("reconcile %q: panic: %v", rec.Title, p)
		}
	}()

	name := rec.Category
	if name == "" {
		name = "General"
	}
	category, err := tx.GetOrCreateCategory(ctx, name)
	if err != nil {
		return err
	}

	created, err := tx.UpsertBookByTitle(ctx, rec, category.ID)
	if err != nil {
		return err
	}
	if created {
		result.Created++
	} else {
		result.Updated++
	}

	if rec.Image != nil && r.blobs != nil {
		// An image-store failure never fails the record's data upsert.
		if err := r.blobs.Put(ctx, rec.Image.Filename, rec.Image.Data, rec.Image.ContentType); err != nil {
			slog.Warn("image store failed",
				slog.String("title", rec.Title),
				slog.String("filename", rec.Image.Filename),
				slog.Any("error", err),
			)
		} else if err := tx.SetBookImage(ctx, rec.Title, rec.Image.Filename); err != nil {
			slog.Warn("image association failed",
				slog.String("title", rec.Title),
				slog.String("filename", rec.Image.Filename),
				slog.Any("error", err),
			)
		}
	}

	return nil
}
