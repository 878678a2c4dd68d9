package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mkotliar/bookcrawl/models"
)

// GormStore implements Store on GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&CategoryModel{}, &BookModel{}, &RunModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// WithTx executes fn inside one database transaction.
func (s *GormStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// GetOrCreateCategory returns the named category, creating it when absent.
func (s *GormStore) GetOrCreateCategory(ctx context.Context, name string) (models.Category, error) {
	var model CategoryModel
	err := s.db.WithContext(ctx).
		Where(CategoryModel{Name: name}).
		FirstOrCreate(&model).Error
	if err != nil {
		return models.Category{}, fmt.Errorf("get or create category %q: %w", name, err)
	}
	return categoryFromModel(model), nil
}

// UpsertBookByTitle creates or replaces the derived fields of the book keyed
// by rec.Title.
func (s *GormStore) UpsertBookByTitle(ctx context.Context, rec *models.Record, categoryID uint) (bool, error) {
	db := s.db.WithContext(ctx)

	var existing BookModel
	err := db.Where("title = ?", rec.Title).First(&existing).Error
	switch {
	case err == nil:
		updates := map[string]any{
			"isbn":         rec.ISBN,
			"category_id":  categoryID,
			"price":        rec.Price,
			"rating":       rec.Rating,
			"description":  rec.Description,
			"in_stock":     rec.InStock,
			"availability": rec.Availability,
			"source_url":   rec.SourceURL,
			"last_scraped": rec.ScrapedAt,
		}
		if err := db.Model(&BookModel{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return false, fmt.Errorf("update book %q: %w", rec.Title, err)
		}
		return false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		model := BookModel{
			Title:        rec.Title,
			ISBN:         rec.ISBN,
			CategoryID:   categoryID,
			Price:        rec.Price,
			Rating:       rec.Rating,
			Description:  rec.Description,
			InStock:      rec.InStock,
			Availability: rec.Availability,
			SourceURL:    rec.SourceURL,
			LastScraped:  rec.ScrapedAt,
		}
		if err := db.Create(&model).Error; err != nil {
			return false, fmt.Errorf("create book %q: %w", rec.Title, err)
		}
		return true, nil
	default:
		return false, fmt.Errorf("lookup book %q: %w", rec.Title, err)
	}
}

// SetBookImage attaches an image filename to the book with the given title.
func (s *GormStore) SetBookImage(ctx context.Context, title, filename string) error {
	result := s.db.WithContext(ctx).
		Model(&BookModel{}).
		Where("title = ?", title).
		Update("image_filename", filename)
	if result.Error != nil {
		return fmt.Errorf("set image for %q: %w", title, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBooks returns all books newest-first with their category names.
func (s *GormStore) ListBooks(ctx context.Context) ([]models.Book, error) {
	var modelsList []BookModel
	err := s.db.WithContext(ctx).
		Preload("Category").
		Order("created_at DESC").
		Find(&modelsList).Error
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	books := make([]models.Book, 0, len(modelsList))
	for _, m := range modelsList {
		books = append(books, bookFromModel(m))
	}
	return books, nil
}

// GetBook returns one book by id.
func (s *GormStore) GetBook(ctx context.Context, id uint) (models.Book, error) {
	var model BookModel
	err := s.db.WithContext(ctx).Preload("Category").First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Book{}, ErrNotFound
	}
	if err != nil {
		return models.Book{}, fmt.Errorf("get book %d: %w", id, err)
	}
	return bookFromModel(model), nil
}

// CountBooks reports how many books are stored.
func (s *GormStore) CountBooks(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&BookModel{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return count, nil
}

// CreateRun opens a run in the running state. The partial unique index on
// status='running' rejects a second concurrent create at the database level.
func (s *GormStore) CreateRun(ctx context.Context) (models.Run, error) {
	model := RunModel{
		Status:    string(models.RunRunning),
		StartedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.Run{}, ErrRunActive
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("create run: %w", err)
	}
	return runFromModel(model), nil
}

// FinishRun performs the one-way terminal transition. The status guard makes
// it first-writer-wins: a run that already finished is left untouched.
func (s *GormStore) FinishRun(ctx context.Context, id uint, status models.RunStatus, counters models.RunCounters, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish run %d: %q is not a terminal status", id, status)
	}

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&RunModel{}).
		Where("id = ? AND status = ?", id, string(models.RunRunning)).
		Updates(map[string]any{
			"status":        string(status),
			"finished_at":   now,
			"total_found":   counters.TotalFound,
			"created_count": counters.CreatedCount,
			"updated_count": counters.UpdatedCount,
			"errors_count":  counters.ErrorsCount,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("finish run %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		var exists int64
		if err := s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Count(&exists).Error; err == nil && exists == 0 {
			return ErrNotFound
		}
		return ErrRunFinished
	}
	return nil
}

// GetRun returns one run by id.
func (s *GormStore) GetRun(ctx context.Context, id uint) (models.Run, error) {
	var model RunModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Run{}, ErrNotFound
	}
	if err != nil {
		return models.Run{}, fmt.Errorf("get run %d: %w", id, err)
	}
	return runFromModel(model), nil
}

// RecentRuns returns the most recent n runs, newest first.
func (s *GormStore) RecentRuns(ctx context.Context, n int) ([]models.Run, error) {
	if n <= 0 {
		n = 10
	}
	var modelsList []RunModel
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(n).
		Find(&modelsList).Error
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	runs := make([]models.Run, 0, len(modelsList))
	for _, m := range modelsList {
		runs = append(runs, runFromModel(m))
	}
	return runs, nil
}

// InterruptRunning flips every running run to interrupted.
func (s *GormStore) InterruptRunning(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&RunModel{}).
		Where("status = ?", string(models.RunRunning)).
		Updates(map[string]any{
			"status":      string(models.RunInterrupted),
			"finished_at": now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("interrupt running: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}
