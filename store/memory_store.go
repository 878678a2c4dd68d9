package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mkotliar/bookcrawl/models"
)

// MemoryStore is an in-memory Store used by tests and the no-database dev
// mode. WithTx offers no rollback: mutations apply immediately.
type MemoryStore struct {
	mu sync.Mutex

	categories map[string]models.Category
	books      map[string]models.Book // keyed by title
	runs       map[uint]models.Run

	nextCategoryID uint
	nextBookID     uint
	nextRunID      uint
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		categories:     make(map[string]models.Category),
		books:          make(map[string]models.Book),
		runs:           make(map[uint]models.Run),
		nextCategoryID: 1,
		nextBookID:     1,
		nextRunID:      1,
	}
}

// WithTx runs fn against the same store.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	return fn(s)
}

// GetOrCreateCategory returns the named category, creating it when absent.
func (s *MemoryStore) GetOrCreateCategory(ctx context.Context, name string) (models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cat, ok := s.categories[name]; ok {
		return cat, nil
	}
	cat := models.Category{
		ID:        s.nextCategoryID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	s.nextCategoryID++
	s.categories[name] = cat
	return cat, nil
}

// UpsertBookByTitle creates or replaces the book keyed by rec.Title.
func (s *MemoryStore) UpsertBookByTitle(ctx context.Context, rec *models.Record, categoryID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	categoryName := ""
	for name, cat := range s.categories {
		if cat.ID == categoryID {
			categoryName = name
			break
		}
	}

	now := time.Now().UTC()
	if existing, ok := s.books[rec.Title]; ok {
		existing.ISBN = rec.ISBN
		existing.Category = categoryName
		existing.Price = rec.Price
		existing.Rating = rec.Rating
		existing.Description = rec.Description
		existing.InStock = rec.InStock
		existing.Availability = rec.Availability
		existing.SourceURL = rec.SourceURL
		existing.LastScraped = rec.ScrapedAt
		existing.UpdatedAt = now
		s.books[rec.Title] = existing
		return false, nil
	}

	book := models.Book{
		ID:           s.nextBookID,
		Title:        rec.Title,
		ISBN:         rec.ISBN,
		Category:     categoryName,
		Price:        rec.Price,
		Rating:       rec.Rating,
		Description:  rec.Description,
		InStock:      rec.InStock,
		Availability: rec.Availability,
		SourceURL:    rec.SourceURL,
		LastScraped:  rec.ScrapedAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.nextBookID++
	s.books[rec.Title] = book
	return true, nil
}

// SetBookImage attaches an image filename to the titled book.
func (s *MemoryStore) SetBookImage(ctx context.Context, title, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[title]
	if !ok {
		return ErrNotFound
	}
	book.ImageFilename = filename
	book.UpdatedAt = time.Now().UTC()
	s.books[title] = book
	return nil
}

// ListBooks returns all books newest-first.
func (s *MemoryStore) ListBooks(ctx context.Context) ([]models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	books := make([]models.Book, 0, len(s.books))
	for _, b := range s.books {
		books = append(books, b)
	}
	sort.Slice(books, func(i, j int) bool {
		if books[i].CreatedAt.Equal(books[j].CreatedAt) {
			return books[i].ID > books[j].ID
		}
		return books[i].CreatedAt.After(books[j].CreatedAt)
	})
	return books, nil
}

// GetBook returns one book by id.
func (s *MemoryStore) GetBook(ctx context.Context, id uint) (models.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.books {
		if b.ID == id {
			return b, nil
		}
	}
	return models.Book{}, ErrNotFound
}

// CountBooks reports how many books are stored.
func (s *MemoryStore) CountBooks(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.books)), nil
}

// CreateRun opens a run, enforcing the single-running invariant under the
// store mutex so concurrent creates cannot both succeed.
func (s *MemoryStore) CreateRun(ctx context.Context) (models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if r.Status == models.RunRunning {
			return models.Run{}, ErrRunActive
		}
	}

	run := models.Run{
		ID:        s.nextRunID,
		Status:    models.RunRunning,
		StartedAt: time.Now().UTC(),
	}
	s.nextRunID++
	s.runs[run.ID] = run
	return run, nil
}

// FinishRun performs the one-way terminal transition, first writer wins.
func (s *MemoryStore) FinishRun(ctx context.Context, id uint, status models.RunStatus, counters models.RunCounters, errMsg string) error {
	if !status.Terminal() {
		return fmt.Errorf("finish run %d: %q is not a terminal status", id, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	if run.Status != models.RunRunning {
		return ErrRunFinished
	}

	now := time.Now().UTC()
	run.Status = status
	run.FinishedAt = &now
	run.TotalFound = counters.TotalFound
	run.CreatedCount = counters.CreatedCount
	run.UpdatedCount = counters.UpdatedCount
	run.ErrorsCount = counters.ErrorsCount
	run.ErrorMessage = errMsg
	s.runs[id] = run
	return nil
}

// GetRun returns one run by id.
func (s *MemoryStore) GetRun(ctx context.Context, id uint) (models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return models.Run{}, ErrNotFound
	}
	return run, nil
}

// RecentRuns returns the most recent n runs, newest first.
func (s *MemoryStore) RecentRuns(ctx context.Context, n int) ([]models.Run, error) {
	if n <= 0 {
		n = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make([]models.Run, 0, len(s.runs))
	for _, r := range s.runs {
		runs = append(runs, r)
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > n {
		runs = runs[:n]
	}
	return runs, nil
}

// InterruptRunning flips every running run to interrupted.
func (s *MemoryStore) InterruptRunning(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for id, r := range s.runs {
		if r.Status != models.RunRunning {
			continue
		}
		r.Status = models.RunInterrupted
		r.FinishedAt = &now
		s.runs[id] = r
		count++
	}
	return count, nil
}
