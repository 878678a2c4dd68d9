// Package store is the persistence boundary for books, categories, and
// crawl runs.
package store

import (
	"context"
	"errors"

	"github.com/mkotliar/bookcrawl/models"
)

var (
	// ErrRunActive is returned by CreateRun while another run is running.
	ErrRunActive = errors.New("store: a crawl run is already active")
	// ErrRunFinished is returned by FinishRun when the run already reached a
	// terminal status. The first terminal transition wins; later ones are
	// rejected so a finished run stays immutable.
	ErrRunFinished = errors.New("store: run already finished")
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("store: not found")
)

// Store defines persistence operations for books, categories, and runs.
type Store interface {
	// WithTx runs fn inside one storage transaction; fn receives a Store
	// bound to that transaction.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// GetOrCreateCategory returns the category with the given name, creating
	// it on first reference. Categories are never updated or deleted here.
	GetOrCreateCategory(ctx context.Context, name string) (models.Category, error)

	// UpsertBookByTitle creates or fully updates the book whose natural key
	// is rec.Title, pointing it at categoryID. created reports the path taken.
	UpsertBookByTitle(ctx context.Context, rec *models.Record, categoryID uint) (created bool, err error)

	// SetBookImage associates an already-stored image filename with a book.
	SetBookImage(ctx context.Context, title, filename string) error

	ListBooks(ctx context.Context) ([]models.Book, error)
	GetBook(ctx context.Context, id uint) (models.Book, error)
	CountBooks(ctx context.Context) (int64, error)

	// CreateRun opens a run in the running state. At most one run may be
	// running at a time; a second create fails with ErrRunActive.
	CreateRun(ctx context.Context) (models.Run, error)

	// FinishRun moves a running run to a terminal status, stamping
	// finished_at atomically with the transition.
	FinishRun(ctx context.Context, id uint, status models.RunStatus, counters models.RunCounters, errMsg string) error

	GetRun(ctx context.Context, id uint) (models.Run, error)
	RecentRuns(ctx context.Context, n int) ([]models.Run, error)

	// InterruptRunning marks every running run interrupted and reports how
	// many were flipped.
	InterruptRunning(ctx context.Context) (int, error)
}
