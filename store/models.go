package store

import (
	"time"

	"github.com/mkotliar/bookcrawl/models"
)

// GORM models used for persistence.
type CategoryModel struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:100;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (CategoryModel) TableName() string { return "categories" }

type BookModel struct {
	ID            uint   `gorm:"primaryKey"`
	Title         string `gorm:"size:255;uniqueIndex;not null"`
	ISBN          string `gorm:"size:20"`
	CategoryID    uint   `gorm:"index"`
	Category      CategoryModel
	Price         float64 `gorm:"not null;default:0"`
	Rating        int     `gorm:"not null;default:0"`
	Description   string  `gorm:"type:text"`
	InStock       bool    `gorm:"not null;default:false"`
	Availability  string  `gorm:"size:100"`
	ImageFilename string  `gorm:"size:255"`
	SourceURL     string  `gorm:"size:512"`
	LastScraped   time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time `gorm:"not null"`
}

func (BookModel) TableName() string { return "books" }

// RunModel carries a partial unique index over status='running' so the
// single-flight invariant is enforced by the database, not just the
// check in application code.
type RunModel struct {
	ID           uint      `gorm:"primaryKey"`
	Status       string    `gorm:"size:20;not null;index:idx_runs_one_running,unique,where:status = 'running'"`
	StartedAt    time.Time `gorm:"not null;index"`
	FinishedAt   *time.Time
	TotalFound   int    `gorm:"not null;default:0"`
	CreatedCount int    `gorm:"not null;default:0"`
	UpdatedCount int    `gorm:"not null;default:0"`
	ErrorsCount  int    `gorm:"not null;default:0"`
	ErrorMessage string `gorm:"type:text"`
}

func (RunModel) TableName() string { return "runs" }

func categoryFromModel(m CategoryModel) models.Category {
	return models.Category{
		ID:        m.ID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
	}
}

func bookFromModel(m BookModel) models.Book {
	return models.Book{
		ID:            m.ID,
		Title:         m.Title,
		ISBN:          m.ISBN,
		Category:      m.Category.Name,
		Price:         m.Price,
		Rating:        m.Rating,
		Description:   m.Description,
		InStock:       m.InStock,
		Availability:  m.Availability,
		ImageFilename: m.ImageFilename,
		SourceURL:     m.SourceURL,
		LastScraped:   m.LastScraped,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func runFromModel(m RunModel) models.Run {
	return models.Run{
		ID:           m.ID,
		Status:       models.RunStatus(m.Status),
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		TotalFound:   m.TotalFound,
		CreatedCount: m.CreatedCount,
		UpdatedCount: m.UpdatedCount,
		ErrorsCount:  m.ErrorsCount,
		ErrorMessage: m.ErrorMessage,
	}
}
