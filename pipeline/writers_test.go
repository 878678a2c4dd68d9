package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkotliar/bookcrawl/models"
)

func writerRecord() *models.Record {
	return &models.Record{
		Title:        "Test Book",
		ISBN:         "a897fe39b1053632",
		Category:     "Poetry",
		Price:        10.00,
		Rating:       2,
		InStock:      true,
		Availability: "In stock (22 available)",
		ImageURL:     "http://example.test/img.png",
		SourceURL:    "http://example.test/book/1",
		ScrapedAt:    time.Date(2026, 8, 4, 13, 9, 13, 0, time.UTC),
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "books.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if err := writer.Write([]*models.Record{writerRecord()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows=%d, want 2", len(rows))
	}
	if rows[0][0] != "title" || rows[0][1] != "isbn" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][3] != "10.00" {
		t.Errorf("price cell = %q, want %q", rows[1][3], "10.00")
	}
	if rows[1][5] != "true" {
		t.Errorf("in_stock cell = %q, want %q", rows[1][5], "true")
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "books.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write([]*models.Record{writerRecord()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.Record
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.Title != "Test Book" {
			t.Errorf("decoded title = %q", decoded.Title)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 1 {
		t.Fatalf("json lines=%d, want 1", count)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "books.csv")
	jsonPath := filepath.Join(dir, "books.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]*models.Record{writerRecord()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}
