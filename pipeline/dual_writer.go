package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mkotliar/bookcrawl/models"
)

// DualWriter exports to CSV and JSON simultaneously.
type DualWriter struct {
	csvWriter  *CSVWriter
	jsonWriter *JSONWriter
	mu         sync.Mutex
}

// NewDualWriter creates writers for both output files.
func NewDualWriter(csvFilename, jsonFilename string) (*DualWriter, error) {
	csvWriter, err := NewCSVWriter(csvFilename)
	if err != nil {
		return nil, fmt.Errorf("create csv writer: %w", err)
	}

	jsonWriter, err := NewJSONWriter(jsonFilename)
	if err != nil {
		csvWriter.Close()
		return nil, fmt.Errorf("create json writer: %w", err)
	}

	return &DualWriter{
		csvWriter:  csvWriter,
		jsonWriter: jsonWriter,
	}, nil
}

// Write writes records to both outputs.
func (dw *DualWriter) Write(records []*models.Record) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	if err := dw.csvWriter.Write(records); err != nil {
		return fmt.Errorf("csv write: %w", err)
	}
	if err := dw.jsonWriter.Write(records); err != nil {
		return fmt.Errorf("json write: %w", err)
	}
	return nil
}

// Close closes both writers.
func (dw *DualWriter) Close() error {
	dw.mu.Lock()
	defer dw.mu.Unlock()

	return errors.Join(dw.csvWriter.Close(), dw.jsonWriter.Close())
}

// Validate validates both output files.
func (dw *DualWriter) Validate() error {
	return errors.Join(dw.csvWriter.Validate(), dw.jsonWriter.Validate())
}
