// File: internal/report/json.go
package report

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONWriter serializes the full run record to <output_dir>/report.json for
// machine consumption.
type JSONWriter struct {
	dir string
}

func NewJSONWriter(dir string) *JSONWriter {
	return &JSONWriter{dir: dir}
}

func (w *JSONWriter) Name() string { return "json" }

func (w *JSONWriter) Write(rec *schemas.RunRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing run record: %w", err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	path := filepath.Join(w.dir, "report.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
