// File: internal/report/report.go

// Package report renders finished run records. Each configured format gets
// its own writer; the dispatcher fans the record out to all of them.
package report

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

// Writer renders one run record in one format.
type Writer interface {
	Name() string
	Write(rec *schemas.RunRecord) error
}

// Dispatcher owns the configured writers and fans a run record out to them.
type Dispatcher struct {
	writers []Writer
	logger  *zap.Logger
}

// NewDispatcher builds writers for every configured format. Unknown formats
// are a configuration error.
func NewDispatcher(cfg config.ReportConfig, logger *zap.Logger) (*Dispatcher, error) {
	d := &Dispatcher{logger: logger.Named("report")}
	for _, format := range cfg.Formats {
		switch format {
		case "console":
			d.writers = append(d.writers, NewConsoleWriter(os.Stdout))
		case "json":
			d.writers = append(d.writers, NewJSONWriter(cfg.OutputDir))
		case "junit":
			d.writers = append(d.writers, NewJUnitWriter(cfg.OutputDir))
		default:
			return nil, fmt.Errorf("unknown report format %q", format)
		}
	}
	return d, nil
}

// Dispatch writes the record in every format concurrently. The first writer
// error is returned after all writers finish; the run's outcome is already
// decided by then, so the caller only logs it.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *schemas.RunRecord) error {
	g, _ := errgroup.WithContext(ctx)
	for _, w := range d.writers {
		w := w
		g.Go(func() error {
			if err := w.Write(rec); err != nil {
				return fmt.Errorf("%s report: %w", w.Name(), err)
			}
			d.logger.Debug("Report written.", zap.String("format", w.Name()))
			return nil
		})
	}
	return g.Wait()
}

// groupResults buckets results by module, preserving record order within each
// bucket and module order of first appearance.
func groupResults(rec *schemas.RunRecord) (order []string, grouped map[string][]schemas.ExecutionResult) {
	grouped = make(map[string][]schemas.ExecutionResult)
	for _, res := range rec.Results {
		if _, seen := grouped[res.Module]; !seen {
			order = append(order, res.Module)
		}
		grouped[res.Module] = append(grouped[res.Module], res)
	}
	return order, grouped
}
