// File: internal/applog/applog.go

// Package applog tails the MGrant server log during a run so a failure can
// be read next to what the backend was doing at the time.
package applog

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

// historyCap bounds the in-memory line ring. Only the most recent lines are
// ever attached to a failure.
const historyCap = 500

// Watcher follows the application log file and keeps a ring of recent lines.
type Watcher struct {
	cfg    config.AppLogConfig
	logger *zap.Logger

	tailer *tail.Tail
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	lines []string
}

// NewWatcher creates a watcher; the file is opened in Start.
func NewWatcher(cfg config.AppLogConfig, logger *zap.Logger) *Watcher {
	return &Watcher{
		cfg:    cfg,
		logger: logger.Named("applog"),
	}
}

// Start begins following the log file from its current end. Only lines
// written while the run executes are of interest.
func (w *Watcher) Start(ctx context.Context) error {
	if w.cfg.Path == "" {
		return fmt.Errorf("applog is enabled but no path is configured")
	}

	tailer, err := tail.TailFile(w.cfg.Path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("cannot tail %q: %w", w.cfg.Path, err)
	}
	w.tailer = tailer

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.follow(watchCtx)
	w.logger.Info("Following application log.", zap.String("path", w.cfg.Path))
	return nil
}

func (w *Watcher) follow(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-w.tailer.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				w.logger.Debug("Tail error.", zap.Error(line.Err))
				continue
			}
			w.append(line.Text)
		}
	}
}

func (w *Watcher) append(line string) {
	w.mu.Lock()
	w.lines = append(w.lines, line)
	if len(w.lines) > historyCap {
		w.lines = w.lines[len(w.lines)-historyCap:]
	}
	w.mu.Unlock()
}

// Recent returns the last n lines, oldest first.
func (w *Watcher) Recent(n int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if n <= 0 || n > len(w.lines) {
		n = len(w.lines)
	}
	out := make([]string, n)
	copy(out, w.lines[len(w.lines)-n:])
	return out
}

// Close stops following the file. Safe to call without Start.
func (w *Watcher) Close() error {
	if w.tailer == nil {
		return nil
	}
	w.cancel()
	err := w.tailer.Stop()
	<-w.done
	w.tailer.Cleanup()
	return err
}
