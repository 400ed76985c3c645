package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/xhad/sift/pkg/ingest"
)

// FileIngestor is what the watcher drives; satisfied by ingest.Pipeline.
type FileIngestor interface {
	IngestFile(ctx context.Context, path, scope string) (int64, error)
}

type WatcherConfig struct {
	Dir      string
	Scope    string
	Debounce time.Duration
	Logger   *logrus.Logger
}

// Watcher ingests every supported file already in the drop directory and
// then keeps feeding new arrivals into the pipeline. Duplicate filesystem
// events for the same path within the debounce window are ignored.
type Watcher struct {
	config   WatcherConfig
	ingestor FileIngestor
	fsw      *fsnotify.Watcher
	log      *logrus.Logger
	seen     map[string]time.Time
}

func NewWithConfig(ingestor FileIngestor, config WatcherConfig) (*Watcher, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("watcher requires an ingestor")
	}
	info, err := os.Stat(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", config.Dir)
	}
	if config.Debounce == 0 {
		config.Debounce = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(config.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", config.Dir, err)
	}

	return &Watcher{
		config:   config,
		ingestor: ingestor,
		fsw:      fsw,
		log:      config.Logger,
		seen:     make(map[string]time.Time),
	}, nil
}

// Run blocks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	if err := w.scanExisting(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.handle(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.config.Dir)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", w.config.Dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.handle(ctx, filepath.Join(w.config.Dir, e.Name()))
	}
	return nil
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if !ingest.Supported(path) {
		return
	}
	if last, ok := w.seen[path]; ok && time.Since(last) < w.config.Debounce {
		return
	}
	w.seen[path] = time.Now()

	if _, err := w.ingestor.IngestFile(ctx, path, w.config.Scope); err != nil {
		w.log.WithError(err).WithField("file", path).Warn("failed to ingest file")
		return
	}
	w.log.WithField("file", path).Info("ingested from watch directory")
}
