// Package importer converts exported chat archives (WhatsApp plain-text
// exports, Telegram JSON exports) into the normalized message store. Parsing
// is strictly sequential per file: message boundaries and receiver fix-up
// depend on record order.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/aerobless/thereabout/internal/progress"
	"github.com/aerobless/thereabout/internal/store"
)

// ErrReceiverRequired is returned when a Telegram export contains a personal
// chat and the caller supplied no receiver. Personal chats never name their
// receiver, so assignment would be ambiguous.
var ErrReceiverRequired = errors.New("telegram export contains a personal chat; a receiver is required")

const defaultBatchSize = 1000

// parseFunc parses one file format and feeds records through the run.
type parseFunc func(ctx context.Context, run *importRun, path, receiver string) error

// Importer runs chat archive imports against the store.
type Importer struct {
	store   *store.Store
	tracker *progress.Tracker
	logger  *slog.Logger

	batchSize int
	parsers   map[store.Application]parseFunc
}

// New creates an Importer. A nil logger falls back to slog.Default().
func New(st *store.Store, tracker *progress.Tracker, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	imp := &Importer{
		store:     st,
		tracker:   tracker,
		logger:    logger,
		batchSize: defaultBatchSize,
	}
	imp.parsers = map[store.Application]parseFunc{
		store.AppWhatsApp: imp.parseWhatsApp,
		store.AppTelegram: imp.parseTelegram,
	}
	return imp
}

// SetBatchSize overrides the flush threshold. Values below 1 are ignored.
func (imp *Importer) SetBatchSize(n int) {
	if n > 0 {
		imp.batchSize = n
	}
}

// Start claims the import slot and launches the import asynchronously,
// returning the progress run token. The file at path is consumed: it and its
// containing scratch directory are deleted when the run ends.
func (imp *Importer) Start(path string, app store.Application, receiver string) (string, error) {
	run, err := imp.tracker.Begin()
	if err != nil {
		imp.cleanupScratch(path)
		return "", err
	}
	go func() {
		if err := imp.runImport(context.Background(), run, path, app, receiver); err != nil {
			imp.logger.Error("import failed",
				"application", app.DisplayName(),
				"file", filepath.Base(path),
				"error", err)
		}
	}()
	return run.Token(), nil
}

// ImportFile runs an import synchronously. The file at path is consumed on
// every exit path, like Start.
func (imp *Importer) ImportFile(ctx context.Context, path string, app store.Application, receiver string) error {
	run, err := imp.tracker.Begin()
	if err != nil {
		imp.cleanupScratch(path)
		return err
	}
	return imp.runImport(ctx, run, path, app, receiver)
}

func (imp *Importer) runImport(ctx context.Context, prog *progress.Run, path string, app store.Application, receiver string) error {
	defer prog.Done()
	defer imp.cleanupScratch(path)

	parse, ok := imp.parsers[app]
	if !ok {
		return fmt.Errorf("no importer registered for application %s", app.DisplayName())
	}

	imp.logger.Info("starting import",
		"application", app.DisplayName(),
		"file", filepath.Base(path),
		"receiver", receiver)
	start := time.Now()

	run := newImportRun(imp.store, imp.logger, prog, app, imp.batchSize)
	if err := parse(ctx, run, path, receiver); err != nil {
		return err
	}

	imp.logger.Info("finished import",
		"application", app.DisplayName(),
		"file", filepath.Base(path),
		"imported", run.imported,
		"duplicates", run.duplicates,
		"participants", len(run.identityCache),
		"duration", time.Since(start).Round(time.Millisecond))
	return nil
}

// cleanupScratch removes the import file and its containing scratch
// directory. Failures are logged, never escalated: cleanup must not mask the
// import outcome.
func (imp *Importer) cleanupScratch(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		imp.logger.Warn("failed to remove import file", "path", path, "error", err)
		return
	}
	dir := filepath.Dir(path)
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		imp.logger.Warn("failed to remove scratch directory", "path", dir, "error", err)
	}
}
