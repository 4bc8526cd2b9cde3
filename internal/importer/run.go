package importer

import (
	"fmt"
	"log/slog"

	"github.com/aerobless/thereabout/internal/progress"
	"github.com/aerobless/thereabout/internal/store"
)

// importRun holds the mutable state of one import invocation: the identity
// cache, the set of source identifiers queued so far, the pending batch and
// the progress counters. It is created per import call and passed explicitly
// through the parse pipeline; nothing here is shared between runs.
type importRun struct {
	store    *store.Store
	logger   *slog.Logger
	progress *progress.Run
	app      store.Application

	identityCache map[string]*store.AppIdentity
	seen          map[string]struct{}
	batch         []store.Message
	batchSize     int

	// holdFlush suspends capacity flushes while batched messages still carry
	// a provisional self-referential receiver (WhatsApp fix-up mode). A row
	// persisted before the fix-up could not be corrected afterwards.
	holdFlush bool

	totalRecords     int64
	processedRecords int64
	imported         int64
	duplicates       int64
	lastPercent      int
}

func newImportRun(st *store.Store, logger *slog.Logger, prog *progress.Run, app store.Application, batchSize int) *importRun {
	return &importRun{
		store:         st,
		logger:        logger,
		progress:      prog,
		app:           app,
		identityCache: make(map[string]*store.AppIdentity),
		seen:          make(map[string]struct{}),
		batch:         make([]store.Message, 0, batchSize),
		batchSize:     batchSize,
	}
}

// resolve maps a raw participant label to an application identity: run cache
// first, then the store, then a newly created orphan. New identities are
// persisted immediately so later lookups within the run observe them.
func (r *importRun) resolve(label string) (*store.AppIdentity, error) {
	if ai, ok := r.identityCache[label]; ok {
		return ai, nil
	}
	ai, err := r.store.FindAppIdentity(r.app, label)
	if err != nil {
		return nil, err
	}
	if ai == nil {
		r.logger.Info("creating application identity",
			"application", r.app.DisplayName(), "identifier", label)
		ai, err = r.store.CreateAppIdentity(r.app, label, 0)
		if err != nil {
			return nil, err
		}
	}
	r.identityCache[label] = ai
	return ai, nil
}

// resolveReceiver resolves the caller-supplied or chat-derived receiver
// label. When a curated identity exists whose short name matches the label
// verbatim, the application identity is linked to it; otherwise this falls
// back to plain orphan resolution.
func (r *importRun) resolveReceiver(label string) (*store.AppIdentity, error) {
	if ai, ok := r.identityCache[label]; ok {
		return ai, nil
	}
	ident, err := r.store.FindIdentityByShortName(label)
	if err != nil {
		return nil, err
	}
	if ident == nil {
		return r.resolve(label)
	}

	ai, err := r.store.FindAppIdentity(r.app, label)
	if err != nil {
		return nil, err
	}
	if ai == nil {
		r.logger.Info("creating application identity linked to curated identity",
			"application", r.app.DisplayName(), "identifier", label, "identity", ident.ShortName)
		ai, err = r.store.CreateAppIdentity(r.app, label, ident.ID)
		if err != nil {
			return nil, err
		}
	} else if ai.IdentityID == 0 {
		if err := r.store.LinkAppIdentity(ai.ID, ident.ID); err != nil {
			return nil, err
		}
		ai.IdentityID = ident.ID
	}
	r.identityCache[label] = ai
	return ai, nil
}

// isDuplicate reports whether the source identifier was already queued in
// this run or persisted by an earlier one.
func (r *importRun) isDuplicate(sourceID string) (bool, error) {
	if _, ok := r.seen[sourceID]; ok {
		return true, nil
	}
	exists, err := r.store.MessageExists(sourceID)
	if err != nil {
		return false, fmt.Errorf("check duplicate %s: %w", sourceID, err)
	}
	return exists, nil
}

// enqueue adds a message to the pending batch unless it is a duplicate.
// Duplicates are counted and dropped, never an error. The batch is flushed
// when it reaches capacity (unless flushing is held for receiver fix-up).
func (r *importRun) enqueue(msg store.Message) error {
	dup, err := r.isDuplicate(msg.SourceIdentifier)
	if err != nil {
		return err
	}
	if dup {
		r.duplicates++
		return nil
	}
	r.seen[msg.SourceIdentifier] = struct{}{}
	r.batch = append(r.batch, msg)

	if len(r.batch) >= r.batchSize && !r.holdFlush {
		return r.flush()
	}
	return nil
}

// flush bulk-inserts the pending batch in one transaction and clears it.
// A failed flush aborts the run; batches committed earlier stay in place.
func (r *importRun) flush() error {
	if len(r.batch) == 0 {
		return nil
	}
	if err := r.store.InsertMessages(r.batch); err != nil {
		return fmt.Errorf("flush batch of %d messages: %w", len(r.batch), err)
	}
	r.imported += int64(len(r.batch))
	r.logger.Info("flushed message batch",
		"application", r.app.DisplayName(), "count", len(r.batch))
	r.batch = r.batch[:0]
	return nil
}

// recordProcessed advances the progress counters by one raw record and
// publishes the new percentage. Progress is never reported below 1 while
// work is in flight.
func (r *importRun) recordProcessed() {
	r.processedRecords++
	if r.totalRecords <= 0 {
		return
	}
	percent := int(float64(r.processedRecords) / float64(r.totalRecords) * 100)
	if percent < 1 {
		percent = 1
	}
	r.progress.Set(percent)
	if percent != r.lastPercent {
		r.lastPercent = percent
		r.logger.Debug("import progress",
			"application", r.app.DisplayName(), "percent", percent)
	}
}
