package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/memorystore"
	"github.com/localrivet/researchmemory/internal/telemetry"
	"github.com/localrivet/researchmemory/internal/vector"
	"go.opentelemetry.io/otel/attribute"
)

// Option configures an Engine.
type Option func(*Options)

// Options holds Engine settings.
type Options struct {
	// Embedder, when set, embeds every new record. Its failures leave the
	// record without an embedding.
	Embedder     vector.Embedder
	EmbedTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *telemetry.MetricsCollector
	Now          func() time.Time
}

// WithEmbedder sets the embedder for new records.
func WithEmbedder(e vector.Embedder) Option {
	return func(o *Options) {
		o.Embedder = e
	}
}

// WithEmbedTimeout bounds each embedder call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.EmbedTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.MetricsCollector) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithClock replaces time.Now for cursor and dead letter timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Now = now
		}
	}
}

// Engine applies source log entries to the store exactly once. It is the
// only writer of log-derived records; concurrent Sync calls are serialized
// by the store's writer lock but should not be issued.
type Engine struct {
	store   memorystore.MemoryStore
	state   *ProjectState
	options Options
}

// NewEngine creates an Engine writing to store and keeping cursors in state.
func NewEngine(store memorystore.MemoryStore, state *ProjectState, opts ...Option) *Engine {
	options := Options{
		Logger: slog.Default(),
		Now:    time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Engine{store: store, state: state, options: options}
}

// resumePoint returns the index of the first pending entry. found is false
// when there is no cursor or the cursor key is not in the log, in which case
// every entry is pending.
func resumePoint(entries []Entry, cursor string) (start int, found bool) {
	if cursor == "" {
		return 0, false
	}
	for i, e := range entries {
		if key, err := e.Key(); err == nil && key == cursor {
			return i + 1, true
		}
	}
	return 0, false
}

// Sync applies the pending entries of src:
//
//  1. entries after the cursor are pending; without a usable cursor all are
//  2. a keyless entry is an error and a dead letter
//  3. a key already in the store is skipped
//  4. otherwise the entry is mapped, embedded and written
//  5. when anything was written the cursor moves to the last keyed entry
//
// A single entry never fails the run. Only an unusable store aborts it, and
// then the cursor is left untouched.
func (e *Engine) Sync(ctx context.Context, src Source) (res *Result, err error) {
	m := e.options.Metrics
	logger := e.options.Logger.With("source", src.Name())
	runID := uuid.NewString()
	started := time.Now()

	m.IncrementCounter(telemetry.MetricSyncRuns, 1)
	defer func() {
		m.RecordTimer(telemetry.MetricSyncDuration, time.Since(started))
		m.RecordTimestamp(telemetry.MetricLastSync)
		if err != nil {
			m.IncrementCounter(telemetry.MetricSyncAborted, 1)
			return
		}
		m.IncrementCounter(telemetry.MetricSyncSynced, int64(res.Synced))
		m.IncrementCounter(telemetry.MetricSyncSkipped, int64(res.Skipped))
		m.IncrementCounter(telemetry.MetricSyncErrors, int64(res.Errors))
	}()

	ctx, span := telemetry.StartSpan(ctx, "sync.run",
		attribute.String("sync.source", src.Name()),
		attribute.String("sync.run_id", runID),
	)
	defer func() {
		if res != nil {
			span.SetAttributes(
				attribute.Int("sync.synced", res.Synced),
				attribute.Int("sync.skipped", res.Skipped),
				attribute.Int("sync.errors", res.Errors),
			)
		}
		telemetry.EndSpan(span, err)
	}()

	res = &Result{Source: src.Name(), RunID: runID}

	cursor := ""
	if key := src.CursorKey(); key != "" {
		cursor, err = e.state.Cursor(key)
		if err != nil {
			return nil, err
		}
	}
	res.LastID = cursor

	entries, err := src.Entries(ctx)
	switch {
	case err == nil:
	case errortypes.IsNotFound(err):
		res.Message = err.Error()
		return res, nil
	case errortypes.IsMalformedEntry(err):
		logger.Warn("Source log cannot be parsed", "error", err)
		res.Errors = 1
		res.Message = err.Error()
		return res, nil
	default:
		return nil, err
	}

	if len(entries) == 0 {
		res.Message = fmt.Sprintf("No %s to sync", src.Name())
		return res, nil
	}

	start, found := resumePoint(entries, cursor)
	if found {
		for _, entry := range entries[:start] {
			if _, kerr := entry.Key(); kerr == nil {
				res.Skipped++
			}
		}
	} else if cursor != "" {
		logger.Warn("Sync cursor not found in log, rechecking every entry", "cursor", cursor)
	}

	var (
		lastKey string
		dead    []DeadLetter
	)
	deadLetter := func(key string, pos int, reason error) {
		dead = append(dead, DeadLetter{
			Key:        key,
			Source:     src.Name(),
			Position:   pos,
			Reason:     reason.Error(),
			RunID:      runID,
			RecordedAt: e.options.Now().UTC().Format(syncTimeLayout),
		})
	}

	for i, entry := range entries[start:] {
		pos := start + i
		if cerr := ctx.Err(); cerr != nil {
			return nil, cerr
		}

		key, kerr := entry.Key()
		if kerr != nil {
			res.Errors++
			logger.Warn("Skipping malformed entry", "position", pos, "error", kerr)
			deadLetter("sha:"+entry.Fingerprint(), pos, kerr)
			continue
		}
		lastKey = key

		existing, ferr := e.store.FindByExternalID(ctx, key)
		if ferr != nil {
			if errortypes.IsStorageUnavailable(ferr) {
				return nil, ferr
			}
			res.Errors++
			logger.Warn("Lookup failed", "key", key, "error", ferr)
			deadLetter(key, pos, ferr)
			continue
		}
		if existing != nil {
			res.Skipped++
			continue
		}

		rec, merr := entry.ToRecord()
		if merr != nil {
			res.Errors++
			logger.Warn("Entry cannot be mapped to a record", "key", key, "error", merr)
			deadLetter(key, pos, merr)
			continue
		}
		rec.ExternalID = key
		rec.Embedding = e.embed(ctx, logger, rec)

		if _, perr := e.store.Put(ctx, &rec); perr != nil {
			switch {
			case errortypes.IsConflict(perr):
				res.Skipped++
			case errortypes.IsStorageUnavailable(perr):
				return nil, perr
			default:
				res.Errors++
				errortypes.LogError(logger, perr)
				deadLetter(key, pos, perr)
			}
			continue
		}
		res.Synced++
		logger.Debug("Synced entry", "key", key, "namespace", rec.Namespace)
	}

	checkpoint := Checkpoint{RunID: runID, Time: e.options.Now(), DeadLetters: dead}
	if src.CursorKey() == "" {
		if lastKey != "" {
			res.LastID = lastKey
		}
	} else if res.Synced > 0 && lastKey != "" {
		checkpoint.CursorKey = src.CursorKey()
		checkpoint.Cursor = lastKey
		res.LastID = lastKey
	}
	if err := e.state.Commit(checkpoint); err != nil {
		return nil, err
	}

	res.Message = fmt.Sprintf("Synced %d %s, skipped %d, errors %d", res.Synced, src.Name(), res.Skipped, res.Errors)
	logger.Info("Sync complete",
		"run_id", runID,
		"synced", res.Synced,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"last_id", res.LastID)
	return res, nil
}

// embed returns the record's embedding, or nil when there is no embedder or
// it fails.
func (e *Engine) embed(ctx context.Context, logger *slog.Logger, rec memorystore.Record) []float32 {
	if e.options.Embedder == nil {
		return nil
	}
	text := strings.TrimSpace(rec.Title + "\n" + rec.Content)
	if text == "" {
		return nil
	}

	if e.options.EmbedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.options.EmbedTimeout)
		defer cancel()
	}

	emb, err := e.options.Embedder.CreateEmbedding(ctx, text)
	if err != nil {
		logger.Warn("Embedding failed, storing record without one", "key", rec.ExternalID, "error", err)
		return nil
	}
	return emb
}

// SyncProject syncs the decision log, then the sessions directory.
func (e *Engine) SyncProject(ctx context.Context, decisions, sessions Source) (*ProjectResult, error) {
	dec, err := e.Sync(ctx, decisions)
	if err != nil {
		return nil, err
	}
	sess, err := e.Sync(ctx, sessions)
	if err != nil {
		return nil, err
	}
	return &ProjectResult{
		Decisions:    dec,
		Sessions:     sess,
		TotalSynced:  dec.Synced + sess.Synced,
		TotalSkipped: dec.Skipped + sess.Skipped,
		TotalErrors:  dec.Errors + sess.Errors,
	}, nil
}

// Status reports how far src has been applied. Pending counts keyed entries
// after the cursor that are not in the store yet.
func (e *Engine) Status(ctx context.Context, src Source) (*Status, error) {
	st := &Status{Source: src.Name()}

	if key := src.CursorKey(); key != "" {
		cursor, err := e.state.Cursor(key)
		if err != nil {
			return nil, err
		}
		st.LastSyncedID = cursor
		if st.LastSyncTime, err = e.state.Metadata(lastSyncTimeKey); err != nil {
			return nil, err
		}
	}

	entries, err := src.Entries(ctx)
	if err != nil && !errortypes.IsNotFound(err) && !errortypes.IsMalformedEntry(err) {
		return nil, err
	}
	st.LogCount = len(entries)

	start, _ := resumePoint(entries, st.LastSyncedID)
	for _, entry := range entries[start:] {
		key, kerr := entry.Key()
		if kerr != nil {
			continue
		}
		existing, ferr := e.store.FindByExternalID(ctx, key)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			st.PendingCount++
		}
	}

	if st.IndexedCount, err = e.store.Count(ctx, src.Scope()); err != nil {
		return nil, err
	}
	if st.DeadLetters, err = e.state.DeadLetters(src.Name()); err != nil {
		return nil, err
	}
	st.InSync = st.PendingCount == 0
	return st, nil
}

// ProjectStatus reports the decision log and the sessions directory.
func (e *Engine) ProjectStatus(ctx context.Context, decisions, sessions Source) ([]*Status, error) {
	out := make([]*Status, 0, 2)
	for _, src := range []Source{decisions, sessions} {
		st, err := e.Status(ctx, src)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
