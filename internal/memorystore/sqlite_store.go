package memorystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/localrivet/researchmemory/internal/vector"
)

// DefaultPoolSize is the number of pooled connections when none is configured.
const DefaultPoolSize = 4

const schemaSQL = `
CREATE TABLE IF NOT EXISTS memories (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id  TEXT,
	type         TEXT    NOT NULL,
	namespace    TEXT    NOT NULL DEFAULT '',
	title        TEXT    NOT NULL DEFAULT '',
	content      TEXT    NOT NULL DEFAULT '',
	summary      TEXT    NOT NULL DEFAULT '',
	embedding    BLOB,
	tags         TEXT    NOT NULL DEFAULT '[]',
	status       TEXT    NOT NULL DEFAULT 'active',
	priority     INTEGER NOT NULL DEFAULT 5,
	project_name TEXT    NOT NULL DEFAULT '',
	session_id   TEXT    NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace);
CREATE INDEX IF NOT EXISTS idx_memories_type      ON memories(type, status);
CREATE INDEX IF NOT EXISTS idx_memories_external  ON memories(external_id);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_external_active
	ON memories(external_id)
	WHERE external_id IS NOT NULL AND status = 'active';

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	content,
	content='memories',
	content_rowid='id'
);

CREATE TRIGGER IF NOT EXISTS memories_fts_insert AFTER INSERT ON memories BEGIN
	INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_delete AFTER DELETE ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
END;

CREATE TRIGGER IF NOT EXISTS memories_fts_update AFTER UPDATE OF content ON memories BEGIN
	INSERT INTO memories_fts(memories_fts, rowid, content) VALUES ('delete', old.id, old.content);
	INSERT INTO memories_fts(rowid, content) VALUES (new.id, new.content);
END;
`

const recordColumns = `m.id, m.external_id, m.type, m.namespace, m.title, m.content, m.summary,
	m.embedding, m.tags, m.status, m.priority, m.project_name, m.session_id, m.created_at`

// SQLiteMemoryStore is an implementation of MemoryStore that uses SQLite
// with an FTS5 index over record content. Reads share a
// connection pool; writes are serialized.
type SQLiteMemoryStore struct {
	dbPath   string
	poolSize int
	logger   *slog.Logger

	mu      sync.RWMutex // guards pool against Close
	pool    *sqlitex.Pool
	writeMu sync.Mutex
}

// NewSQLiteMemoryStore creates a new SQLiteMemoryStore instance.
func NewSQLiteMemoryStore(poolSize int, logger *slog.Logger) *SQLiteMemoryStore {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteMemoryStore{
		poolSize: poolSize,
		logger:   logger,
	}
}

// Initialize opens (creating if needed) the database at dbPath and applies the schema.
func (s *SQLiteMemoryStore) Initialize(dbPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool != nil {
		return nil
	}
	s.dbPath = dbPath

	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errortypes.StorageUnavailableError(err, "failed to create database directory").
				WithField("path", dbPath)
		}
	}

	pool, err := sqlitex.Open(dbPath, 0, s.poolSize)
	if err != nil {
		return errortypes.StorageUnavailableError(err, "failed to open SQLite database").
			WithField("path", dbPath)
	}

	conn := pool.Get(context.Background())
	if conn == nil {
		pool.Close()
		return errortypes.StorageUnavailableError(errors.New("no connection available"), "failed to open SQLite database")
	}
	err = sqlitex.ExecScript(conn, schemaSQL)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return errortypes.StorageUnavailableError(err, "failed to apply schema").
			WithField("path", dbPath)
	}

	s.pool = pool
	s.logger.Debug("Memory store initialized", "path", dbPath, "pool_size", s.poolSize)
	return nil
}

// Close closes the store and releases any resources.
func (s *SQLiteMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pool == nil {
		return nil
	}
	err := s.pool.Close()
	s.pool = nil
	return err
}

// acquire takes a pooled connection bound to ctx. The returned release must
// be called exactly once.
func (s *SQLiteMemoryStore) acquire(ctx context.Context) (*sqlite.Conn, func(), error) {
	s.mu.RLock()
	if s.pool == nil {
		s.mu.RUnlock()
		return nil, nil, errortypes.StorageUnavailableError(errors.New("store is closed"), "cannot use memory store")
	}

	pool := s.pool
	conn := pool.Get(ctx)
	if conn == nil {
		s.mu.RUnlock()
		err := ctx.Err()
		if err == nil {
			err = errors.New("connection pool closed")
		}
		return nil, nil, errortypes.StorageUnavailableError(err, "no database connection available")
	}
	conn.SetInterrupt(ctx.Done())

	release := func() {
		conn.SetInterrupt(nil)
		pool.Put(conn)
		s.mu.RUnlock()
	}
	return conn, release, nil
}

// classify maps a SQLite failure onto the service error taxonomy.
func classify(ctx context.Context, err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *errortypes.AppError
	if errors.As(err, &appErr) {
		return err
	}

	code := sqlite.ErrCode(err)
	switch code & 0xff {
	case sqlite.SQLITE_IOERR, sqlite.SQLITE_CANTOPEN, sqlite.SQLITE_FULL,
		sqlite.SQLITE_READONLY, sqlite.SQLITE_CORRUPT, sqlite.SQLITE_NOTADB:
		return errortypes.StorageUnavailableError(err, message)
	case sqlite.SQLITE_INTERRUPT:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errortypes.DatabaseError(fmt.Errorf("%w: %w", ctxErr, err), message)
		}
	}

	return errortypes.DatabaseError(err, message)
}

// filterClause renders f as SQL conditions on alias m, returning the clause
// (starting with " AND" when non-empty) and its arguments.
func filterClause(f Filter) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}

	if p := strings.Trim(f.NamespacePrefix, "."); p != "" {
		b.WriteString(" AND (m.namespace = ? OR substr(m.namespace, 1, ?) = ?)")
		args = append(args, p, int64(utf8.RuneCountInString(p)+1), p+".")
	}
	if f.Type != "" {
		b.WriteString(" AND m.type = ?")
		args = append(args, f.Type)
	}
	return b.String(), args
}

// matchQuery quotes every query term so FTS5 syntax never leaks through and
// OR-joins them. It returns "" when the query holds no terms.
func matchQuery(query string) string {
	terms := vector.Tokenize(query)
	seen := make(map[string]bool, len(terms))
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func scanRecord(stmt *sqlite.Stmt) (*Record, error) {
	r := &Record{
		ID:          stmt.ColumnInt64(0),
		ExternalID:  stmt.ColumnText(1),
		Type:        stmt.ColumnText(2),
		Namespace:   stmt.ColumnText(3),
		Title:       stmt.ColumnText(4),
		Content:     stmt.ColumnText(5),
		Summary:     stmt.ColumnText(6),
		Status:      stmt.ColumnText(9),
		Priority:    int(stmt.ColumnInt64(10)),
		ProjectName: stmt.ColumnText(11),
		SessionID:   stmt.ColumnText(12),
		CreatedAt:   time.Unix(0, stmt.ColumnInt64(13)).UTC(),
	}

	if stmt.ColumnType(7) != sqlite.SQLITE_NULL {
		emb, err := decodeEmbedding(stmt, 7)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
		r.Embedding = emb
	}

	if tags := stmt.ColumnText(8); tags != "" && tags != "[]" {
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("record %d: failed to decode tags: %w", r.ID, err)
		}
	}

	return r, nil
}

func decodeEmbedding(stmt *sqlite.Stmt, col int) ([]float32, error) {
	buf := make([]byte, stmt.ColumnLen(col))
	stmt.ColumnBytes(col, buf)
	return vector.BytesToFloat32Slice(buf)
}

// Put inserts r inside one savepoint and sets r.ID, r.Status and r.CreatedAt.
func (s *SQLiteMemoryStore) Put(ctx context.Context, r *Record) (id int64, err error) {
	if r == nil {
		return 0, errortypes.ValidationError(errors.New("record is nil"), "invalid record")
	}
	if strings.TrimSpace(r.Type) == "" {
		return 0, errortypes.ValidationError(errors.New("record type is required"), "invalid record")
	}

	status := r.Status
	if status == "" {
		status = StatusActive
	}
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var embBytes []byte
	if r.Embedding != nil {
		embBytes, err = vector.Float32SliceToBytes(r.Embedding)
		if err != nil {
			return 0, errortypes.InternalError(err, "failed to encode embedding")
		}
	}

	tags := []string{}
	if r.Tags != nil {
		tags = r.Tags
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, errortypes.InternalError(err, "failed to encode tags")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	defer sqlitex.Save(conn)(&err)

	if r.ExternalID != "" && status == StatusActive {
		var existing int64
		err = sqlitex.Exec(conn,
			`SELECT id FROM memories WHERE external_id = ? AND status = 'active' LIMIT 1`,
			func(stmt *sqlite.Stmt) error {
				existing = stmt.ColumnInt64(0)
				return nil
			}, r.ExternalID)
		if err != nil {
			return 0, classify(ctx, err, "failed to check external id")
		}
		if existing != 0 {
			return 0, errortypes.ConflictError(nil, "external id already bound").
				WithField("external_id", r.ExternalID).
				WithField("existing_id", existing)
		}
	}

	stmt, err := conn.Prepare(`INSERT INTO memories
		(external_id, type, namespace, title, content, summary, embedding, tags,
		 status, priority, project_name, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, classify(ctx, err, "failed to prepare insert statement")
	}
	defer stmt.Reset()

	if r.ExternalID == "" {
		stmt.BindNull(1)
	} else {
		stmt.BindText(1, r.ExternalID)
	}
	stmt.BindText(2, r.Type)
	stmt.BindText(3, r.Namespace)
	stmt.BindText(4, r.Title)
	stmt.BindText(5, r.Content)
	stmt.BindText(6, r.Summary)
	if embBytes == nil {
		stmt.BindNull(7)
	} else {
		stmt.BindBytes(7, embBytes)
	}
	stmt.BindText(8, string(tagsJSON))
	stmt.BindText(9, status)
	stmt.BindInt64(10, int64(r.Priority))
	stmt.BindText(11, r.ProjectName)
	stmt.BindText(12, r.SessionID)
	stmt.BindInt64(13, createdAt.UnixNano())

	if _, err = stmt.Step(); err != nil {
		if code := sqlite.ErrCode(err); code == sqlite.SQLITE_CONSTRAINT_UNIQUE || code&0xff == sqlite.SQLITE_CONSTRAINT {
			return 0, errortypes.ConflictError(err, "external id already bound").
				WithField("external_id", r.ExternalID)
		}
		return 0, classify(ctx, err, "failed to insert memory")
	}

	id = conn.LastInsertRowID()
	r.ID = id
	r.Status = status
	r.CreatedAt = createdAt
	return id, nil
}

// Get returns the record with the given id, archived or not, or nil when absent.
func (s *SQLiteMemoryStore) Get(ctx context.Context, id int64) (*Record, error) {
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM memories m WHERE m.id = ?`, id)
}

// FindByExternalID returns the record bound to externalID, preferring the
// active one, or nil when the id was never written.
func (s *SQLiteMemoryStore) FindByExternalID(ctx context.Context, externalID string) (*Record, error) {
	if externalID == "" {
		return nil, nil
	}
	return s.queryOne(ctx, `SELECT `+recordColumns+` FROM memories m
		WHERE m.external_id = ?
		ORDER BY (m.status = 'active') DESC, m.id DESC
		LIMIT 1`, externalID)
}

func (s *SQLiteMemoryStore) queryOne(ctx context.Context, query string, args ...interface{}) (*Record, error) {
	conn, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var rec *Record
	err = sqlitex.Exec(conn, query, func(stmt *sqlite.Stmt) error {
		r, err := scanRecord(stmt)
		if err != nil {
			return err
		}
		rec = r
		return nil
	}, args...)
	if err != nil {
		return nil, classify(ctx, err, "failed to read memory")
	}
	return rec, nil
}

// SearchText ranks active records by FTS5 bm25 over title and content. Terms
// are OR-ed; equal scores order by descending id. A query without terms
// returns an empty list.
func (s *SQLiteMemoryStore) SearchText(ctx context.Context, query string, filter Filter, limit int) ([]Record, error) {
	match := matchQuery(query)
	if match == "" || limit <= 0 {
		return []Record{}, nil
	}

	clause, args := filterClause(filter)
	sql := `SELECT ` + recordColumns + `
		FROM memories_fts
		JOIN memories m ON m.id = memories_fts.rowid
		WHERE memories_fts MATCH ? AND m.status = 'active'` + clause + `
		ORDER BY bm25(memories_fts), m.id DESC
		LIMIT ?`
	args = append([]interface{}{match}, args...)
	args = append(args, int64(limit))

	conn, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	results := []Record{}
	err = sqlitex.Exec(conn, sql, func(stmt *sqlite.Stmt) error {
		r, err := scanRecord(stmt)
		if err != nil {
			return err
		}
		results = append(results, *r)
		return nil
	}, args...)
	if err != nil {
		return nil, classify(ctx, err, "failed to search memories")
	}
	return results, nil
}

// IterEmbeddings streams (id, embedding) for active records with an
// embedding, in ascending id order. Rows whose vector fails to decode are
// logged and skipped. The scan stops when ctx is done.
func (s *SQLiteMemoryStore) IterEmbeddings(ctx context.Context, filter Filter, fn EmbeddingFunc) error {
	clause, args := filterClause(filter)
	sql := `SELECT m.id, m.embedding FROM memories m
		WHERE m.status = 'active' AND m.embedding IS NOT NULL` + clause + `
		ORDER BY m.id`

	conn, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	var fnErr error
	err = sqlitex.Exec(conn, sql, func(stmt *sqlite.Stmt) error {
		id := stmt.ColumnInt64(0)
		emb, err := decodeEmbedding(stmt, 1)
		if err != nil {
			s.logger.Warn("Skipping unreadable embedding", "id", id, "error", err)
			return nil
		}
		if err := fn(id, emb); err != nil {
			fnErr = err
			return err
		}
		return nil
	}, args...)
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		return classify(ctx, err, "failed to scan embeddings")
	}
	return ctx.Err()
}

// Count returns the number of active records matching filter.
func (s *SQLiteMemoryStore) Count(ctx context.Context, filter Filter) (int, error) {
	clause, args := filterClause(filter)

	conn, release, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	var n int64
	err = sqlitex.Exec(conn, `SELECT COUNT(*) FROM memories m WHERE m.status = 'active'`+clause,
		func(stmt *sqlite.Stmt) error {
			n = stmt.ColumnInt64(0)
			return nil
		}, args...)
	if err != nil {
		return 0, classify(ctx, err, "failed to count memories")
	}
	return int(n), nil
}

// Archive marks a record archived. Archiving an archived record is a no-op.
func (s *SQLiteMemoryStore) Archive(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn, release, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = sqlitex.Exec(conn, `UPDATE memories SET status = 'archived' WHERE id = ?`, nil, id)
	if err != nil {
		return classify(ctx, err, "failed to archive memory")
	}
	if conn.Changes() == 0 {
		return errortypes.NotFoundError(nil, "memory not found").WithField("id", id)
	}
	return nil
}

// Stats summarizes the store contents.
func (s *SQLiteMemoryStore) Stats(ctx context.Context) (*Stats, error) {
	conn, release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	stats := &Stats{ByType: make(map[string]int)}
	err = sqlitex.Exec(conn, `SELECT type, status, COUNT(*), SUM(embedding IS NOT NULL)
		FROM memories GROUP BY type, status`,
		func(stmt *sqlite.Stmt) error {
			typ, status := stmt.ColumnText(0), stmt.ColumnText(1)
			n := int(stmt.ColumnInt64(2))

			stats.Total += n
			if status == StatusActive {
				stats.Active += n
				stats.ByType[typ] += n
				stats.WithEmbeddings += int(stmt.ColumnInt64(3))
			} else {
				stats.Archived += n
			}
			return nil
		})
	if err != nil {
		return nil, classify(ctx, err, "failed to compute store stats")
	}
	return stats, nil
}
