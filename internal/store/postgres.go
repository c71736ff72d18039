package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/docrank/docrank/internal/errors"
)

// DB is the durable sink. Chunks are upserted so re-ingesting a document
// overwrites its rows in place, and document rows track pipeline progress.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// DBOption configures a DB.
type DBOption func(*DB)

// WithDBLogger sets the logger.
func WithDBLogger(logger *slog.Logger) DBOption {
	return func(d *DB) {
		d.logger = logger
	}
}

// OpenDB connects to Postgres using a connection URL. The handle pools
// connections internally; callers share one DB across the process.
func OpenDB(databaseURL string, opts ...DBOption) (*DB, error) {
	if databaseURL == "" {
		return nil, errors.Validation("database url is empty")
	}
	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Fatal("open postgres connection", err)
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	d := &DB{
		db:     sqlDB,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Ping verifies the database answers within ctx.
func (d *DB) Ping(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return errors.Transient("postgres ping failed", err)
	}
	return nil
}

// Close releases the connection pool.
func (d *DB) Close() error {
	return d.db.Close()
}

// EnsureSchema creates the chunk and document tables when they do not
// exist yet. Statements are idempotent so startup can always run this.
func (d *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			access_level INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'PENDING',
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			content TEXT NOT NULL,
			access_level INTEGER NOT NULL,
			char_count INTEGER NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_access_level ON chunks (access_level)`,
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return errors.Fatal("ensure schema", err)
		}
	}
	return nil
}

// CreateDocument registers a document row ahead of processing. Re-running
// for an existing id refreshes the title and access level but leaves
// processing state alone.
func (d *DB) CreateDocument(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.Validation("document id is empty")
	}
	status := doc.Status
	if status == "" {
		status = StatusPending
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, access_level, status, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			access_level = EXCLUDED.access_level`,
		doc.ID, doc.Title, doc.AccessLevel, string(status))
	if err != nil {
		return errors.Transient("create document row", err)
	}
	return nil
}

// Document reads one document row. The second return is false when the id
// is unknown.
func (d *DB) Document(ctx context.Context, documentID string) (Document, bool, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT title, access_level, status, processed, chunk_count, created_at, processed_at
		FROM documents WHERE id = $1`, documentID)

	var (
		doc         = Document{ID: documentID}
		status      string
		processedAt sql.NullTime
	)
	err := row.Scan(&doc.Title, &doc.AccessLevel, &status, &doc.Processed, &doc.ChunkCount, &doc.CreatedAt, &processedAt)
	if err == sql.ErrNoRows {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, errors.Transient("read document row", err)
	}
	doc.Status = DocumentStatus(status)
	if processedAt.Valid {
		doc.ProcessedAt = processedAt.Time
	}
	return doc, true, nil
}

// DocumentTitle reads the canonical title for a document. Chunks carry the
// title in their metadata, and the database copy wins over whatever name
// the upload arrived with. Returns found=false when there is no row.
func (d *DB) DocumentTitle(ctx context.Context, documentID string) (string, bool, error) {
	var title string
	err := d.db.QueryRowContext(ctx,
		`SELECT title FROM documents WHERE id = $1`, documentID).Scan(&title)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Transient("read document title", err)
	}
	return title, true, nil
}

// SaveChunks upserts chunk rows inside one transaction. Metadata is stored
// as JSON with list values intact, unlike the flattened vector copy.
func (d *DB) SaveChunks(ctx context.Context, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Transient("begin chunk transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, content, access_level, char_count, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			access_level = EXCLUDED.access_level,
			char_count = EXCLUDED.char_count,
			metadata = EXCLUDED.metadata`)
	if err != nil {
		return 0, errors.Transient("prepare chunk upsert", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		id := chunk.ID
		if id == "" {
			id = ChunkID(chunk.DocumentID, chunk.Index)
		}
		meta, merr := json.Marshal(chunk.Metadata)
		if merr != nil {
			return 0, errors.Fatal("encode chunk metadata", merr)
		}
		if _, err := stmt.ExecContext(ctx, id, chunk.DocumentID, chunk.Index, chunk.Text,
			chunk.AccessLevel, chunk.CharCount(), meta); err != nil {
			return 0, errors.Transient("upsert chunk "+id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, errors.Transient("commit chunk transaction", err)
	}
	d.logger.Info("chunks saved to postgres", slog.Int("count", len(chunks)))
	return len(chunks), nil
}

// UpdateDocumentStatus records pipeline progress. A negative chunkCount
// leaves the stored count untouched, mirroring status-only transitions.
// Terminal statuses also stamp processed and processed_at.
func (d *DB) UpdateDocumentStatus(ctx context.Context, documentID string, status DocumentStatus, chunkCount int) error {
	terminal := status == StatusCompleted || status == StatusError
	var err error
	switch {
	case chunkCount >= 0 && terminal:
		_, err = d.db.ExecContext(ctx, `
			UPDATE documents
			SET status = $1, processed = true, processed_at = NOW(), chunk_count = $2
			WHERE id = $3`,
			string(status), chunkCount, documentID)
	case chunkCount >= 0:
		_, err = d.db.ExecContext(ctx, `
			UPDATE documents
			SET status = $1, chunk_count = $2
			WHERE id = $3`,
			string(status), chunkCount, documentID)
	case terminal:
		_, err = d.db.ExecContext(ctx, `
			UPDATE documents
			SET status = $1, processed = true, processed_at = NOW()
			WHERE id = $2`,
			string(status), documentID)
	default:
		_, err = d.db.ExecContext(ctx, `
			UPDATE documents
			SET status = $1
			WHERE id = $2`,
			string(status), documentID)
	}
	if err != nil {
		return errors.Transient("update document status", err)
	}
	d.logger.Info("document status updated",
		slog.String("document_id", documentID),
		slog.String("status", string(status)))
	return nil
}

// DeleteDocumentChunks removes every chunk row of one document.
func (d *DB) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, errors.Transient("delete document chunks", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteChunksFrom removes chunk rows at or beyond fromIndex. Reprocessing
// upserts the new chunk set under stable ids and then trims the remainder
// when the document shrank.
func (d *DB) DeleteChunksFrom(ctx context.Context, documentID string, fromIndex int) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id = $1 AND chunk_index >= $2`, documentID, fromIndex)
	if err != nil {
		return 0, errors.Transient("trim document chunks", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DBStats summarizes the durable sink for the stats surface.
type DBStats struct {
	TotalDocuments    int            `json:"total_documents"`
	DocumentsByStatus map[string]int `json:"documents_by_status"`
	TotalChunks       int            `json:"total_chunks"`
	AccessLevels      []int          `json:"access_levels"`
}

// Stats counts documents by status, total chunk rows, and the clearance
// levels present in the chunk corpus.
func (d *DB) Stats(ctx context.Context) (DBStats, error) {
	stats := DBStats{DocumentsByStatus: map[string]int{}}

	rows, err := d.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return DBStats{}, errors.Transient("count documents", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return DBStats{}, errors.Corruption("scan document counts", err)
		}
		stats.DocumentsByStatus[status] = count
		stats.TotalDocuments += count
	}
	if err := rows.Err(); err != nil {
		return DBStats{}, errors.Transient("iterate document counts", err)
	}

	if err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks`).Scan(&stats.TotalChunks); err != nil {
		return DBStats{}, errors.Transient("count chunks", err)
	}

	levels, err := d.db.QueryContext(ctx,
		`SELECT DISTINCT access_level FROM chunks ORDER BY access_level`)
	if err != nil {
		return DBStats{}, errors.Transient("list access levels", err)
	}
	defer levels.Close()
	for levels.Next() {
		var level int
		if err := levels.Scan(&level); err != nil {
			return DBStats{}, errors.Corruption("scan access levels", err)
		}
		stats.AccessLevels = append(stats.AccessLevels, level)
	}
	if err := levels.Err(); err != nil {
		return DBStats{}, errors.Transient("iterate access levels", err)
	}
	return stats, nil
}
