package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hankchiu-tw/docpipe/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	dir_name      TEXT NOT NULL UNIQUE,
	file_name     TEXT NOT NULL,
	page_count    INTEGER NOT NULL,
	size_bytes    INTEGER NOT NULL,
	process_mode  TEXT NOT NULL,
	status        TEXT NOT NULL,
	error_details TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS split_units (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL REFERENCES documents(id),
	seq         INTEGER NOT NULL,
	start_page  INTEGER NOT NULL,
	page_count  INTEGER NOT NULL,
	status      TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	UNIQUE(document_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_split_units_status ON split_units(status);

CREATE TABLE IF NOT EXISTS pages (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id   INTEGER NOT NULL REFERENCES documents(id),
	split_unit_id INTEGER NOT NULL REFERENCES split_units(id),
	page_number   INTEGER NOT NULL,
	page_in_unit  INTEGER NOT NULL,
	status        TEXT NOT NULL,
	UNIQUE(document_id, page_number)
);

CREATE TABLE IF NOT EXISTS doc_tables (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id     INTEGER NOT NULL REFERENCES pages(id),
	page_number INTEGER NOT NULL,
	table_index INTEGER NOT NULL,
	UNIQUE(page_id, table_index)
);

CREATE TABLE IF NOT EXISTS figures (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id      INTEGER NOT NULL REFERENCES pages(id),
	page_number  INTEGER NOT NULL,
	figure_index INTEGER NOT NULL,
	description  TEXT,
	UNIQUE(page_id, figure_index)
);

CREATE TABLE IF NOT EXISTS chunks (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id INTEGER NOT NULL REFERENCES documents(id),
	seq         INTEGER NOT NULL,
	content     TEXT NOT NULL,
	status      TEXT NOT NULL,
	UNIQUE(document_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_chunks_status ON chunks(status);
`

// SQLite is the Store implementation backed by a local SQLite database.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (dir_name, file_name, page_count, size_bytes, process_mode, status, error_details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.DirName, doc.FileName, doc.PageCount, doc.SizeBytes, doc.ProcessMode, doc.Status, doc.ErrorDetails, doc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	doc.ID, err = res.LastInsertId()
	return err
}

const documentColumns = `id, dir_name, file_name, page_count, size_bytes, process_mode, status, error_details, created_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	doc := &models.Document{}
	err := row.Scan(&doc.ID, &doc.DirName, &doc.FileName, &doc.PageCount, &doc.SizeBytes,
		&doc.ProcessMode, &doc.Status, &doc.ErrorDetails, &doc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

func (s *SQLite) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

func (s *SQLite) FindDocumentByFileName(ctx context.Context, fileName string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE file_name = ? AND status != ?`,
		fileName, models.DocumentDeleted)
	return scanDocument(row)
}

func (s *SQLite) ListDocumentsByStatus(ctx context.Context, status models.DocumentStatus, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE status = ? ORDER BY id LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *SQLite) UpdateDocumentStatus(ctx context.Context, id int64, status models.DocumentStatus, errorDetails string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error_details = ? WHERE id = ?`, status, errorDetails, id)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) CreateSplitUnits(ctx context.Context, units []*models.SplitUnit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range units {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO split_units (document_id, seq, start_page, page_count, status, reason)
			VALUES (?, ?, ?, ?, ?, ?)`,
			u.DocumentID, u.Seq, u.StartPage, u.PageCount, u.Status, u.Reason)
		if err != nil {
			return fmt.Errorf("failed to create split unit %d: %w", u.Seq, err)
		}
		if u.ID, err = res.LastInsertId(); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const unitColumns = `u.id, u.document_id, u.seq, u.start_page, u.page_count, u.status, u.reason, d.dir_name, d.file_name`

func scanUnit(row interface{ Scan(...any) error }) (*models.SplitUnit, error) {
	u := &models.SplitUnit{}
	err := row.Scan(&u.ID, &u.DocumentID, &u.Seq, &u.StartPage, &u.PageCount,
		&u.Status, &u.Reason, &u.DocumentDir, &u.DocumentFileName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func (s *SQLite) listUnits(ctx context.Context, where string, args ...any) ([]*models.SplitUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM split_units u JOIN documents d ON d.id = u.document_id
		`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list split units: %w", err)
	}
	defer rows.Close()

	var units []*models.SplitUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *SQLite) ListUnitsByStatus(ctx context.Context, status models.UnitStatus, limit int) ([]*models.SplitUnit, error) {
	return s.listUnits(ctx, `WHERE u.status = ? ORDER BY u.id LIMIT ?`, status, limit)
}

func (s *SQLite) ListUnitsByDocument(ctx context.Context, documentID int64) ([]*models.SplitUnit, error) {
	return s.listUnits(ctx, `WHERE u.document_id = ? ORDER BY u.seq`, documentID)
}

func (s *SQLite) UpdateUnitStatus(ctx context.Context, id int64, status models.UnitStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE split_units SET status = ?, reason = ? WHERE id = ?`, status, reason, id)
	if err != nil {
		return fmt.Errorf("failed to update unit status: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) RequeueUnits(ctx context.Context, documentID int64) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE split_units SET status = ?, reason = ''
		WHERE document_id = ? AND status IN (?, ?, ?, ?)`,
		models.UnitPendingAnalysis, documentID,
		models.UnitFailed, models.UnitAnalysisFailed, models.UnitPageSplitFailed, models.UnitAnalysisProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue units: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLite) UpsertPage(ctx context.Context, page *models.Page) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (document_id, split_unit_id, page_number, page_in_unit, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(document_id, page_number) DO UPDATE SET
			split_unit_id = excluded.split_unit_id,
			page_in_unit  = excluded.page_in_unit,
			status        = excluded.status`,
		page.DocumentID, page.SplitUnitID, page.PageNumber, page.PageInUnit, page.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert page %d: %w", page.PageNumber, err)
	}
	// LastInsertId is unreliable on conflict; resolve the row id explicitly.
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM pages WHERE document_id = ? AND page_number = ?`,
		page.DocumentID, page.PageNumber)
	return row.Scan(&page.ID)
}

func (s *SQLite) ListPagesByDocument(ctx context.Context, documentID int64) ([]*models.Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, split_unit_id, page_number, page_in_unit, status
		FROM pages WHERE document_id = ? ORDER BY page_number`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer rows.Close()

	var pages []*models.Page
	for rows.Next() {
		p := &models.Page{}
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.SplitUnitID, &p.PageNumber, &p.PageInUnit, &p.Status); err != nil {
			return nil, err
		}
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

func (s *SQLite) UpsertTable(ctx context.Context, table *models.Table) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO doc_tables (page_id, page_number, table_index)
		VALUES (?, ?, ?)
		ON CONFLICT(page_id, table_index) DO UPDATE SET page_number = excluded.page_number`,
		table.PageID, table.PageNumber, table.TableIndex)
	if err != nil {
		return fmt.Errorf("failed to upsert table %d_%d: %w", table.PageNumber, table.TableIndex, err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM doc_tables WHERE page_id = ? AND table_index = ?`, table.PageID, table.TableIndex)
	return row.Scan(&table.ID)
}

func (s *SQLite) ListTablesByPage(ctx context.Context, pageID int64) ([]*models.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, page_number, table_index
		FROM doc_tables WHERE page_id = ? ORDER BY table_index`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []*models.Table
	for rows.Next() {
		t := &models.Table{}
		if err := rows.Scan(&t.ID, &t.PageID, &t.PageNumber, &t.TableIndex); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (s *SQLite) UpsertFigure(ctx context.Context, figure *models.Figure) error {
	// A re-extracted figure keeps an already generated description.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO figures (page_id, page_number, figure_index, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(page_id, figure_index) DO UPDATE SET page_number = excluded.page_number`,
		figure.PageID, figure.PageNumber, figure.FigureIndex, figure.Description)
	if err != nil {
		return fmt.Errorf("failed to upsert figure %d_%d: %w", figure.PageNumber, figure.FigureIndex, err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, description FROM figures WHERE page_id = ? AND figure_index = ?`,
		figure.PageID, figure.FigureIndex)
	return row.Scan(&figure.ID, &figure.Description)
}

func (s *SQLite) ListFiguresByPage(ctx context.Context, pageID int64) ([]*models.Figure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_id, page_number, figure_index, description
		FROM figures WHERE page_id = ? ORDER BY figure_index`, pageID)
	if err != nil {
		return nil, fmt.Errorf("failed to list figures: %w", err)
	}
	defer rows.Close()

	var figures []*models.Figure
	for rows.Next() {
		f := &models.Figure{}
		if err := rows.Scan(&f.ID, &f.PageID, &f.PageNumber, &f.FigureIndex, &f.Description); err != nil {
			return nil, err
		}
		figures = append(figures, f)
	}
	return figures, rows.Err()
}

func (s *SQLite) ListFiguresMissingDescription(ctx context.Context, limit int) ([]*FigureRef, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.page_id, f.page_number, f.figure_index, d.id, d.dir_name
		FROM figures f
		JOIN pages p ON p.id = f.page_id
		JOIN documents d ON d.id = p.document_id
		WHERE f.description IS NULL
		ORDER BY f.id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list figures missing descriptions: %w", err)
	}
	defer rows.Close()

	var refs []*FigureRef
	for rows.Next() {
		ref := &FigureRef{}
		if err := rows.Scan(&ref.Figure.ID, &ref.Figure.PageID, &ref.Figure.PageNumber,
			&ref.Figure.FigureIndex, &ref.DocumentID, &ref.DocumentDir); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (s *SQLite) SetFigureDescription(ctx context.Context, figureID int64, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE figures SET description = ? WHERE id = ?`, description, figureID)
	if err != nil {
		return fmt.Errorf("failed to set figure description: %w", err)
	}
	return requireRow(res)
}

func (s *SQLite) ReplaceChunks(ctx context.Context, documentID int64, contents []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear previous chunks: %w", err)
	}
	for seq, content := range contents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (document_id, seq, content, status) VALUES (?, ?, ?, ?)`,
			documentID, seq, content, models.ChunkPendingUpload); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", seq, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) HasChunks(ctx context.Context, documentID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunks WHERE document_id = ?`, documentID).Scan(&n)
	return n > 0, err
}

func (s *SQLite) ListChunksByStatus(ctx context.Context, status models.ChunkStatus, limit int) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, seq, content, status
		FROM chunks WHERE status = ? ORDER BY document_id, seq LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c := &models.Chunk{}
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Content, &c.Status); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *SQLite) UpdateChunkStatus(ctx context.Context, ids []int64, status models.ChunkStatus) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE chunks SET status = ? WHERE id = ?`, status, id); err != nil {
			return fmt.Errorf("failed to update chunk %d: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) MarkChunksForDelete(ctx context.Context, documentID int64) (int, error) {
	// pending-upload chunks are delete-eligible too: a document deleted
	// before its chunks ever reached the index must not get indexed by a
	// later upload pass. Removing a key the index never saw is a no-op.
	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET status = ? WHERE document_id = ? AND status IN (?, ?, ?)`,
		models.ChunkPendingDelete, documentID,
		models.ChunkPendingUpload, models.ChunkUploaded, models.ChunkUploadFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to mark chunks for delete: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLite) CountActiveChunks(ctx context.Context, documentID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunks WHERE document_id = ? AND status != ?`,
		documentID, models.ChunkDeleted).Scan(&n)
	return n, err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
