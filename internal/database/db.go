// internal/database/db.go
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Database wraps the SQLite database holding checkpoint metadata
type Database struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path
func Open(path string) (*Database, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}

	d := &Database{db: db}
	if err := d.init(); err != nil {
		db.Close()
		return nil, err
	}

	return d, nil
}

// init creates the database schema
func (d *Database) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		project_id TEXT NOT NULL,
		parent_id TEXT,
		message_index INTEGER NOT NULL DEFAULT 0,
		trigger_type TEXT NOT NULL DEFAULT 'manual',
		description TEXT,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		file_count INTEGER NOT NULL DEFAULT 0,
		transcript_hash TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS checkpoint_files (
		checkpoint_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		hash TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		mode INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (checkpoint_id, file_path),
		FOREIGN KEY (checkpoint_id) REFERENCES checkpoints(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS timelines (
		session_id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		current_checkpoint_id TEXT,
		auto_checkpoint_enabled INTEGER NOT NULL DEFAULT 0,
		strategy TEXT NOT NULL DEFAULT 'manual'
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_checkpoint_files_hash ON checkpoint_files(hash);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// SaveCheckpoint inserts a checkpoint record together with its file
// references in a single transaction
func (d *Database) SaveCheckpoint(rec *CheckpointRecord, files []FileRecord) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO checkpoints
		(id, session_id, project_id, parent_id, message_index, trigger_type, description, total_tokens, file_count, transcript_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.ProjectID, nullable(rec.ParentID), rec.MessageIndex,
		rec.Trigger, rec.Description, rec.TotalTokens, rec.FileCount, rec.TranscriptHash, rec.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	for _, f := range files {
		_, err = tx.Exec(`
			INSERT INTO checkpoint_files (checkpoint_id, file_path, hash, size, mode)
			VALUES (?, ?, ?, ?, ?)`,
			f.CheckpointID, f.FilePath, f.Hash, f.Size, f.Mode)
		if err != nil {
			return fmt.Errorf("insert file ref %s: %w", f.FilePath, err)
		}
	}

	return tx.Commit()
}

// GetCheckpoint retrieves one checkpoint record by id
func (d *Database) GetCheckpoint(id string) (*CheckpointRecord, error) {
	row := d.db.QueryRow(`
		SELECT id, session_id, project_id, COALESCE(parent_id, ''), message_index,
		       trigger_type, COALESCE(description, ''), total_tokens, file_count, transcript_hash, created_at
		FROM checkpoints WHERE id = ?`, id)

	rec, err := scanCheckpoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListCheckpoints returns all checkpoints for a session in creation order
func (d *Database) ListCheckpoints(sessionID string) ([]CheckpointRecord, error) {
	rows, err := d.db.Query(`
		SELECT id, session_id, project_id, COALESCE(parent_id, ''), message_index,
		       trigger_type, COALESCE(description, ''), total_tokens, file_count, transcript_hash, created_at
		FROM checkpoints WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []CheckpointRecord
	for rows.Next() {
		rec, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// DeleteCheckpoint removes a checkpoint record and its file references
func (d *Database) DeleteCheckpoint(id string) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM checkpoint_files WHERE checkpoint_id = ?`, id); err != nil {
		return fmt.Errorf("delete file refs: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}

	return tx.Commit()
}

// ListFiles returns the file references of a checkpoint
func (d *Database) ListFiles(checkpointID string) ([]FileRecord, error) {
	rows, err := d.db.Query(`
		SELECT checkpoint_id, file_path, hash, size, mode
		FROM checkpoint_files WHERE checkpoint_id = ? ORDER BY file_path ASC`, checkpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.CheckpointID, &f.FilePath, &f.Hash, &f.Size, &f.Mode); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// ReferencedHashes returns the set of blob hashes referenced by any
// surviving checkpoint, including captured transcripts
func (d *Database) ReferencedHashes() (map[string]bool, error) {
	rows, err := d.db.Query(`
		SELECT DISTINCT hash FROM checkpoint_files
		UNION
		SELECT DISTINCT transcript_hash FROM checkpoints WHERE transcript_hash != ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes[h] = true
	}
	return hashes, rows.Err()
}

// GetTimeline retrieves the timeline record for a session, or nil if the
// session has no persisted timeline yet
func (d *Database) GetTimeline(sessionID string) (*TimelineRecord, error) {
	row := d.db.QueryRow(`
		SELECT session_id, project_id, COALESCE(current_checkpoint_id, ''), auto_checkpoint_enabled, strategy
		FROM timelines WHERE session_id = ?`, sessionID)

	var rec TimelineRecord
	err := row.Scan(&rec.SessionID, &rec.ProjectID, &rec.CurrentCheckpointID,
		&rec.AutoCheckpointEnabled, &rec.Strategy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveTimeline inserts or updates the timeline record for a session
func (d *Database) SaveTimeline(rec *TimelineRecord) error {
	_, err := d.db.Exec(`
		INSERT INTO timelines (session_id, project_id, current_checkpoint_id, auto_checkpoint_enabled, strategy)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			project_id = excluded.project_id,
			current_checkpoint_id = excluded.current_checkpoint_id,
			auto_checkpoint_enabled = excluded.auto_checkpoint_enabled,
			strategy = excluded.strategy`,
		rec.SessionID, rec.ProjectID, nullable(rec.CurrentCheckpointID),
		rec.AutoCheckpointEnabled, rec.Strategy)
	return err
}

// DeleteTimeline removes the timeline record for a session
func (d *Database) DeleteTimeline(sessionID string) error {
	_, err := d.db.Exec(`DELETE FROM timelines WHERE session_id = ?`, sessionID)
	return err
}

// CountCheckpoints returns the number of checkpoints stored for a session
func (d *Database) CountCheckpoints(sessionID string) (int, error) {
	var count int
	err := d.db.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE session_id = ?`, sessionID).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row scanner) (*CheckpointRecord, error) {
	var rec CheckpointRecord
	var createdAt int64
	err := row.Scan(&rec.ID, &rec.SessionID, &rec.ProjectID, &rec.ParentID, &rec.MessageIndex,
		&rec.Trigger, &rec.Description, &rec.TotalTokens, &rec.FileCount, &rec.TranscriptHash, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.Unix(0, createdAt)
	return &rec, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
