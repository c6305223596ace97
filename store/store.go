//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package store persists correction results, per-chapter results and task
// snapshots in a single-file SQLite database under the cache directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/textproof/textproof/log"
)

// ErrNotFound is returned for unknown result, chapter or task ids.
var ErrNotFound = errors.New("not found")

const (
	createResults = "CREATE TABLE IF NOT EXISTS results (" +
		"result_id TEXT PRIMARY KEY, " +
		"task_id TEXT, " +
		"source TEXT NOT NULL, " +
		"filename TEXT NOT NULL, " +
		"provider TEXT NOT NULL, " +
		"model_name TEXT NOT NULL, " +
		"has_changes INTEGER NOT NULL DEFAULT 0, " +
		"use_chapters INTEGER NOT NULL DEFAULT 0, " +
		"created_at TEXT NOT NULL, " +
		"completed_at TEXT, " +
		"original_text TEXT, " +
		"corrected_text TEXT, " +
		"original_length INTEGER NOT NULL DEFAULT 0, " +
		"corrected_length INTEGER NOT NULL DEFAULT 0" +
		")"

	createChapters = "CREATE TABLE IF NOT EXISTS chapters (" +
		"result_id TEXT NOT NULL REFERENCES results(result_id) ON DELETE CASCADE, " +
		"chapter_index INTEGER NOT NULL, " +
		"chapter_title TEXT NOT NULL, " +
		"has_changes INTEGER NOT NULL DEFAULT 0, " +
		"original_text TEXT, " +
		"corrected_text TEXT, " +
		"original_length INTEGER NOT NULL DEFAULT 0, " +
		"corrected_length INTEGER NOT NULL DEFAULT 0, " +
		"PRIMARY KEY (result_id, chapter_index)" +
		")"

	createTasks = "CREATE TABLE IF NOT EXISTS tasks (" +
		"task_id TEXT PRIMARY KEY, " +
		"status TEXT NOT NULL, " +
		"filename TEXT NOT NULL, " +
		"file_size INTEGER NOT NULL DEFAULT 0, " +
		"provider TEXT NOT NULL, " +
		"model_name TEXT NOT NULL, " +
		"use_chapters INTEGER NOT NULL DEFAULT 0, " +
		"progress_current INTEGER NOT NULL DEFAULT 0, " +
		"progress_total INTEGER NOT NULL DEFAULT 0, " +
		"chapter_progress_json TEXT, " +
		"error TEXT, " +
		"created_at TEXT NOT NULL, " +
		"started_at TEXT, " +
		"completed_at TEXT" +
		")"

	createMeta = "CREATE TABLE IF NOT EXISTS meta (" +
		"key TEXT PRIMARY KEY, " +
		"value TEXT NOT NULL" +
		")"

	upsertResultSQL = "INSERT OR REPLACE INTO results (" +
		"result_id, task_id, source, filename, provider, model_name, " +
		"has_changes, use_chapters, created_at, completed_at, " +
		"original_text, corrected_text, original_length, corrected_length) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	upsertTaskSQL = "INSERT OR REPLACE INTO tasks (" +
		"task_id, status, filename, file_size, provider, model_name, use_chapters, " +
		"progress_current, progress_total, chapter_progress_json, error, " +
		"created_at, started_at, completed_at) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	insertChapterSQL = "INSERT INTO chapters (" +
		"result_id, chapter_index, chapter_title, has_changes, " +
		"original_text, corrected_text, original_length, corrected_length) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?)"

	resultColumns = "result_id, task_id, source, filename, provider, model_name, " +
		"has_changes, use_chapters, created_at, completed_at, original_length, corrected_length"

	selectResultsSQL = "SELECT " + resultColumns +
		", (SELECT COUNT(*) FROM chapters c WHERE c.result_id = results.result_id) " +
		"FROM results ORDER BY COALESCE(completed_at, created_at) DESC LIMIT ? OFFSET ?"

	selectResultSQL = "SELECT " + resultColumns +
		", (SELECT COUNT(*) FROM chapters c WHERE c.result_id = results.result_id) " +
		"FROM results WHERE result_id = ?"

	selectResultTextSQL = "SELECT original_text, corrected_text FROM results WHERE result_id = ?"

	selectChapterMetaSQL = "SELECT chapter_index, chapter_title, has_changes, " +
		"original_length, corrected_length FROM chapters WHERE result_id = ? ORDER BY chapter_index"

	selectChapterSQL = "SELECT chapter_index, chapter_title, has_changes, " +
		"original_text, corrected_text, original_length, corrected_length " +
		"FROM chapters WHERE result_id = ? AND chapter_index = ?"

	selectTasksSQL = "SELECT task_id, status, filename, file_size, provider, model_name, " +
		"use_chapters, progress_current, progress_total, chapter_progress_json, error, " +
		"created_at, started_at, completed_at FROM tasks ORDER BY created_at DESC LIMIT ? OFFSET ?"

	countResultsSQL    = "SELECT COUNT(*) FROM results"
	countTasksSQL      = "SELECT COUNT(*) FROM tasks"
	deleteResultSQL    = "DELETE FROM results WHERE result_id = ?"
	deleteChaptersSQL  = "DELETE FROM chapters WHERE result_id = ?"
	upsertMetaSQL      = "INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)"
	selectMetaValueSQL = "SELECT value FROM meta WHERE key = ?"
)

var indexStatements = []string{
	"CREATE INDEX IF NOT EXISTS idx_results_completed_at ON results(completed_at)",
	"CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at)",
	"CREATE INDEX IF NOT EXISTS idx_results_task_id ON results(task_id)",
	"CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)",
}

// ResultRecord is one row of the results table.
type ResultRecord struct {
	ResultID        string `json:"result_id"`
	TaskID          string `json:"task_id,omitempty"`
	Source          string `json:"source"`
	Filename        string `json:"filename"`
	Provider        string `json:"provider"`
	ModelName       string `json:"model_name"`
	HasChanges      bool   `json:"has_changes"`
	UseChapters     bool   `json:"use_chapters"`
	CreatedAt       string `json:"created_at"`
	CompletedAt     string `json:"completed_at,omitempty"`
	OriginalText    string `json:"original_text,omitempty"`
	CorrectedText   string `json:"corrected_text,omitempty"`
	OriginalLength  int    `json:"original_length"`
	CorrectedLength int    `json:"corrected_length"`

	// Populated on reads when the result has chapter rows.
	ChapterCount int             `json:"chapter_count,omitempty"`
	Chapters     []ChapterRecord `json:"chapters,omitempty"`
}

// ChapterRecord is one row of the chapters table.
type ChapterRecord struct {
	ChapterIndex    int    `json:"chapter_index"`
	ChapterTitle    string `json:"chapter_title"`
	HasChanges      bool   `json:"has_changes"`
	OriginalText    string `json:"original_text,omitempty"`
	CorrectedText   string `json:"corrected_text,omitempty"`
	OriginalLength  int    `json:"original_length"`
	CorrectedLength int    `json:"corrected_length"`
}

// TaskRow is one row of the tasks table.
type TaskRow struct {
	TaskID              string `json:"task_id"`
	Status              string `json:"status"`
	Filename            string `json:"filename"`
	FileSize            int64  `json:"file_size"`
	Provider            string `json:"provider"`
	ModelName           string `json:"model_name"`
	UseChapters         bool   `json:"use_chapters"`
	ProgressCurrent     int    `json:"progress_current"`
	ProgressTotal       int    `json:"progress_total"`
	ChapterProgressJSON string `json:"chapter_progress_json,omitempty"`
	Error               string `json:"error,omitempty"`
	CreatedAt           string `json:"created_at"`
	StartedAt           string `json:"started_at,omitempty"`
	CompletedAt         string `json:"completed_at,omitempty"`
}

// ResultPage is a paginated result listing.
type ResultPage struct {
	Items  []ResultRecord `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// TaskPage is a paginated task listing.
type TaskPage struct {
	Items  []TaskRow `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the database at path, applying the
// pragmas and schema. The parent directory is created when missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, stmt := range []string{createResults, createChapters, createTasks, createMeta} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	for _, stmt := range indexStatements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index: %w", err)
		}
	}
	if _, err := db.Exec(upsertMetaSQL, "schema_version", "1"); err != nil {
		db.Close()
		return nil, fmt.Errorf("write schema version: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrateLegacyJSON(); err != nil {
		log.Warnf("legacy results.json migration failed, continuing with empty store: %v", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Now returns the timestamp format used across the store.
func Now() string { return time.Now().Format(time.RFC3339) }

// UpsertResult inserts or fully overwrites a result row.
func (s *Store) UpsertResult(ctx context.Context, r ResultRecord) error {
	_, err := s.db.ExecContext(ctx, upsertResultSQL,
		r.ResultID, nullable(r.TaskID), r.Source, r.Filename, r.Provider, r.ModelName,
		boolInt(r.HasChanges), boolInt(r.UseChapters), r.CreatedAt, nullable(r.CompletedAt),
		r.OriginalText, r.CorrectedText, r.OriginalLength, r.CorrectedLength)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

// UpsertTask inserts or fully overwrites a task snapshot.
func (s *Store) UpsertTask(ctx context.Context, t TaskRow) error {
	_, err := s.db.ExecContext(ctx, upsertTaskSQL,
		t.TaskID, t.Status, t.Filename, t.FileSize, t.Provider, t.ModelName,
		boolInt(t.UseChapters), t.ProgressCurrent, t.ProgressTotal,
		nullable(t.ChapterProgressJSON), nullable(t.Error),
		t.CreatedAt, nullable(t.StartedAt), nullable(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

// ReplaceChapters atomically deletes and reinserts the chapter rows of a
// result, in chapter index order.
func (s *Store) ReplaceChapters(ctx context.Context, resultID string, chapters []ChapterRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteChaptersSQL, resultID); err != nil {
		return fmt.Errorf("delete chapters: %w", err)
	}
	for _, ch := range chapters {
		_, err := tx.ExecContext(ctx, insertChapterSQL,
			resultID, ch.ChapterIndex, ch.ChapterTitle, boolInt(ch.HasChanges),
			ch.OriginalText, ch.CorrectedText, ch.OriginalLength, ch.CorrectedLength)
		if err != nil {
			return fmt.Errorf("insert chapter %d: %w", ch.ChapterIndex, err)
		}
	}
	return tx.Commit()
}

// ListResults returns a metadata-only page ordered by completion time,
// newest first. limit is clamped to [1, 200]; a negative offset becomes 0.
func (s *Store) ListResults(ctx context.Context, limit, offset int) (*ResultPage, error) {
	limit, offset = clampPage(limit, offset)

	var total int
	if err := s.db.QueryRowContext(ctx, countResultsSQL).Scan(&total); err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectResultsSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	page := &ResultPage{Items: []ResultRecord{}, Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, *r)
	}
	return page, rows.Err()
}

// GetResult loads one result. Full texts and chapter metadata (without
// chapter text) are loaded on request.
func (s *Store) GetResult(ctx context.Context, resultID string, includeText, includeChapterMeta bool) (*ResultRecord, error) {
	row := s.db.QueryRowContext(ctx, selectResultSQL, resultID)
	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if includeText {
		var original, corrected sql.NullString
		if err := s.db.QueryRowContext(ctx, selectResultTextSQL, resultID).
			Scan(&original, &corrected); err != nil {
			return nil, fmt.Errorf("load result text: %w", err)
		}
		r.OriginalText = original.String
		r.CorrectedText = corrected.String
	}

	if includeChapterMeta && r.ChapterCount > 0 {
		rows, err := s.db.QueryContext(ctx, selectChapterMetaSQL, resultID)
		if err != nil {
			return nil, fmt.Errorf("load chapter meta: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var ch ChapterRecord
			var hasChanges int
			if err := rows.Scan(&ch.ChapterIndex, &ch.ChapterTitle, &hasChanges,
				&ch.OriginalLength, &ch.CorrectedLength); err != nil {
				return nil, fmt.Errorf("scan chapter meta: %w", err)
			}
			ch.HasChanges = hasChanges != 0
			r.Chapters = append(r.Chapters, ch)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// GetChapter loads one chapter with its texts.
func (s *Store) GetChapter(ctx context.Context, resultID string, chapterIndex int) (*ChapterRecord, error) {
	var ch ChapterRecord
	var hasChanges int
	var original, corrected sql.NullString
	err := s.db.QueryRowContext(ctx, selectChapterSQL, resultID, chapterIndex).
		Scan(&ch.ChapterIndex, &ch.ChapterTitle, &hasChanges,
			&original, &corrected, &ch.OriginalLength, &ch.CorrectedLength)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get chapter: %w", err)
	}
	ch.HasChanges = hasChanges != 0
	ch.OriginalText = original.String
	ch.CorrectedText = corrected.String
	return &ch, nil
}

// DeleteResult removes a result; chapter rows cascade.
func (s *Store) DeleteResult(ctx context.Context, resultID string) error {
	res, err := s.db.ExecContext(ctx, deleteResultSQL, resultID)
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTasks returns a page of task snapshots, newest first.
func (s *Store) ListTasks(ctx context.Context, limit, offset int) (*TaskPage, error) {
	limit, offset = clampPage(limit, offset)

	var total int
	if err := s.db.QueryRowContext(ctx, countTasksSQL).Scan(&total); err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, selectTasksSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	page := &TaskPage{Items: []TaskRow{}, Total: total, Limit: limit, Offset: offset}
	for rows.Next() {
		var t TaskRow
		var useChapters int
		var chapterJSON, taskErr, startedAt, completedAt sql.NullString
		if err := rows.Scan(&t.TaskID, &t.Status, &t.Filename, &t.FileSize,
			&t.Provider, &t.ModelName, &useChapters,
			&t.ProgressCurrent, &t.ProgressTotal, &chapterJSON, &taskErr,
			&t.CreatedAt, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.UseChapters = useChapters != 0
		t.ChapterProgressJSON = chapterJSON.String
		t.Error = taskErr.String
		t.StartedAt = startedAt.String
		t.CompletedAt = completedAt.String
		page.Items = append(page.Items, t)
	}
	return page, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*ResultRecord, error) {
	var r ResultRecord
	var hasChanges, useChapters int
	var taskID, completedAt sql.NullString
	err := row.Scan(&r.ResultID, &taskID, &r.Source, &r.Filename, &r.Provider, &r.ModelName,
		&hasChanges, &useChapters, &r.CreatedAt, &completedAt,
		&r.OriginalLength, &r.CorrectedLength, &r.ChapterCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan result: %w", err)
	}
	r.TaskID = taskID.String
	r.CompletedAt = completedAt.String
	r.HasChanges = hasChanges != 0
	r.UseChapters = useChapters != 0
	return &r, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 1
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
