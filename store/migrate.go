//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/textproof/textproof/log"
)

// legacyResult mirrors one entry of the old single-file results.json store.
type legacyResult struct {
	TaskID        string          `json:"task_id"`
	Source        string          `json:"source"`
	Filename      string          `json:"filename"`
	Provider      string          `json:"provider"`
	ModelName     string          `json:"model_name"`
	HasChanges    bool            `json:"has_changes"`
	UseChapters   bool            `json:"use_chapters"`
	CreatedAt     string          `json:"created_at"`
	CompletedAt   string          `json:"completed_at"`
	OriginalText  string          `json:"original_text"`
	CorrectedText string          `json:"corrected_text"`
	Chapters      []legacyChapter `json:"chapters"`
}

type legacyChapter struct {
	ChapterIndex  int    `json:"chapter_index"`
	ChapterTitle  string `json:"chapter_title"`
	HasChanges    bool   `json:"has_changes"`
	OriginalText  string `json:"original_text"`
	CorrectedText string `json:"corrected_text"`
}

// migrateLegacyJSON imports a sibling results.json into the results table.
// It runs only when the table is empty, and moves the file to a .bak name
// afterwards so the import happens once.
func (s *Store) migrateLegacyJSON() error {
	legacyPath := filepath.Join(filepath.Dir(s.path), "results.json")
	if _, err := os.Stat(legacyPath); err != nil {
		return nil
	}

	ctx := context.Background()
	var count int
	if err := s.db.QueryRowContext(ctx, countResultsSQL).Scan(&count); err != nil {
		return fmt.Errorf("count results: %w", err)
	}
	if count > 0 {
		return nil
	}

	data, err := os.ReadFile(legacyPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", legacyPath, err)
	}
	var legacy map[string]legacyResult
	if err := json.Unmarshal(data, &legacy); err != nil {
		return fmt.Errorf("parse %s: %w", legacyPath, err)
	}

	for id, lr := range legacy {
		source := lr.Source
		if source == "" {
			source = "task"
		}
		createdAt := lr.CreatedAt
		if createdAt == "" {
			createdAt = Now()
		}
		record := ResultRecord{
			ResultID:        id,
			TaskID:          lr.TaskID,
			Source:          source,
			Filename:        lr.Filename,
			Provider:        lr.Provider,
			ModelName:       lr.ModelName,
			HasChanges:      lr.HasChanges,
			CreatedAt:       createdAt,
			CompletedAt:     lr.CompletedAt,
			OriginalText:    lr.OriginalText,
			CorrectedText:   lr.CorrectedText,
			OriginalLength:  utf8.RuneCountInString(lr.OriginalText),
			CorrectedLength: utf8.RuneCountInString(lr.CorrectedText),
		}
		var chapters []ChapterRecord
		if len(lr.Chapters) > 0 {
			// Chaptered rows keep texts in the chapter table; lengths are
			// the chapter sums.
			record.UseChapters = true
			record.OriginalText, record.CorrectedText = "", ""
			record.OriginalLength, record.CorrectedLength = 0, 0
			for _, ch := range lr.Chapters {
				rec := ChapterRecord{
					ChapterIndex:    ch.ChapterIndex,
					ChapterTitle:    ch.ChapterTitle,
					HasChanges:      ch.HasChanges,
					OriginalText:    ch.OriginalText,
					CorrectedText:   ch.CorrectedText,
					OriginalLength:  utf8.RuneCountInString(ch.OriginalText),
					CorrectedLength: utf8.RuneCountInString(ch.CorrectedText),
				}
				record.OriginalLength += rec.OriginalLength
				record.CorrectedLength += rec.CorrectedLength
				chapters = append(chapters, rec)
			}
		}
		if err := s.UpsertResult(ctx, record); err != nil {
			return err
		}
		if len(chapters) > 0 {
			if err := s.ReplaceChapters(ctx, id, chapters); err != nil {
				return err
			}
		}
	}

	if _, err := s.db.ExecContext(ctx, upsertMetaSQL, "legacy_json_migrated", Now()); err != nil {
		return fmt.Errorf("write migration marker: %w", err)
	}
	if err := os.Rename(legacyPath, legacyPath+".bak"); err != nil {
		return fmt.Errorf("rename legacy file: %w", err)
	}
	log.Infof("migrated %d legacy results from %s", len(legacy), legacyPath)
	return nil
}
