//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package task

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/textproof/textproof/diff"
	"github.com/textproof/textproof/engine"
	"github.com/textproof/textproof/log"
	"github.com/textproof/textproof/splitter"
	"github.com/textproof/textproof/store"
)

// RunUpload drives one uploaded document through the engine and records the
// outcome on the task. With more than one detected chapter each chapter is
// corrected separately and stored as its own row; otherwise the whole text
// is one pass. Designed to run inside a worker pool.
func (m *Manager) RunUpload(ctx context.Context, taskID, text string, chapters []splitter.Chapter, eng *engine.Engine) {
	m.Start(taskID)

	if len(chapters) > 1 {
		m.runChaptered(ctx, taskID, chapters, eng)
		return
	}

	result, err := eng.Correct(ctx, text, func(current, total int) {
		m.UpdateProgress(taskID, current, total, 0, "")
	})
	if err != nil {
		log.Errorf("task %s failed: %v", taskID, err)
		m.Fail(taskID, err.Error())
		return
	}

	hasChanges := diff.HasMeaningfulChanges(result.Original, result.Corrected)
	if _, err := m.Complete(taskID, result.Original, result.Corrected, hasChanges, nil); err != nil {
		log.Errorf("task %s: store result: %v", taskID, err)
		m.Fail(taskID, err.Error())
	}
}

func (m *Manager) runChaptered(ctx context.Context, taskID string, chapters []splitter.Chapter, eng *engine.Engine) {
	var (
		records             []store.ChapterRecord
		originals           []string
		correcteds          []string
		cumulativeProcessed int
		anyChanges          bool
		failedChapters      int
	)

	for _, ch := range chapters {
		m.UpdateChapterStatus(taskID, ch.Index, StatusProcessing, ch.Title)

		base := cumulativeProcessed
		result, err := eng.Correct(ctx, ch.Content, func(current, total int) {
			m.UpdateProgress(taskID, base+current, base+total, ch.Index, ch.Title)
		})

		corrected := ch.Content
		chapterChanges := false
		if err != nil {
			log.Errorf("task %s chapter %d failed: %v", taskID, ch.Index, err)
			m.UpdateChapterStatus(taskID, ch.Index, StatusFailed, ch.Title)
			failedChapters++
		} else {
			corrected = result.Corrected
			chapterChanges = diff.HasMeaningfulChanges(ch.Content, corrected)
			cumulativeProcessed = base + result.TotalChunks
			m.UpdateChapterStatus(taskID, ch.Index, StatusCompleted, ch.Title)
		}

		anyChanges = anyChanges || chapterChanges
		originals = append(originals, ch.Title+"\n\n"+ch.Content)
		correcteds = append(correcteds, ch.Title+"\n\n"+corrected)
		records = append(records, store.ChapterRecord{
			ChapterIndex:    ch.Index,
			ChapterTitle:    ch.Title,
			HasChanges:      chapterChanges,
			OriginalText:    ch.Content,
			CorrectedText:   corrected,
			OriginalLength:  utf8.RuneCountInString(ch.Content),
			CorrectedLength: utf8.RuneCountInString(corrected),
		})
	}

	if failedChapters == len(chapters) {
		m.Fail(taskID, "所有章节校对失败")
		return
	}

	original := strings.Join(originals, "\n\n")
	corrected := strings.Join(correcteds, "\n\n")
	if _, err := m.Complete(taskID, original, corrected, anyChanges, records); err != nil {
		log.Errorf("task %s: store chaptered result: %v", taskID, err)
		m.Fail(taskID, err.Error())
	}
}
