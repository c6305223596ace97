//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package task tracks asynchronous correction jobs: live in-memory state
// polled by the HTTP layer, best-effort snapshots to the durable store, and
// the background worker that drives a whole upload through the engine.
package task

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/textproof/textproof/log"
	"github.com/textproof/textproof/store"
)

// Task statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ChapterProgress is the per-chapter state exposed while a chaptered task
// runs.
type ChapterProgress struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Task is the live state of one asynchronous job.
type Task struct {
	ID          string `json:"task_id"`
	Status      string `json:"status"`
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size"`
	Provider    string `json:"provider"`
	ModelName   string `json:"model_name"`
	UseChapters bool   `json:"use_chapters"`

	ProgressCurrent int `json:"progress_current"`
	ProgressTotal   int `json:"progress_total"`

	CurrentChapterIndex int               `json:"current_chapter_index,omitempty"`
	CurrentChapterTitle string            `json:"current_chapter_title,omitempty"`
	Chapters            []ChapterProgress `json:"chapters,omitempty"`

	ResultID string `json:"result_id,omitempty"`
	Error    string `json:"error,omitempty"`

	CreatedAt   string `json:"created_at"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// Manager owns the in-memory task map. Every mutation is snapshotted to the
// durable store best-effort; a failed snapshot never fails the task.
type Manager struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	store *store.Store
}

// NewManager returns a manager persisting snapshots to st.
func NewManager(st *store.Store) *Manager {
	return &Manager{tasks: make(map[string]*Task), store: st}
}

// Create registers a new pending task and returns its snapshot.
func (m *Manager) Create(filename string, fileSize int64, provider, model string, useChapters bool) Task {
	t := &Task{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		Filename:    filename,
		FileSize:    fileSize,
		Provider:    provider,
		ModelName:   model,
		UseChapters: useChapters,
		CreatedAt:   store.Now(),
	}
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()
	m.persist(t)
	return *t
}

// Get returns a snapshot of the task, if known.
func (m *Manager) Get(id string) (Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return Task{}, false
	}
	return snapshot(t), true
}

// List returns snapshots of all in-memory tasks, newest first.
func (m *Manager) List() []Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, snapshot(t))
	}
	sortTasks(out)
	return out
}

// Start marks a task processing.
func (m *Manager) Start(id string) {
	m.update(id, func(t *Task) {
		t.Status = StatusProcessing
		t.StartedAt = store.Now()
	})
}

// UpdateProgress records unit progress and optionally the chapter the
// worker is inside.
func (m *Manager) UpdateProgress(id string, current, total, chapterIndex int, chapterTitle string) {
	m.update(id, func(t *Task) {
		t.ProgressCurrent = current
		t.ProgressTotal = total
		if chapterIndex > 0 {
			t.CurrentChapterIndex = chapterIndex
			t.CurrentChapterTitle = chapterTitle
		}
	})
}

// UpdateChapterStatus upserts one entry of the per-chapter progress list.
func (m *Manager) UpdateChapterStatus(id string, chapterIndex int, status, title string) {
	m.update(id, func(t *Task) {
		for i := range t.Chapters {
			if t.Chapters[i].Index == chapterIndex {
				t.Chapters[i].Status = status
				if title != "" {
					t.Chapters[i].Title = title
				}
				return
			}
		}
		t.Chapters = append(t.Chapters, ChapterProgress{Index: chapterIndex, Title: title, Status: status})
	})
}

// Complete writes the result (chaptered or not) and marks the task done.
// When chapters are present the result row carries lengths only and the
// chapter rows are authoritative. The result id is the task id, so a
// client holding the id from the upload response can fetch the result
// directly.
func (m *Manager) Complete(id, original, corrected string, hasChanges bool, chapters []store.ChapterRecord) (string, error) {
	resultID := id
	now := store.Now()

	m.mu.RLock()
	t, ok := m.tasks[id]
	var filename, provider, model string
	if ok {
		filename, provider, model = t.Filename, t.Provider, t.ModelName
	}
	m.mu.RUnlock()

	record := store.ResultRecord{
		ResultID:        resultID,
		TaskID:          id,
		Source:          "task",
		Filename:        filename,
		Provider:        provider,
		ModelName:       model,
		HasChanges:      hasChanges,
		UseChapters:     len(chapters) > 0,
		CreatedAt:       now,
		CompletedAt:     now,
		OriginalLength:  utf8.RuneCountInString(original),
		CorrectedLength: utf8.RuneCountInString(corrected),
	}
	if len(chapters) == 0 {
		record.OriginalText = original
		record.CorrectedText = corrected
	}

	ctx := context.Background()
	if err := m.store.UpsertResult(ctx, record); err != nil {
		return "", err
	}
	if len(chapters) > 0 {
		if err := m.store.ReplaceChapters(ctx, resultID, chapters); err != nil {
			return "", err
		}
	}

	m.update(id, func(t *Task) {
		t.Status = StatusCompleted
		t.ResultID = resultID
		t.CompletedAt = now
		t.ProgressCurrent = t.ProgressTotal
	})
	return resultID, nil
}

// Fail marks the task failed with the error message.
func (m *Manager) Fail(id, errMsg string) {
	m.update(id, func(t *Task) {
		t.Status = StatusFailed
		t.Error = errMsg
		t.CompletedAt = store.Now()
	})
}

// SaveManualResult stores a correction that did not go through a task.
func (m *Manager) SaveManualResult(ctx context.Context, filename, original, corrected string, hasChanges bool, provider, model string) (string, error) {
	resultID := uuid.NewString()
	now := store.Now()
	record := store.ResultRecord{
		ResultID:        resultID,
		Source:          "manual_input",
		Filename:        filename,
		Provider:        provider,
		ModelName:       model,
		HasChanges:      hasChanges,
		CreatedAt:       now,
		CompletedAt:     now,
		OriginalText:    original,
		CorrectedText:   corrected,
		OriginalLength:  utf8.RuneCountInString(original),
		CorrectedLength: utf8.RuneCountInString(corrected),
	}
	if err := m.store.UpsertResult(ctx, record); err != nil {
		return "", err
	}
	return resultID, nil
}

// CleanupOldTasks drops terminal in-memory tasks older than the given age.
func (m *Manager) CleanupOldTasks(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	removed := 0
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, t := range m.tasks {
		if t.Status != StatusCompleted && t.Status != StatusFailed {
			continue
		}
		created, err := time.Parse(time.RFC3339, t.CreatedAt)
		if err == nil && created.Before(cutoff) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

func (m *Manager) update(id string, fn func(*Task)) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	fn(t)
	copied := snapshot(t)
	m.mu.Unlock()
	m.persistSnapshot(copied)
}

func (m *Manager) persist(t *Task) {
	m.mu.RLock()
	copied := snapshot(t)
	m.mu.RUnlock()
	m.persistSnapshot(copied)
}

func (m *Manager) persistSnapshot(t Task) {
	if m.store == nil {
		return
	}
	row := store.TaskRow{
		TaskID:          t.ID,
		Status:          t.Status,
		Filename:        t.Filename,
		FileSize:        t.FileSize,
		Provider:        t.Provider,
		ModelName:       t.ModelName,
		UseChapters:     t.UseChapters,
		ProgressCurrent: t.ProgressCurrent,
		ProgressTotal:   t.ProgressTotal,
		Error:           t.Error,
		CreatedAt:       t.CreatedAt,
		StartedAt:       t.StartedAt,
		CompletedAt:     t.CompletedAt,
	}
	if len(t.Chapters) > 0 {
		if data, err := json.Marshal(t.Chapters); err == nil {
			row.ChapterProgressJSON = string(data)
		}
	}
	if err := m.store.UpsertTask(context.Background(), row); err != nil {
		log.Warnf("persist task %s snapshot: %v", t.ID, err)
	}
}

func snapshot(t *Task) Task {
	copied := *t
	copied.Chapters = append([]ChapterProgress(nil), t.Chapters...)
	return copied
}

func sortTasks(tasks []Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt > tasks[j].CreatedAt
	})
}
