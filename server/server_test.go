//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textproof/textproof/app"
	"github.com/textproof/textproof/config"
	"github.com/textproof/textproof/prompt"
	"github.com/textproof/textproof/provider"
	"github.com/textproof/textproof/store"
	"github.com/textproof/textproof/task"
)

func newTestServer(t *testing.T) (*Server, *app.App) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "textproof.db"))
	require.NoError(t, err)
	pool, err := ants.NewPool(2)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Release()
		st.Close()
	})

	a := &app.App{
		Config:   config.NewStore(config.Default()),
		Prompts:  prompt.NewManager(t.TempDir(), "", ""),
		Registry: provider.NewRegistry(),
		Store:    st,
		Tasks:    task.NewManager(st),
		Pool:     pool,
	}
	return New(a), a
}

type fakeProvider struct {
	name provider.Name
	fn   func(text string) (string, error)
}

func (p *fakeProvider) Name() provider.Name { return p.name }

func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) Health(ctx context.Context) bool { return true }

func (p *fakeProvider) Correct(ctx context.Context, text, prompt string) (string, error) {
	return p.fn(text)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRoot(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "textproof", decodeBody(t, w)["service"])
}

func TestCorrectEchoRoundTrip(t *testing.T) {
	s, a := newTestServer(t)
	a.Registry.Register(provider.OpenAI, "fake-model", &fakeProvider{
		name: provider.OpenAI,
		fn:   func(text string) (string, error) { return text, nil },
	})

	w := doJSON(t, s, http.MethodPost, "/api/correct", map[string]string{
		"text":       "这是一段没有错误的文本。",
		"provider":   "openai",
		"model_name": "fake-model",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, body["original"], body["corrected"])
	assert.Equal(t, false, body["has_changes"])

	// The synchronous correction lands in the result store.
	page, err := a.Store.ListResults(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "manual_input", page.Items[0].Source)
}

func TestCorrectAllUnitsFailedIsFatal(t *testing.T) {
	s, a := newTestServer(t)
	require.NoError(t, a.Config.Update(func(c *config.Settings) {
		c.MaxRetries = 1
		c.RetryDelay = 0
	}))
	a.Registry.Register(provider.OpenAI, "fake-model", &fakeProvider{
		name: provider.OpenAI,
		fn: func(string) (string, error) {
			return "", &provider.Error{Provider: provider.OpenAI, Kind: provider.KindAdapter, Message: "坏了"}
		},
	})

	w := doJSON(t, s, http.MethodPost, "/api/correct", map[string]string{
		"text":       "短文本。",
		"provider":   "openai",
		"model_name": "fake-model",
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody(t, w)["detail"], "校对失败")
}

func TestCorrectRejectsEmptyText(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/correct", map[string]string{"text": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "文本内容不能为空", decodeBody(t, w)["detail"])
}

func TestDiffWithProvidedCorrection(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/diff", map[string]string{
		"text":      "他再接再励。",
		"corrected": "他再接再厉。",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["has_changes"])
	assert.NotEmpty(t, body["original_segments"])
	assert.NotEmpty(t, body["corrected_segments"])
}

func TestProvidersAndModels(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/providers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "openai", body["default"])
	assert.Len(t, body["providers"], 3)

	w = doJSON(t, s, http.MethodGet, "/api/models?provider=deepseek", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	assert.Equal(t, "deepseek", body["provider"])

	w = doJSON(t, s, http.MethodGet, "/api/models", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w)
	menus, ok := body["models"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, menus, "ollama")

	w = doJSON(t, s, http.MethodGet, "/api/models?provider=unknown", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPromptRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodGet, "/api/prompt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeBody(t, w)["prompt"], "校对")

	w = doJSON(t, s, http.MethodPost, "/api/prompt", map[string]any{
		"prompt": "新的校对提示词",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/prompt", nil)
	assert.Equal(t, "新的校对提示词", decodeBody(t, w)["prompt"])
}

func TestConfigUpdateAndValidation(t *testing.T) {
	s, a := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/config", map[string]any{
		"chunk_size":    1000,
		"chunk_overlap": 100,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1000, a.Config.Snapshot().ChunkSize)

	// Overlap >= size is rejected and nothing changes.
	w = doJSON(t, s, http.MethodPost, "/api/config", map[string]any{
		"chunk_overlap": 2000,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 100, a.Config.Snapshot().ChunkOverlap)

	w = doJSON(t, s, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1000), body["chunk_size"])
	assert.Equal(t, false, body["openai_api_key_set"])
}

func TestManualResultAndLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/results/manual", map[string]string{
		"original_text":  "原文有误。",
		"corrected_text": "原文无误。",
		"provider":       "openai",
	})
	require.Equal(t, http.StatusOK, w.Code)
	id := decodeBody(t, w)["result_id"].(string)
	require.NotEmpty(t, id)

	w = doJSON(t, s, http.MethodGet, "/api/results", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])

	w = doJSON(t, s, http.MethodGet, "/api/results/"+id+"?include_text=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "原文有误。", body["original_text"])
	assert.Equal(t, "manual_input", body["source"])

	req := httptest.NewRequest(http.MethodGet, "/api/results/"+id+"/download?which=original", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Equal(t, "原文有误。", rec.Body.String())

	w = doJSON(t, s, http.MethodDelete, "/api/results/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/results/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChapterResultEndpoints(t *testing.T) {
	s, a := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, a.Store.UpsertResult(ctx, store.ResultRecord{
		ResultID: "r1", Source: "task", Filename: "novel.txt",
		Provider: "openai", ModelName: "gpt-4o", UseChapters: true,
		CreatedAt: store.Now(), CompletedAt: store.Now(),
	}))
	require.NoError(t, a.Store.ReplaceChapters(ctx, "r1", []store.ChapterRecord{
		{ChapterIndex: 1, ChapterTitle: "第一章", OriginalText: "甲", CorrectedText: "乙", OriginalLength: 1, CorrectedLength: 1},
	}))

	w := doJSON(t, s, http.MethodGet, "/api/results/r1/chapters/1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "第一章", decodeBody(t, w)["chapter_title"])

	w = doJSON(t, s, http.MethodGet, "/api/results/r1/chapters/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Chaptered downloads require a chapter index.
	req := httptest.NewRequest(http.MethodGet, "/api/results/r1/download", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/results/r1/download?chapter_index=1", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "乙", rec.Body.String())
}

func TestTaskEndpoints(t *testing.T) {
	s, a := newTestServer(t)

	created := a.Tasks.Create("novel.txt", 10, "openai", "gpt-4o", false)

	w := doJSON(t, s, http.MethodGet, "/api/tasks/"+created.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pending", decodeBody(t, w)["status"])

	w = doJSON(t, s, http.MethodGet, "/api/tasks/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, s, http.MethodGet, "/api/tasks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decodeBody(t, w)["total"])
}

func uploadRequest(t *testing.T, filename string, content []byte, query string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/correct/file"+query, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAsyncUploadChaptered(t *testing.T) {
	s, a := newTestServer(t)
	a.Registry.Register(provider.OpenAI, "fake-model", &fakeProvider{
		name: provider.OpenAI,
		fn:   func(text string) (string, error) { return text, nil },
	})

	text := "第一章 开端\n\n正文一。\n\n第二章 发展\n\n正文二。\n\n第三章 结局\n\n正文三。"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "novel.txt", []byte(text),
		"?async_task=true&provider=openai&model_name=fake-model"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["async"])
	assert.Equal(t, true, body["use_chapters"])
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	require.Eventually(t, func() bool {
		got, ok := a.Tasks.Get(taskID)
		return ok && (got.Status == task.StatusCompleted || got.Status == task.StatusFailed)
	}, 5*time.Second, 10*time.Millisecond)

	got, _ := a.Tasks.Get(taskID)
	require.Equal(t, task.StatusCompleted, got.Status)
	record, err := a.Store.GetResult(context.Background(), got.ResultID, false, true)
	require.NoError(t, err)
	assert.True(t, record.UseChapters)
	assert.Len(t, record.Chapters, 3)
}

func TestUploadValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "novel.pdf", []byte("文本"), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "仅支持.txt文件", decodeBody(t, rec)["detail"])

	// UTF-16 little-endian BOM.
	utf16 := []byte{0xFF, 0xFE, 0x87, 0x65}
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "novel.txt", utf16, ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "文件编码错误，请使用UTF-8编码", decodeBody(t, rec)["detail"])

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, uploadRequest(t, "novel.txt", []byte("   \n"), ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "文件内容为空", decodeBody(t, rec)["detail"])
}

func TestDecodeUploadText(t *testing.T) {
	text, err := decodeUploadText([]byte("\xEF\xBB\xBF带BOM的文本"))
	require.NoError(t, err)
	assert.Equal(t, "带BOM的文本", text)

	_, err = decodeUploadText([]byte{0xFE, 0xFF, 0x00, 0x41})
	assert.Error(t, err)

	_, err = decodeUploadText([]byte{0xC3, 0x28})
	assert.Error(t, err)
}

func TestPageParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/results?limit=%d&offset=%d", 7, 3), nil)
	limit, offset := pageParams(req, 50)
	assert.Equal(t, 7, limit)
	assert.Equal(t, 3, offset)

	req = httptest.NewRequest(http.MethodGet, "/api/results", nil)
	limit, offset = pageParams(req, 50)
	assert.Equal(t, 50, limit)
	assert.Equal(t, 0, offset)
}
