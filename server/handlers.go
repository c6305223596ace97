//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gorilla/mux"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/textproof/textproof/config"
	"github.com/textproof/textproof/diff"
	"github.com/textproof/textproof/engine"
	"github.com/textproof/textproof/log"
	"github.com/textproof/textproof/provider"
	"github.com/textproof/textproof/splitter"
	"github.com/textproof/textproof/store"
)

const (
	version        = "1.0.0"
	maxUploadBytes = 50 << 20
	defaultLimit   = 50
	manualFilename = "手动输入"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "textproof",
		"version": version,
		"message": "中文文本校对服务运行中",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	name, model, available := s.app.HealthCheck(r.Context(),
		r.URL.Query().Get("provider"), r.URL.Query().Get("model_name"))

	status := "healthy"
	if !available {
		status = "unhealthy"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"provider":   name,
		"model_name": model,
		"available":  available,
	})
}

type correctRequest struct {
	Text         string `json:"text"`
	Provider     string `json:"provider"`
	ModelName    string `json:"model_name"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

type correctResponse struct {
	Original        string                `json:"original"`
	Corrected       string                `json:"corrected"`
	ChunksProcessed int                   `json:"chunks_processed"`
	TotalChunks     int                   `json:"total_chunks"`
	HasChanges      bool                  `json:"has_changes"`
	FailedChunks    int                   `json:"failed_chunks"`
	HasFailures     bool                  `json:"has_failures"`
	FailureDetails  []engine.ChunkFailure `json:"failure_details,omitempty"`
}

func (s *Server) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req correctRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "文本内容不能为空")
		return
	}

	result, err := s.correct(r, req)
	if err != nil {
		s.writeCorrectionError(w, err)
		return
	}

	resp := toCorrectResponse(result)
	s.saveManualResult(r, manualFilename, result, req.Provider, req.ModelName)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) correct(r *http.Request, req correctRequest) (*engine.Result, error) {
	eng, err := s.app.NewEngine(req.Provider, req.ModelName, req.ChunkSize, req.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	return eng.Correct(r.Context(), req.Text, nil)
}

func toCorrectResponse(result *engine.Result) correctResponse {
	return correctResponse{
		Original:        result.Original,
		Corrected:       result.Corrected,
		ChunksProcessed: result.ChunksProcessed,
		TotalChunks:     result.TotalChunks,
		HasChanges:      result.Original != result.Corrected,
		FailedChunks:    result.FailedChunks,
		HasFailures:     result.HasFailures,
		FailureDetails:  result.FailureDetails,
	}
}

func (s *Server) writeCorrectionError(w http.ResponseWriter, err error) {
	var fatal *engine.FatalError
	if errors.As(err, &fatal) {
		writeError(w, http.StatusInternalServerError, "校对失败: "+fatal.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, "校对失败: "+err.Error())
}

// saveManualResult records a synchronous correction in the store, best
// effort.
func (s *Server) saveManualResult(r *http.Request, filename string, result *engine.Result, providerName, model string) {
	settings := s.app.Config.Snapshot()
	if providerName == "" {
		providerName = settings.DefaultModelProvider
	}
	hasChanges := diff.HasMeaningfulChanges(result.Original, result.Corrected)
	_, err := s.app.Tasks.SaveManualResult(r.Context(), filename,
		result.Original, result.Corrected, hasChanges, providerName, model)
	if err != nil {
		log.Warnf("save manual result: %v", err)
	}
}

func (s *Server) handleCorrectFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "缺少上传文件")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".txt") {
		writeError(w, http.StatusBadRequest, "仅支持.txt文件")
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "读取上传文件失败")
		return
	}
	text, err := decodeUploadText(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "文件编码错误，请使用UTF-8编码")
		return
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "文件内容为空")
		return
	}

	query := r.URL.Query()
	providerName := query.Get("provider")
	model := query.Get("model_name")

	if query.Get("async_task") != "true" {
		result, err := s.correct(r, correctRequest{Text: text, Provider: providerName, ModelName: model})
		if err != nil {
			s.writeCorrectionError(w, err)
			return
		}
		resp := toCorrectResponse(result)
		s.saveManualResult(r, header.Filename, result, providerName, model)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	eng, err := s.app.NewEngine(providerName, model, 0, 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info := splitter.DetectChapters(text)
	var chapters []splitter.Chapter
	if info.HasChapters {
		chapters = splitter.SplitChapters(text)
	}

	settings := s.app.Config.Snapshot()
	if providerName == "" {
		providerName = settings.DefaultModelProvider
	}
	created := s.app.Tasks.Create(header.Filename, header.Size, providerName, model, info.HasChapters)

	taskID := created.ID
	if err := s.app.Pool.Submit(func() {
		// The upload outlives the HTTP request; it must not inherit the
		// request context.
		s.app.Tasks.RunUpload(context.Background(), taskID, text, chapters, eng)
	}); err != nil {
		s.app.Tasks.Fail(taskID, "任务提交失败: "+err.Error())
		writeError(w, http.StatusInternalServerError, "任务提交失败")
		return
	}

	resp := map[string]any{
		"task_id": taskID,
		"async":   true,
		"message": "任务已创建，正在后台处理",
	}
	if info.HasChapters {
		resp["use_chapters"] = true
		resp["chapter_count"] = info.ChapterCount
	}
	writeJSON(w, http.StatusOK, resp)
}

type diffRequest struct {
	Text      string `json:"text"`
	Corrected string `json:"corrected"`
	Provider  string `json:"provider"`
	ModelName string `json:"model_name"`
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	var req diffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "文本内容不能为空")
		return
	}

	corrected := req.Corrected
	if corrected == "" {
		result, err := s.correct(r, correctRequest{Text: req.Text, Provider: req.Provider, ModelName: req.ModelName})
		if err != nil {
			s.writeCorrectionError(w, err)
			return
		}
		corrected = result.Corrected
	}
	writeJSON(w, http.StatusOK, diff.HighlightDiff(req.Text, corrected))
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	settings := s.app.Config.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": provider.All(),
		"default":   settings.DefaultModelProvider,
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	settings := s.app.Config.Snapshot()
	providerName := r.URL.Query().Get("provider")

	if providerName != "" {
		name, err := provider.ParseName(providerName)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"provider": name,
			"models":   settings.ModelsByProvider(string(name)),
		})
		return
	}

	menus := make(map[string][]string, 3)
	for _, name := range provider.All() {
		menus[string(name)] = settings.ModelsByProvider(string(name))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"models":           menus,
		"default_provider": settings.DefaultModelProvider,
		"default_model":    settings.DefaultModelName,
	})
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("reload") == "true" {
		s.app.Prompts.Reload()
	}
	providerName := r.URL.Query().Get("provider")
	if providerName == "" {
		providerName = "openai"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"prompt":      s.app.Prompts.Get(providerName),
		"is_custom":   s.app.Prompts.IsCustom(),
		"prompt_file": s.app.Prompts.PromptFile(),
	})
}

type promptRequest struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"provider"`
	Persist  bool   `json:"persist"`
}

func (s *Server) handleSetPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "提示词不能为空")
		return
	}
	if req.Provider == "" {
		req.Provider = "openai"
	}

	s.app.Prompts.Set(req.Provider, req.Prompt)

	resp := map[string]any{"message": "提示词已更新"}
	if req.Persist {
		path, err := s.app.Prompts.SaveDefault(req.Provider)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "保存提示词失败: "+err.Error())
			return
		}
		key := config.KeyPromptFile
		if req.Provider == string(provider.Ollama) {
			key = config.KeyOllamaPromptFile
		}
		if err := s.app.Config.SetDotfileKey(key, path); err != nil {
			log.Warnf("persist prompt file path: %v", err)
		}
		resp["prompt_file"] = path
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	settings := s.app.Config.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"default_provider":        settings.DefaultModelProvider,
		"default_model":           settings.DefaultModelName,
		"chunk_size":              settings.ChunkSize,
		"chunk_overlap":           settings.ChunkOverlap,
		"ollama_chunk_size":       settings.OllamaChunkSize,
		"ollama_chunk_overlap":    settings.OllamaChunkOverlap,
		"fast_provider_max_chars": settings.FastProviderMaxChars,
		"max_retries":             settings.MaxRetries,
		"retry_delay":             settings.RetryDelay,
		"openai_api_key_set":      settings.OpenAIAPIKey != "",
		"deepseek_api_key_set":    settings.DeepSeekAPIKey != "",
		"ollama_base_url":         settings.OllamaBaseURL,
	})
}

type configRequest struct {
	DefaultProvider      *string  `json:"default_provider"`
	DefaultModel         *string  `json:"default_model"`
	ChunkSize            *int     `json:"chunk_size"`
	ChunkOverlap         *int     `json:"chunk_overlap"`
	OllamaChunkSize      *int     `json:"ollama_chunk_size"`
	OllamaChunkOverlap   *int     `json:"ollama_chunk_overlap"`
	FastProviderMaxChars *int     `json:"fast_provider_max_chars"`
	MaxRetries           *int     `json:"max_retries"`
	RetryDelay           *float64 `json:"retry_delay"`
	Persist              bool     `json:"persist"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误")
		return
	}
	if req.DefaultProvider != nil {
		if _, err := provider.ParseName(*req.DefaultProvider); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	err := s.app.Config.Update(func(c *config.Settings) {
		if req.DefaultProvider != nil {
			c.DefaultModelProvider = strings.ToLower(*req.DefaultProvider)
		}
		if req.DefaultModel != nil {
			c.DefaultModelName = *req.DefaultModel
		}
		if req.ChunkSize != nil {
			c.ChunkSize = *req.ChunkSize
		}
		if req.ChunkOverlap != nil {
			c.ChunkOverlap = *req.ChunkOverlap
		}
		if req.OllamaChunkSize != nil {
			c.OllamaChunkSize = *req.OllamaChunkSize
		}
		if req.OllamaChunkOverlap != nil {
			c.OllamaChunkOverlap = *req.OllamaChunkOverlap
		}
		if req.FastProviderMaxChars != nil {
			c.FastProviderMaxChars = *req.FastProviderMaxChars
		}
		if req.MaxRetries != nil {
			c.MaxRetries = *req.MaxRetries
		}
		if req.RetryDelay != nil {
			c.RetryDelay = *req.RetryDelay
		}
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Persist {
		if err := s.app.Config.Save(); err != nil {
			writeError(w, http.StatusInternalServerError, "保存配置失败: "+err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "配置已更新"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, defaultLimit)

	live := s.app.Tasks.List()
	seen := make(map[string]bool, len(live))
	items := make([]any, 0, len(live))
	for _, t := range live {
		seen[t.ID] = true
		items = append(items, t)
	}

	// Persisted snapshots fill in tasks from earlier runs of the process.
	if page, err := s.app.Store.ListTasks(r.Context(), limit, offset); err == nil {
		for _, row := range page.Items {
			if !seen[row.TaskID] {
				items = append(items, row)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": items, "total": len(items)})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if t, ok := s.app.Tasks.Get(id); ok {
		writeJSON(w, http.StatusOK, t)
		return
	}
	writeError(w, http.StatusNotFound, "任务不存在")
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, defaultLimit)
	page, err := s.app.Store.ListResults(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	includeText := r.URL.Query().Get("include_text") == "true"

	record, err := s.app.Store.GetResult(r.Context(), id, includeText, true)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "结果不存在")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleGetChapter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	index, err := strconv.Atoi(vars["index"])
	if err != nil || index < 1 {
		writeError(w, http.StatusBadRequest, "章节序号无效")
		return
	}

	chapter, err := s.app.Store.GetChapter(r.Context(), vars["id"], index)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "章节不存在")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chapter)
}

func (s *Server) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	err := s.app.Store.DeleteResult(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "结果不存在")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "结果已删除"})
}

type manualResultRequest struct {
	Filename      string `json:"filename"`
	OriginalText  string `json:"original_text"`
	CorrectedText string `json:"corrected_text"`
	Provider      string `json:"provider"`
	ModelName     string `json:"model_name"`
}

func (s *Server) handleManualResult(w http.ResponseWriter, r *http.Request) {
	var req manualResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求格式错误")
		return
	}
	if req.OriginalText == "" || req.CorrectedText == "" {
		writeError(w, http.StatusBadRequest, "原文和校对文本不能为空")
		return
	}
	if req.Filename == "" {
		req.Filename = manualFilename
	}

	hasChanges := diff.HasMeaningfulChanges(req.OriginalText, req.CorrectedText)
	id, err := s.app.Tasks.SaveManualResult(r.Context(), req.Filename,
		req.OriginalText, req.CorrectedText, hasChanges, req.Provider, req.ModelName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result_id": id, "has_changes": hasChanges})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	which := r.URL.Query().Get("which")
	if which == "" {
		which = "corrected"
	}
	if which != "original" && which != "corrected" {
		writeError(w, http.StatusBadRequest, "which参数必须是original或corrected")
		return
	}

	record, err := s.app.Store.GetResult(r.Context(), id, true, false)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "结果不存在")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	text := record.CorrectedText
	original := record.OriginalText
	if record.UseChapters {
		indexParam := r.URL.Query().Get("chapter_index")
		if indexParam == "" {
			writeError(w, http.StatusBadRequest, "章节结果需要指定chapter_index")
			return
		}
		index, err := strconv.Atoi(indexParam)
		if err != nil || index < 1 {
			writeError(w, http.StatusBadRequest, "章节序号无效")
			return
		}
		chapter, err := s.app.Store.GetChapter(r.Context(), id, index)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "章节不存在")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		text, original = chapter.CorrectedText, chapter.OriginalText
	}
	if which == "original" {
		text = original
	}

	base := strings.TrimSuffix(record.Filename, filepath.Ext(record.Filename))
	filename := fmt.Sprintf("%s_%s.txt", base, which)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	streamText(w, text)
}

// streamText writes text in bounded chunks, flushing between writes so
// large documents download progressively.
func streamText(w http.ResponseWriter, text string) {
	const chunkBytes = 64 << 10
	flusher, _ := w.(http.Flusher)
	data := []byte(text)
	for len(data) > 0 {
		n := chunkBytes
		if n > len(data) {
			n = len(data)
		}
		if _, err := w.Write(data[:n]); err != nil {
			return
		}
		data = data[n:]
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// decodeUploadText rejects non-UTF-8 uploads, stripping a UTF-8 BOM when
// present.
func decodeUploadText(data []byte) (string, error) {
	if len(data) >= 2 {
		if (data[0] == 0xFF && data[1] == 0xFE) || (data[0] == 0xFE && data[1] == 0xFF) {
			return "", errors.New("utf-16 encoded file")
		}
	}
	decoded, _, err := transform.Bytes(unicode.UTF8BOM.NewDecoder(), data)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(decoded) {
		return "", errors.New("invalid utf-8")
	}
	return string(decoded), nil
}

func pageParams(r *http.Request, fallback int) (limit, offset int) {
	limit = fallback
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}
