//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ollama/ollama/api"

	"github.com/textproof/textproof/log"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	ollamaRequestTimeout = 300 * time.Second
	ollamaHealthTimeout  = 5 * time.Second
)

// OllamaAdapter talks to a local Ollama server over its native chat API.
type OllamaAdapter struct {
	model        string
	baseURL      *url.URL
	client       *api.Client
	healthClient *api.Client
}

// NewOllamaAdapter builds an adapter for an Ollama server. baseURL may be
// empty for the conventional localhost endpoint.
func NewOllamaAdapter(baseURL, model string) (*OllamaAdapter, error) {
	if model == "" {
		return nil, fmt.Errorf("ollama model name not configured")
	}
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", baseURL, err)
	}

	return &OllamaAdapter{
		model:        model,
		baseURL:      parsed,
		client:       api.NewClient(parsed, &http.Client{Timeout: ollamaRequestTimeout}),
		healthClient: api.NewClient(parsed, &http.Client{Timeout: ollamaHealthTimeout}),
	}, nil
}

// Name implements Provider.
func (a *OllamaAdapter) Name() Name { return Ollama }

// Model implements Provider.
func (a *OllamaAdapter) Model() string { return a.model }

// Correct sends one non-streaming chat request. num_predict is sized from
// the input so the model has room to return the whole corrected text;
// local models truncate silently when it is too small.
func (a *OllamaAdapter) Correct(ctx context.Context, text, prompt string) (string, error) {
	textLen := utf8.RuneCountInString(text)
	numPredict := 2*textLen + 1000
	if numPredict < 2048 {
		numPredict = 2048
	}

	log.Debugf("ollama correct: model=%s text_len=%d num_predict=%d", a.model, textLen, numPredict)

	stream := false
	request := &api.ChatRequest{
		Model: a.model,
		Messages: []api.Message{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
		Stream: &stream,
		Options: map[string]any{
			"temperature": 0.0,
			"num_predict": numPredict,
		},
	}

	var content string
	err := a.client.Chat(ctx, request, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return "", classify(Ollama, fmt.Sprintf("Ollama API调用失败: 无法访问 %s", a.baseURL), err)
	}

	content = StripMarkers(content)
	if content == "" {
		return "", &Error{Provider: Ollama, Kind: KindAdapter, Message: "Ollama 返回空响应"}
	}
	if got := utf8.RuneCountInString(content); got*2 < textLen {
		log.Warnf("ollama response much shorter than input (%d < %d), possible truncation", got, textLen)
	}
	return content, nil
}

// Health probes the server's tag listing with a short timeout.
func (a *OllamaAdapter) Health(ctx context.Context) bool {
	_, err := a.healthClient.List(ctx)
	if err != nil {
		log.Warnf("ollama health check failed: %v", err)
		return false
	}
	return true
}
