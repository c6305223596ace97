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
	"unicode/utf8"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/textproof/textproof/log"
)

// Completion-size headroom added on top of the input length.
const completionHeadroom = 500

// ChatAdapter talks to an OpenAI-compatible chat completion endpoint. It
// serves both OpenAI itself and DeepSeek, which only differ in base URL,
// credentials and response cleanup.
type ChatAdapter struct {
	name   Name
	model  string
	client openai.Client
}

// NewChatAdapter builds an adapter for an OpenAI-compatible provider.
// baseURL may be empty for the provider's default endpoint.
func NewChatAdapter(name Name, apiKey, baseURL, model string) (*ChatAdapter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key not configured", name)
	}
	if model == "" {
		return nil, fmt.Errorf("%s model name not configured", name)
	}

	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	return &ChatAdapter{
		name:   name,
		model:  model,
		client: openai.NewClient(opts...),
	}, nil
}

// Name implements Provider.
func (a *ChatAdapter) Name() Name { return a.name }

// Model implements Provider.
func (a *ChatAdapter) Model() string { return a.model }

// Correct sends one chat completion with the prompt as the system message
// and the text as the user message.
func (a *ChatAdapter) Correct(ctx context.Context, text, prompt string) (string, error) {
	maxTokens := int64(utf8.RuneCountInString(text) + completionHeadroom)
	request := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(prompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0.0),
		MaxTokens:   openai.Int(maxTokens),
	}

	log.Debugf("%s correct: model=%s text_len=%d max_tokens=%d",
		a.name, a.model, utf8.RuneCountInString(text), maxTokens)

	completion, err := a.client.Chat.Completions.New(ctx, request)
	if err != nil {
		return "", classify(a.name, fmt.Sprintf("%s API调用失败", a.name), err)
	}
	if len(completion.Choices) == 0 {
		return "", &Error{Provider: a.name, Kind: KindAdapter, Message: fmt.Sprintf("%s 返回空响应", a.name)}
	}

	content := completion.Choices[0].Message.Content
	if a.name == DeepSeek {
		content = StripMarkers(content)
	}
	return content, nil
}

// Health lists models as a cheap aliveness probe.
func (a *ChatAdapter) Health(ctx context.Context) bool {
	_, err := a.client.Models.List(ctx)
	if err != nil {
		log.Warnf("%s health check failed: %v", a.name, err)
		return false
	}
	return true
}
