//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package provider implements the model adapters that perform one-shot
// proofreading calls: OpenAI-compatible chat endpoints (OpenAI, DeepSeek)
// and a local Ollama server. All adapters share the same contract so the
// correction engine can treat them uniformly.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/textproof/textproof/log"
)

// Name identifies a supported model provider.
type Name string

const (
	OpenAI   Name = "openai"
	DeepSeek Name = "deepseek"
	Ollama   Name = "ollama"
)

// ParseName validates a provider string from config or a request.
func ParseName(s string) (Name, error) {
	switch Name(strings.ToLower(strings.TrimSpace(s))) {
	case OpenAI:
		return OpenAI, nil
	case DeepSeek:
		return DeepSeek, nil
	case Ollama:
		return Ollama, nil
	}
	return "", fmt.Errorf("unsupported provider: %s", s)
}

// All lists the supported providers in their canonical order.
func All() []Name {
	return []Name{OpenAI, DeepSeek, Ollama}
}

// ErrorKind classifies an adapter failure for the engine's failure handling.
type ErrorKind int

const (
	// KindAdapter is any non-classified provider failure. Retried.
	KindAdapter ErrorKind = iota
	// KindConnection is a network-layer failure. It terminates the
	// remaining units of the current task.
	KindConnection
	// KindUnavailable is a transient 5xx. Three consecutive occurrences
	// short-circuit the remainder of a task.
	KindUnavailable
)

// Error is the uniform adapter error.
type Error struct {
	Provider Name
	Kind     ErrorKind
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// IsConnection reports whether err carries a connection-kind adapter error.
func IsConnection(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindConnection
}

// IsUnavailable reports whether err carries a service-unavailable error.
func IsUnavailable(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindUnavailable
}

var (
	connectionKeywords  = []string{"connection", "connect", "network", "dns", "timeout", "unreachable"}
	unavailableKeywords = []string{"503", "502", "504", "service unavailable", "bad gateway"}
)

// classify wraps err as an adapter Error, deciding the kind by substring
// match against the lowered error string.
func classify(p Name, message string, err error) *Error {
	kind := KindAdapter
	lowered := strings.ToLower(err.Error())
	for _, kw := range connectionKeywords {
		if strings.Contains(lowered, kw) {
			kind = KindConnection
			break
		}
	}
	if kind == KindAdapter {
		for _, kw := range unavailableKeywords {
			if strings.Contains(lowered, kw) {
				kind = KindUnavailable
				break
			}
		}
	}
	return &Error{Provider: p, Kind: kind, Message: message, Err: err}
}

// Provider is the uniform adapter contract.
type Provider interface {
	// Name returns the provider identity.
	Name() Name
	// Model returns the configured model name.
	Model() string
	// Correct sends text with the proofreading prompt and returns the
	// corrected text.
	Correct(ctx context.Context, text, prompt string) (string, error)
	// Health is a cheap aliveness probe.
	Health(ctx context.Context) bool
}

// CorrectWithRetry wraps Correct with maxRetries attempts and a delay of
// retryDelay*attempt between them. The last error is returned on
// exhaustion.
func CorrectWithRetry(ctx context.Context, p Provider, text, prompt string, maxRetries int, retryDelay time.Duration) (string, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		result, err := p.Correct(ctx, text, prompt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Warnf("%s correction attempt %d/%d failed: %v", p.Name(), attempt, maxRetries, err)

		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(retryDelay * time.Duration(attempt)):
		}
	}
	return "", lastErr
}
