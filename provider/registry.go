//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package provider

import (
	"fmt"
	"sync"

	"github.com/textproof/textproof/config"
)

// Registry caches adapters by provider:model so repeated requests reuse
// HTTP clients. Invalidate drops the cache after a config mutation;
// adapters are re-created lazily from the settings then in force.
type Registry struct {
	mu    sync.Mutex
	cache map[string]Provider
}

// NewRegistry returns an empty adapter cache.
func NewRegistry() *Registry {
	return &Registry{cache: make(map[string]Provider)}
}

// Get returns the adapter for (name, model), building it on first use.
// An empty model falls back to the configured default when the default
// provider matches, otherwise to the first entry of the provider's menu.
func (r *Registry) Get(s config.Settings, name Name, model string) (Provider, error) {
	if model == "" {
		model = defaultModel(s, name)
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for provider %s", name)
	}

	key := string(name) + ":" + model
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.cache[key]; ok {
		return p, nil
	}

	p, err := build(s, name, model)
	if err != nil {
		return nil, err
	}
	r.cache[key] = p
	return p, nil
}

// Register pins a pre-built adapter for (name, model), bypassing the
// settings-driven constructors. Pinned adapters survive until the next
// Invalidate.
func (r *Registry) Register(name Name, model string, p Provider) {
	r.mu.Lock()
	r.cache[string(name)+":"+model] = p
	r.mu.Unlock()
}

// Invalidate clears the cache. Registered as a config OnChange hook.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]Provider)
	r.mu.Unlock()
}

func defaultModel(s config.Settings, name Name) string {
	if s.DefaultModelProvider == string(name) && s.DefaultModelName != "" {
		return s.DefaultModelName
	}
	if menu := s.ModelsByProvider(string(name)); len(menu) > 0 {
		return menu[0]
	}
	return ""
}

func build(s config.Settings, name Name, model string) (Provider, error) {
	switch name {
	case OpenAI:
		return NewChatAdapter(OpenAI, s.OpenAIAPIKey, s.OpenAIBaseURL, model)
	case DeepSeek:
		return NewChatAdapter(DeepSeek, s.DeepSeekAPIKey, s.DeepSeekBaseURL, model)
	case Ollama:
		return NewOllamaAdapter(s.OllamaBaseURL, model)
	}
	return nil, fmt.Errorf("unsupported provider: %s", name)
}
