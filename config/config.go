//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package config manages process-wide settings loaded from a dotfile and the
// environment, with validated runtime mutation and optional persistence back
// to the dotfile.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Dotfile keys. The dotfile is a line-oriented KEY=VALUE file; environment
// variables with the same names take precedence.
const (
	KeyOpenAIAPIKey         = "OPENAI_API_KEY"
	KeyOpenAIBaseURL        = "OPENAI_BASE_URL"
	KeyDeepSeekAPIKey       = "DEEPSEEK_API_KEY"
	KeyDeepSeekBaseURL      = "DEEPSEEK_BASE_URL"
	KeyOllamaBaseURL        = "OLLAMA_BASE_URL"
	KeyDefaultProvider      = "DEFAULT_MODEL_PROVIDER"
	KeyDefaultModel         = "DEFAULT_MODEL_NAME"
	KeyOpenAIModels         = "OPENAI_MODELS"
	KeyDeepSeekModels       = "DEEPSEEK_MODELS"
	KeyOllamaModels         = "OLLAMA_MODELS"
	KeyChunkSize            = "CHUNK_SIZE"
	KeyChunkOverlap         = "CHUNK_OVERLAP"
	KeyOllamaChunkSize      = "OLLAMA_CHUNK_SIZE"
	KeyOllamaChunkOverlap   = "OLLAMA_CHUNK_OVERLAP"
	KeyFastProviderMaxChars = "FAST_PROVIDER_MAX_CHARS"
	KeyMaxRetries           = "MAX_RETRIES"
	KeyRetryDelay           = "RETRY_DELAY"
	KeyPromptFile           = "PROMPT_FILE"
	KeyOllamaPromptFile     = "OLLAMA_PROMPT_FILE"
	KeyOllamaUsePreCorrect  = "OLLAMA_USE_PYCORRECTOR"
)

// Settings holds the process-wide configuration.
type Settings struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	DeepSeekAPIKey  string
	DeepSeekBaseURL string
	OllamaBaseURL   string

	DefaultModelProvider string
	DefaultModelName     string

	// Per-provider model menus, comma-separated.
	OpenAIModels   string
	DeepSeekModels string
	OllamaModels   string

	ChunkSize          int
	ChunkOverlap       int
	OllamaChunkSize    int
	OllamaChunkOverlap int

	// Texts at or below this rune count go through a cloud provider in a
	// single call instead of being chunked.
	FastProviderMaxChars int

	MaxRetries int
	RetryDelay float64 // seconds

	PromptFile       string
	OllamaPromptFile string

	// Run the pluggable pre-corrector on the per-sentence path.
	OllamaUsePreCorrector bool
}

// Default returns the built-in defaults.
func Default() Settings {
	return Settings{
		OpenAIBaseURL:         "https://api.openai.com/v1",
		DeepSeekBaseURL:       "https://api.deepseek.com/v1",
		OllamaBaseURL:         "http://localhost:11434",
		DefaultModelProvider:  "openai",
		DefaultModelName:      "gpt-4-turbo-preview",
		OpenAIModels:          "gpt-4-turbo-preview,gpt-4o,gpt-4o-mini,gpt-3.5-turbo",
		DeepSeekModels:        "deepseek-chat,deepseek-reasoner",
		OllamaModels:          "qwen2.5:7b,llama3.1:8b",
		ChunkSize:             2000,
		ChunkOverlap:          200,
		OllamaChunkSize:       500,
		OllamaChunkOverlap:    50,
		FastProviderMaxChars:  10000,
		MaxRetries:            3,
		RetryDelay:            1.0,
		OllamaUsePreCorrector: true,
	}
}

// RetryDelayDuration returns the retry delay as a time.Duration.
func (s Settings) RetryDelayDuration() time.Duration {
	return time.Duration(s.RetryDelay * float64(time.Second))
}

// ModelsByProvider returns the model menu configured for a provider.
func (s Settings) ModelsByProvider(provider string) []string {
	var raw string
	switch strings.ToLower(provider) {
	case "openai":
		raw = s.OpenAIModels
	case "deepseek":
		raw = s.DeepSeekModels
	case "ollama":
		raw = s.OllamaModels
	default:
		return nil
	}
	var models []string
	for _, m := range strings.Split(raw, ",") {
		if m = strings.TrimSpace(m); m != "" {
			models = append(models, m)
		}
	}
	return models
}

// Validate reports the first violated constraint, if any.
func (s Settings) Validate() error {
	if s.ChunkSize <= 0 {
		return errors.New("chunk_size must be greater than 0")
	}
	if s.ChunkOverlap < 0 {
		return errors.New("chunk_overlap must not be negative")
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return errors.New("chunk_overlap must be smaller than chunk_size")
	}
	if s.OllamaChunkSize <= 0 {
		return errors.New("ollama_chunk_size must be greater than 0")
	}
	if s.OllamaChunkOverlap < 0 || s.OllamaChunkOverlap >= s.OllamaChunkSize {
		return errors.New("ollama_chunk_overlap must be smaller than ollama_chunk_size")
	}
	if s.FastProviderMaxChars <= 0 {
		return errors.New("fast_provider_max_chars must be greater than 0")
	}
	if s.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if s.RetryDelay < 0 {
		return errors.New("retry_delay must not be negative")
	}
	return nil
}

// Store guards a Settings value for concurrent readers and serialized
// writers, and remembers the dotfile it was loaded from.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	dotfile  *dotfile

	// onChange hooks run after every successful update, outside the lock.
	// The provider cache invalidation hangs off this.
	onChange []func()
}

// Load reads settings from the dotfile at path (missing file is fine) and
// then applies environment overrides. The returned Store remembers path for
// later Save calls.
func Load(path string) (*Store, error) {
	df, err := loadDotfile(path)
	if err != nil {
		return nil, fmt.Errorf("load dotfile: %w", err)
	}
	s := Default()
	values := df.values()
	for key := range values {
		if env := os.Getenv(key); env != "" {
			values[key] = env
		}
	}
	for _, key := range allKeys {
		if _, ok := values[key]; ok {
			continue
		}
		if env := os.Getenv(key); env != "" {
			values[key] = env
		}
	}
	if err := applyValues(&s, values); err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &Store{settings: s, dotfile: df}, nil
}

// NewStore wraps pre-built settings, mainly for tests.
func NewStore(s Settings) *Store {
	return &Store{settings: s, dotfile: &dotfile{}}
}

// OnChange registers a hook invoked after every successful update.
func (st *Store) OnChange(fn func()) {
	st.mu.Lock()
	st.onChange = append(st.onChange, fn)
	st.mu.Unlock()
}

// Snapshot returns a copy of the current settings.
func (st *Store) Snapshot() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.settings
}

// Update applies fn to a copy of the settings and commits it if validation
// passes. Registered hooks fire after the commit.
func (st *Store) Update(fn func(*Settings)) error {
	st.mu.Lock()
	next := st.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		st.mu.Unlock()
		return err
	}
	st.settings = next
	hooks := append([]func(){}, st.onChange...)
	st.mu.Unlock()
	for _, h := range hooks {
		h()
	}
	return nil
}

// Save persists the current settings to the dotfile, preserving comments and
// line order and appending keys that were not present before.
func (st *Store) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	encode(&st.settings, st.dotfile)
	return st.dotfile.write()
}

// SetDotfileKey upserts a single raw key in the dotfile without touching the
// in-memory settings. Used by the prompt persistence path.
func (st *Store) SetDotfileKey(key, value string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.dotfile.set(key, value)
	return st.dotfile.write()
}

var allKeys = []string{
	KeyOpenAIAPIKey, KeyOpenAIBaseURL,
	KeyDeepSeekAPIKey, KeyDeepSeekBaseURL,
	KeyOllamaBaseURL,
	KeyDefaultProvider, KeyDefaultModel,
	KeyOpenAIModels, KeyDeepSeekModels, KeyOllamaModels,
	KeyChunkSize, KeyChunkOverlap,
	KeyOllamaChunkSize, KeyOllamaChunkOverlap,
	KeyFastProviderMaxChars,
	KeyMaxRetries, KeyRetryDelay,
	KeyPromptFile, KeyOllamaPromptFile,
	KeyOllamaUsePreCorrect,
}

func applyValues(s *Settings, values map[string]string) error {
	for key, value := range values {
		if err := applyValue(s, key, value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	return nil
}

func applyValue(s *Settings, key, value string) error {
	var err error
	switch key {
	case KeyOpenAIAPIKey:
		s.OpenAIAPIKey = value
	case KeyOpenAIBaseURL:
		s.OpenAIBaseURL = value
	case KeyDeepSeekAPIKey:
		s.DeepSeekAPIKey = value
	case KeyDeepSeekBaseURL:
		s.DeepSeekBaseURL = value
	case KeyOllamaBaseURL:
		s.OllamaBaseURL = value
	case KeyDefaultProvider:
		s.DefaultModelProvider = strings.ToLower(value)
	case KeyDefaultModel:
		s.DefaultModelName = value
	case KeyOpenAIModels:
		s.OpenAIModels = value
	case KeyDeepSeekModels:
		s.DeepSeekModels = value
	case KeyOllamaModels:
		s.OllamaModels = value
	case KeyChunkSize:
		s.ChunkSize, err = strconv.Atoi(value)
	case KeyChunkOverlap:
		s.ChunkOverlap, err = strconv.Atoi(value)
	case KeyOllamaChunkSize:
		s.OllamaChunkSize, err = strconv.Atoi(value)
	case KeyOllamaChunkOverlap:
		s.OllamaChunkOverlap, err = strconv.Atoi(value)
	case KeyFastProviderMaxChars:
		s.FastProviderMaxChars, err = strconv.Atoi(value)
	case KeyMaxRetries:
		s.MaxRetries, err = strconv.Atoi(value)
	case KeyRetryDelay:
		s.RetryDelay, err = strconv.ParseFloat(value, 64)
	case KeyPromptFile:
		s.PromptFile = value
	case KeyOllamaPromptFile:
		s.OllamaPromptFile = value
	case KeyOllamaUsePreCorrect:
		s.OllamaUsePreCorrector, err = strconv.ParseBool(value)
	}
	return err
}

func encode(s *Settings, df *dotfile) {
	set := func(key, value string) {
		if value != "" {
			df.set(key, value)
		}
	}
	set(KeyOpenAIAPIKey, s.OpenAIAPIKey)
	set(KeyOpenAIBaseURL, s.OpenAIBaseURL)
	set(KeyDeepSeekAPIKey, s.DeepSeekAPIKey)
	set(KeyDeepSeekBaseURL, s.DeepSeekBaseURL)
	set(KeyOllamaBaseURL, s.OllamaBaseURL)
	set(KeyDefaultProvider, s.DefaultModelProvider)
	set(KeyDefaultModel, s.DefaultModelName)
	set(KeyOpenAIModels, s.OpenAIModels)
	set(KeyDeepSeekModels, s.DeepSeekModels)
	set(KeyOllamaModels, s.OllamaModels)
	df.set(KeyChunkSize, strconv.Itoa(s.ChunkSize))
	df.set(KeyChunkOverlap, strconv.Itoa(s.ChunkOverlap))
	df.set(KeyOllamaChunkSize, strconv.Itoa(s.OllamaChunkSize))
	df.set(KeyOllamaChunkOverlap, strconv.Itoa(s.OllamaChunkOverlap))
	df.set(KeyFastProviderMaxChars, strconv.Itoa(s.FastProviderMaxChars))
	df.set(KeyMaxRetries, strconv.Itoa(s.MaxRetries))
	df.set(KeyRetryDelay, strconv.FormatFloat(s.RetryDelay, 'g', -1, 64))
	set(KeyPromptFile, s.PromptFile)
	set(KeyOllamaPromptFile, s.OllamaPromptFile)
	df.set(KeyOllamaUsePreCorrect, strconv.FormatBool(s.OllamaUsePreCorrector))
}
