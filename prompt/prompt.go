//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package prompt manages the correction prompt templates: a general one for
// cloud providers and an Ollama-specific one for local models.
package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/textproof/textproof/log"
)

// DefaultPrompt is the built-in correction prompt used when no custom prompt
// file is configured.
const DefaultPrompt = `你是一名专业的文本校对员。你的任务是纠正文本中的错误，但必须严格遵守以下规则：

【核心原则】
1. 只纠正错误，不改变原文意思和风格
2. 只修正：错别字、病句、拼音或谐音转简体中文、明显错误的标点符号
3. 禁止任何文风、语气、措辞层面的优化
4. 禁止添加、删除或改写内容
5. 如果原文没有明显错误，必须保持完全不变

【严格禁止的行为】
- 禁止同义词替换（如"巴掌"改为"耳光"、"说"改为"道"、"走"改为"行"等）
- 禁止用词优化（如"好"改为"优秀"、"大"改为"巨大"等）
- 禁止语气调整（如"不行"改为"不可以"、"快点"改为"请尽快"等）
- 禁止风格转换（如口语改书面语、方言改普通话等）
- 禁止任何形式的"润色"、"优化"、"改进"表达

【具体规则】
- 错别字：将错误的字词替换为正确的（如"的"误用为"地"、"在"误用为"再"）
- 病句：修正语法错误，但保持原意不变（如"我去了学校昨天"改为"我昨天去了学校"）
- 拼音转中文：将拼音或谐音字转换为正确的简体中文（如"ni hao"改为"你好"）
- 标点错误：修正明显错误的标点符号（如句号误用为逗号、缺少引号等）
- 保持原意：任何修改都不能改变原文要表达的意思
- 保持风格：保持原文的语言风格和表达方式，包括用词习惯

【输出要求】
直接输出校对后的文本，不要添加任何说明、注释或标记。如果原文没有错误，直接原样输出。

现在请校对以下文本：`

// Conventional save locations relative to the base directory.
const (
	customPromptFile       = "prompts/custom_prompt.txt"
	ollamaCustomPromptFile = "prompts/ollama_custom_prompt.txt"
)

// Manager holds the two prompt templates and knows how to load and persist
// them. It is read-mostly and safe for concurrent use.
type Manager struct {
	mu sync.RWMutex

	baseDir          string
	promptFile       string // configured general prompt file, may be empty
	ollamaPromptFile string // configured Ollama prompt file, may be empty

	general string
	ollama  string
}

// NewManager creates a Manager rooted at baseDir. promptFile and
// ollamaPromptFile come from the configuration and may be empty; relative
// paths resolve against baseDir. Prompts load immediately with fallback to
// the built-in default.
func NewManager(baseDir, promptFile, ollamaPromptFile string) *Manager {
	m := &Manager{
		baseDir:          baseDir,
		promptFile:       resolve(baseDir, promptFile),
		ollamaPromptFile: resolve(baseDir, ollamaPromptFile),
	}
	m.Reload()
	return m
}

// Reload re-reads both prompts from their files. The general prompt falls
// back to the built-in default; the Ollama prompt falls back to the general
// one, trying the conventional save path when no file is configured.
func (m *Manager) Reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.general = DefaultPrompt
	if m.promptFile != "" {
		if data, err := os.ReadFile(m.promptFile); err == nil {
			m.general = strings.TrimSpace(string(data))
		} else {
			log.Warnf("prompt: cannot read %s, using default prompt: %v", m.promptFile, err)
		}
	}

	ollamaPath := m.ollamaPromptFile
	if ollamaPath == "" {
		ollamaPath = filepath.Join(m.baseDir, ollamaCustomPromptFile)
	}
	if data, err := os.ReadFile(ollamaPath); err == nil {
		m.ollama = strings.TrimSpace(string(data))
	} else {
		m.ollama = m.general
	}
}

// Get returns the prompt for a provider: "ollama" gets the Ollama-specific
// template, everything else the general one.
func (m *Manager) Get(provider string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if strings.EqualFold(provider, "ollama") {
		return m.ollama
	}
	return m.general
}

// IsCustom reports whether a custom general prompt file is configured.
func (m *Manager) IsCustom() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.promptFile != ""
}

// PromptFile returns the configured general prompt file path, if any.
func (m *Manager) PromptFile() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.promptFile
}

// Set replaces the in-memory prompt for a provider without persisting it.
func (m *Manager) Set(provider, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.EqualFold(provider, "ollama") {
		m.ollama = text
		return
	}
	m.general = text
}

// SaveDefault writes the current prompt for a provider to its conventional
// file under baseDir and returns the path written.
func (m *Manager) SaveDefault(provider string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rel := customPromptFile
	content := m.general
	if strings.EqualFold(provider, "ollama") {
		rel = ollamaCustomPromptFile
		content = m.ollama
	}
	path := filepath.Join(m.baseDir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	if !strings.EqualFold(provider, "ollama") {
		m.promptFile = path
	} else {
		m.ollamaPromptFile = path
	}
	return path, nil
}

func resolve(baseDir, path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, strings.TrimPrefix(path, "./"))
}
