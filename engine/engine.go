//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package engine orchestrates chunking, adapter calls and reassembly into
// one correction pass over a document. It selects a strategy per provider,
// retries transient failures, trips a circuit breaker on repeated ones and
// reports partial failures instead of aborting the whole pass.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/textproof/textproof/log"
	"github.com/textproof/textproof/provider"
	"github.com/textproof/textproof/reassemble"
	"github.com/textproof/textproof/splitter"
)

// After this many consecutive transient failures the remaining units are
// skipped.
const maxConsecutiveFailures = 3

// Skip annotations recorded for units the engine never sent.
const (
	skipConnection  = "因连接错误跳过处理"
	skipUnavailable = "因连续服务不可用跳过处理"
	skipFailures    = "因连续失败跳过处理"
)

// ProgressFunc receives (current, total) after each processed unit. It runs
// inside the worker and must not block.
type ProgressFunc func(current, total int)

// ChunkFailure describes one failed unit.
type ChunkFailure struct {
	ChunkIndex int    `json:"chunk_index"`
	Error      string `json:"error"`
}

// Result is the outcome of one correction pass. Failed units keep their
// original text in Corrected so the document stays coherent.
type Result struct {
	Original        string         `json:"original"`
	Corrected       string         `json:"corrected"`
	ChunksProcessed int            `json:"chunks_processed"`
	TotalChunks     int            `json:"total_chunks"`
	FailedChunks    int            `json:"failed_chunks"`
	HasFailures     bool           `json:"has_failures"`
	FailureDetails  []ChunkFailure `json:"failure_details,omitempty"`
}

// FatalError is raised when every unit of a pass failed.
type FatalError struct {
	Total    int
	Failures []ChunkFailure
}

func (e *FatalError) Error() string {
	msgs := make([]string, 0, 5)
	for i, f := range e.Failures {
		if i == 5 {
			break
		}
		msgs = append(msgs, f.Error)
	}
	return fmt.Sprintf("全部 %d 个文本单元校对失败: %s", e.Total, strings.Join(msgs, "; "))
}

// PreCorrector is the pluggable spell-check pre-pass run on the
// per-sentence path before the model call.
type PreCorrector interface {
	Correct(ctx context.Context, text string) (string, error)
}

// Options configures one engine instance.
type Options struct {
	Provider provider.Provider
	Prompt   string

	ChunkSize    int
	ChunkOverlap int
	// Sentence length bound on the per-sentence path.
	OllamaChunkSize int
	// Texts at or below this rune count take the single-call fast path on
	// cloud providers.
	FastProviderMaxChars int

	MaxRetries int
	RetryDelay time.Duration

	// Optional; used only on the per-sentence path.
	PreCorrector PreCorrector
}

// Engine runs correction passes with a fixed provider and configuration.
type Engine struct {
	opts Options
}

// New validates the options and returns an engine.
func New(opts Options) (*Engine, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if opts.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if _, err := splitter.NewSplitter(opts.ChunkSize, opts.ChunkOverlap); err != nil {
		return nil, err
	}
	if opts.OllamaChunkSize <= 0 {
		return nil, fmt.Errorf("ollama chunk size must be greater than 0")
	}
	return &Engine{opts: opts}, nil
}

// Correct runs one pass over text. Strategy: per-sentence for Ollama,
// direct single call for short texts on cloud providers, chunked otherwise.
// progress may be nil.
func (e *Engine) Correct(ctx context.Context, text string, progress ProgressFunc) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return &Result{Original: text, Corrected: text}, nil
	}

	name := e.opts.Provider.Name()
	textLen := utf8.RuneCountInString(text)

	if name == provider.Ollama {
		return e.correctBySentence(ctx, text, progress)
	}
	if textLen <= e.opts.FastProviderMaxChars {
		result, err := e.correctDirect(ctx, text, progress)
		if err == nil {
			return result, nil
		}
		log.Warnf("direct correction failed, falling back to chunked mode: %v", err)
	}
	return e.correctChunked(ctx, text, progress)
}

// correctDirect sends the whole text as a single call.
func (e *Engine) correctDirect(ctx context.Context, text string, progress ProgressFunc) (*Result, error) {
	log.Infof("direct mode: provider=%s len=%d", e.opts.Provider.Name(), utf8.RuneCountInString(text))

	corrected, err := provider.CorrectWithRetry(ctx, e.opts.Provider, text, e.opts.Prompt,
		e.opts.MaxRetries, e.opts.RetryDelay)
	if err != nil {
		return nil, err
	}
	if progress != nil {
		progress(1, 1)
	}
	return &Result{
		Original:        text,
		Corrected:       corrected,
		ChunksProcessed: 1,
		TotalChunks:     1,
	}, nil
}

// correctChunked splits the text into overlapping chunks, corrects each and
// merges the outputs.
func (e *Engine) correctChunked(ctx context.Context, text string, progress ProgressFunc) (*Result, error) {
	s, err := splitter.NewSplitter(e.opts.ChunkSize, e.opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	chunks := s.Split(text)
	log.Infof("chunked mode: provider=%s chunks=%d", e.opts.Provider.Name(), len(chunks))

	outputs, processed, failures := e.processUnits(ctx, chunks, progress)
	if processed == 0 && len(chunks) > 0 {
		return nil, &FatalError{Total: len(chunks), Failures: failures}
	}

	merged := reassemble.NewMerger(e.opts.ChunkOverlap).Merge(outputs)
	return &Result{
		Original:        text,
		Corrected:       merged,
		ChunksProcessed: processed,
		TotalChunks:     len(chunks),
		FailedChunks:    len(failures),
		HasFailures:     len(failures) > 0,
		FailureDetails:  failures,
	}, nil
}

// correctBySentence corrects line by line, preserving the original line
// structure byte for byte when the model returns sentences unchanged.
func (e *Engine) correctBySentence(ctx context.Context, text string, progress ProgressFunc) (*Result, error) {
	sentences := splitter.SplitSentences(text, e.opts.OllamaChunkSize)

	var units []string
	unitAt := make([]int, 0, len(sentences))
	for i, s := range sentences {
		if s.Blank {
			continue
		}
		units = append(units, s.Text)
		unitAt = append(unitAt, i)
	}
	log.Infof("sentence mode: provider=%s sentences=%d units=%d",
		e.opts.Provider.Name(), len(sentences), len(units))

	if e.opts.PreCorrector != nil {
		for i, unit := range units {
			fixed, err := e.opts.PreCorrector.Correct(ctx, unit)
			if err != nil {
				log.Warnf("pre-corrector failed on unit %d: %v", i+1, err)
				continue
			}
			units[i] = fixed
		}
	}

	outputs, processed, failures := e.processUnits(ctx, units, progress)
	if processed == 0 && len(units) > 0 {
		return nil, &FatalError{Total: len(units), Failures: failures}
	}

	result := make([]splitter.Sentence, len(sentences))
	copy(result, sentences)
	for u, i := range unitAt {
		if outputs[u] != "" {
			result[i].Text = outputs[u]
		}
	}
	return &Result{
		Original:        text,
		Corrected:       splitter.Join(result),
		ChunksProcessed: processed,
		TotalChunks:     len(units),
		FailedChunks:    len(failures),
		HasFailures:     len(failures) > 0,
		FailureDetails:  failures,
	}, nil
}

// processUnits runs the shared unit loop: retry per unit, substitute the
// original on failure, stop early on a connection error or on three
// consecutive transient failures.
func (e *Engine) processUnits(ctx context.Context, units []string, progress ProgressFunc) (outputs []string, processed int, failures []ChunkFailure) {
	outputs = make([]string, len(units))
	consecutive := 0
	skipReason := ""

	for i, unit := range units {
		if skipReason != "" {
			outputs[i] = unit
			failures = append(failures, ChunkFailure{ChunkIndex: i + 1, Error: skipReason})
			continue
		}

		corrected, err := provider.CorrectWithRetry(ctx, e.opts.Provider, unit, e.opts.Prompt,
			e.opts.MaxRetries, e.opts.RetryDelay)
		if err != nil {
			outputs[i] = unit
			failures = append(failures, ChunkFailure{ChunkIndex: i + 1, Error: err.Error()})
			log.Warnf("unit %d/%d failed: %v", i+1, len(units), err)

			switch {
			case provider.IsConnection(err):
				skipReason = skipConnection
			default:
				consecutive++
				if consecutive >= maxConsecutiveFailures {
					if provider.IsUnavailable(err) {
						skipReason = skipUnavailable
					} else {
						skipReason = skipFailures
					}
				}
			}
		} else {
			outputs[i] = corrected
			processed++
			consecutive = 0
		}

		if progress != nil {
			progress(i+1, len(units))
		}
	}
	return outputs, processed, failures
}
