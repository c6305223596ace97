//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textproof/textproof/provider"
)

type fakeProvider struct {
	name  provider.Name
	calls int
	fn    func(call int, text string) (string, error)
}

func (p *fakeProvider) Name() provider.Name { return p.name }
func (p *fakeProvider) Model() string       { return "fake-model" }

func (p *fakeProvider) Correct(ctx context.Context, text, prompt string) (string, error) {
	p.calls++
	return p.fn(p.calls, text)
}

func (p *fakeProvider) Health(ctx context.Context) bool { return true }

func echoProvider(name provider.Name) *fakeProvider {
	return &fakeProvider{name: name, fn: func(_ int, text string) (string, error) {
		return text, nil
	}}
}

func newEngine(t *testing.T, p provider.Provider) *Engine {
	t.Helper()
	e, err := New(Options{
		Provider:             p,
		Prompt:               "校对提示",
		ChunkSize:            5,
		ChunkOverlap:         0,
		OllamaChunkSize:      50,
		FastProviderMaxChars: 1,
		MaxRetries:           1,
		RetryDelay:           time.Millisecond,
	})
	require.NoError(t, err)
	return e
}

func fiveParagraphs() string {
	return strings.Join([]string{"第一段。", "第二段。", "第三段。", "第四段。", "第五段。"}, "\n\n")
}

func TestCorrectEmptyText(t *testing.T) {
	e := newEngine(t, echoProvider(provider.OpenAI))
	res, err := e.Correct(context.Background(), "   ", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.TotalChunks)
}

func TestDirectMode(t *testing.T) {
	p := &fakeProvider{name: provider.OpenAI, fn: func(_ int, text string) (string, error) {
		return "修正后的全文。", nil
	}}
	e, err := New(Options{
		Provider:             p,
		Prompt:               "校对提示",
		ChunkSize:            2000,
		ChunkOverlap:         200,
		OllamaChunkSize:      500,
		FastProviderMaxChars: 10000,
		MaxRetries:           3,
		RetryDelay:           time.Millisecond,
	})
	require.NoError(t, err)

	var progress [][2]int
	res, err := e.Correct(context.Background(), "原始的全文。", func(c, n int) {
		progress = append(progress, [2]int{c, n})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, "修正后的全文。", res.Corrected)
	assert.Equal(t, 1, res.ChunksProcessed)
	assert.Equal(t, 1, res.TotalChunks)
	assert.Equal(t, [][2]int{{1, 1}}, progress)
}

func TestDirectModeFallsBackToChunked(t *testing.T) {
	p := &fakeProvider{name: provider.OpenAI, fn: func(call int, text string) (string, error) {
		if call == 1 {
			return "", &provider.Error{Provider: provider.OpenAI, Kind: provider.KindAdapter, Message: "boom"}
		}
		return text, nil
	}}
	e, err := New(Options{
		Provider:             p,
		Prompt:               "校对提示",
		ChunkSize:            5,
		ChunkOverlap:         0,
		OllamaChunkSize:      50,
		FastProviderMaxChars: 10000,
		MaxRetries:           1,
		RetryDelay:           time.Millisecond,
	})
	require.NoError(t, err)

	res, err := e.Correct(context.Background(), fiveParagraphs(), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalChunks)
	assert.Equal(t, 5, res.ChunksProcessed)
	assert.False(t, res.HasFailures)
}

func TestChunkedModeProgressOrder(t *testing.T) {
	e := newEngine(t, echoProvider(provider.OpenAI))

	var progress [][2]int
	res, err := e.Correct(context.Background(), fiveParagraphs(), func(c, n int) {
		progress = append(progress, [2]int{c, n})
	})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TotalChunks)
	require.Len(t, progress, 5)
	for i, p := range progress {
		assert.Equal(t, [2]int{i + 1, 5}, p)
	}
}

func TestChunkedFailedUnitKeepsOriginal(t *testing.T) {
	p := &fakeProvider{name: provider.OpenAI, fn: func(_ int, text string) (string, error) {
		if strings.Contains(text, "第三段") {
			return "", &provider.Error{Provider: provider.OpenAI, Kind: provider.KindAdapter, Message: "模型出错"}
		}
		return strings.ReplaceAll(text, "段", "节"), nil
	}}
	e := newEngine(t, p)

	res, err := e.Correct(context.Background(), fiveParagraphs(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, res.ChunksProcessed)
	assert.Equal(t, 1, res.FailedChunks)
	assert.True(t, res.HasFailures)
	require.Len(t, res.FailureDetails, 1)
	assert.Equal(t, 3, res.FailureDetails[0].ChunkIndex)
	assert.Contains(t, res.Corrected, "第三段。")
	assert.Contains(t, res.Corrected, "第一节。")
}

func TestCircuitBreakerOnConsecutiveUnavailable(t *testing.T) {
	p := &fakeProvider{name: provider.OpenAI, fn: func(_ int, text string) (string, error) {
		if strings.Contains(text, "第一段") {
			return text, nil
		}
		return "", &provider.Error{Provider: provider.OpenAI, Kind: provider.KindUnavailable, Message: "503 service unavailable"}
	}}
	e := newEngine(t, p)

	res, err := e.Correct(context.Background(), fiveParagraphs(), nil)
	require.NoError(t, err)
	// Units 2, 3, 4 fail; unit 5 is skipped without an adapter call.
	assert.Equal(t, 4, p.calls)
	assert.Equal(t, 1, res.ChunksProcessed)
	assert.Equal(t, 4, res.FailedChunks)
	assert.Equal(t, skipUnavailable, res.FailureDetails[3].Error)
	assert.Contains(t, res.Corrected, "第五段。")
}

func TestConnectionErrorStopsImmediately(t *testing.T) {
	p := &fakeProvider{name: provider.OpenAI, fn: func(_ int, text string) (string, error) {
		if strings.Contains(text, "第二段") {
			return "", &provider.Error{Provider: provider.OpenAI, Kind: provider.KindConnection, Message: "连接失败"}
		}
		return text, nil
	}}
	e := newEngine(t, p)

	res, err := e.Correct(context.Background(), fiveParagraphs(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, 4, res.FailedChunks)
	for _, f := range res.FailureDetails[1:] {
		assert.Equal(t, skipConnection, f.Error)
	}
}

func TestAllUnitsFailedIsFatal(t *testing.T) {
	p := &fakeProvider{name: provider.OpenAI, fn: func(_ int, text string) (string, error) {
		return "", &provider.Error{Provider: provider.OpenAI, Kind: provider.KindAdapter, Message: "持续失败"}
	}}
	e := newEngine(t, p)

	_, err := e.Correct(context.Background(), fiveParagraphs(), nil)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Error(), "持续失败")
}

func TestSentenceModePreservesLines(t *testing.T) {
	e := newEngine(t, echoProvider(provider.Ollama))

	text := "第一行的句子。\n第二行的句子！\n\n空行之后的句子。"
	res, err := e.Correct(context.Background(), text, nil)
	require.NoError(t, err)
	assert.Equal(t, text, res.Corrected)
	assert.Equal(t, 3, res.TotalChunks)
	assert.Equal(t, 3, res.ChunksProcessed)
}

func TestSentenceModeBlankLinesNotCounted(t *testing.T) {
	p := echoProvider(provider.Ollama)
	e := newEngine(t, p)

	res, err := e.Correct(context.Background(), "甲。\n\n\n乙。", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalChunks)
	assert.Equal(t, 2, p.calls)
}

type upperPreCorrector struct{}

func (upperPreCorrector) Correct(ctx context.Context, text string) (string, error) {
	return strings.ReplaceAll(text, "ocr", "OCR"), nil
}

func TestSentenceModePreCorrector(t *testing.T) {
	p := echoProvider(provider.Ollama)
	e, err := New(Options{
		Provider:             p,
		Prompt:               "校对提示",
		ChunkSize:            2000,
		ChunkOverlap:         200,
		OllamaChunkSize:      500,
		FastProviderMaxChars: 10000,
		MaxRetries:           1,
		RetryDelay:           time.Millisecond,
		PreCorrector:         upperPreCorrector{},
	})
	require.NoError(t, err)

	res, err := e.Correct(context.Background(), "这句话提到了ocr技术。", nil)
	require.NoError(t, err)
	assert.Equal(t, "这句话提到了OCR技术。", res.Corrected)
}
