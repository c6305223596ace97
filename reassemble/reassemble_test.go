//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package reassemble

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/textproof/textproof/splitter"
)

func TestMergeEmpty(t *testing.T) {
	m := NewMerger(20)
	assert.Equal(t, "", m.Merge(nil))
	assert.Equal(t, "只有一块。", m.Merge([]string{"只有一块。"}))
}

func TestMergeExactOverlap(t *testing.T) {
	m := NewMerger(5)
	prev := "前面的内容很长很长。共享的尾巴"
	curr := "共享的尾巴后面的内容继续。"
	assert.Equal(t, "前面的内容很长很长。共享的尾巴后面的内容继续。", m.Merge([]string{prev, curr}))
}

// Splitting then merging unchanged chunks reconstructs the document modulo
// paragraph-boundary whitespace.
func TestMergeRoundTripWithSplitter(t *testing.T) {
	s, err := splitter.NewSplitter(60, 15)
	require.NoError(t, err)

	var paragraphs []string
	for i := 0; i < 8; i++ {
		paragraphs = append(paragraphs, strings.Repeat("完整的句子在此。", 4))
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := s.Split(text)
	require.Greater(t, len(chunks), 1)

	merged := NewMerger(15).Merge(chunks)
	normalize := func(v string) string {
		return strings.Join(strings.Fields(v), "")
	}
	assert.Equal(t, normalize(text), normalize(merged))
}

func TestMergeAnchoredAfterRewrite(t *testing.T) {
	m := NewMerger(10)
	// The model rewrote the body of curr but left the overlap after the last
	// full stop intact.
	prev := "甲部分的正文结束了。重叠的片段文字"
	curr := "重叠的片段文字乙部分修改后的正文。"
	out := m.Merge([]string{prev, curr})
	assert.Equal(t, "甲部分的正文结束了。重叠的片段文字乙部分修改后的正文。", out)
}

func TestMergeWhitespaceTolerantAnchor(t *testing.T) {
	m := NewMerger(10)
	prev := "甲部分正文结束。重叠片段"
	curr := "  重叠片段\n乙部分正文。"
	out := m.Merge([]string{prev, curr})
	assert.Equal(t, "甲部分正文结束。重叠片段\n乙部分正文。", out)
}

func TestMergeCommonBoundaryFallback(t *testing.T) {
	m := NewMerger(0)
	// No configured overlap, but the chunks still share a 12-rune boundary.
	shared := "共享的十二个字的边界片段"
	prev := "前文内容。" + shared
	curr := shared + "后文内容。"
	assert.Equal(t, "前文内容。"+shared+"后文内容。", m.Merge([]string{prev, curr}))
}

func TestMergeDropsContainedDuplicate(t *testing.T) {
	m := NewMerger(10)
	prev := "这是很长的一段内容，包含了后面那个短块的全部文字，以及更多内容。"
	curr := "短块的全部文字"
	assert.Equal(t, prev, m.Merge([]string{prev, curr}))
}

func TestMergeFallsBackToParagraphJoin(t *testing.T) {
	m := NewMerger(10)
	prev := "完全不同的第一块。"
	curr := "毫无重叠的第二块。"
	assert.Equal(t, prev+"\n\n"+curr, m.Merge([]string{prev, curr}))
}
