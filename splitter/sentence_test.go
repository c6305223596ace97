//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package splitter

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSentencesRoundTrip(t *testing.T) {
	texts := []string{
		"第一行。\n第二行！\n\n第四行，带逗号。",
		"单独一行没有换行符",
		"结尾带换行。\n",
		"\n\n只有空行前缀的文本。",
	}
	for _, text := range texts {
		sentences := SplitSentences(text, 500)
		assert.Equal(t, text, Join(sentences), "round trip for %q", text)
	}
}

func TestSplitSentencesBlankLines(t *testing.T) {
	sentences := SplitSentences("甲。\n\n乙。", 500)
	require.Len(t, sentences, 3)
	assert.False(t, sentences[0].Blank)
	assert.True(t, sentences[1].Blank)
	assert.False(t, sentences[2].Blank)
}

func TestSplitSentencesLongLine(t *testing.T) {
	line := strings.Repeat("这句话有十个字在里面。", 8)
	sentences := SplitSentences(line, 30)
	require.Greater(t, len(sentences), 1)
	for _, s := range sentences {
		assert.LessOrEqual(t, utf8.RuneCountInString(s.Text), 30)
	}
	assert.Equal(t, line, Join(sentences))
}

func TestSplitSentencesClauseFallback(t *testing.T) {
	line := strings.Repeat("很长的小句，", 10) + "结束"
	sentences := SplitSentences(line, 20)
	for _, s := range sentences {
		assert.LessOrEqual(t, utf8.RuneCountInString(s.Text), 20)
	}
	assert.Equal(t, line, Join(sentences))
}

func TestSplitSentencesEmpty(t *testing.T) {
	assert.Nil(t, SplitSentences("", 100))
}
