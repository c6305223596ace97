//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package splitter

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sixChapterNovel() string {
	titles := []string{"第一章 初见", "第二章 风波", "第三章 夜谈", "第四章 远行", "第五章 归来", "第六章 终局"}
	var b strings.Builder
	for _, title := range titles {
		b.WriteString(title)
		b.WriteString("\n\n")
		b.WriteString("这一章的正文内容，讲述了一些故事情节。\n主角说了几句话，然后离开了。\n\n")
	}
	return b.String()
}

func TestSplitChaptersNumberedHeaders(t *testing.T) {
	chapters := SplitChapters(sixChapterNovel())
	require.Len(t, chapters, 6)

	for i, ch := range chapters {
		assert.Equal(t, i+1, ch.Index)
		assert.Contains(t, ch.Title, "章")
		assert.Contains(t, ch.Content, "正文内容")
		assert.NotContains(t, ch.Content, ch.Title)
	}
}

func TestSplitChaptersRangesTile(t *testing.T) {
	text := sixChapterNovel()
	chapters := SplitChapters(text)
	require.Len(t, chapters, 6)

	assert.Equal(t, 0, chapters[0].Start)
	for i := 0; i+1 < len(chapters); i++ {
		assert.Equal(t, chapters[i+1].Start, chapters[i].End, "chapter %d", i+1)
	}
	assert.Equal(t, utf8.RuneCountInString(text), chapters[len(chapters)-1].End)

	// The range covers the title line and surrounding blank lines, not just
	// the body.
	for _, ch := range chapters {
		assert.Greater(t, ch.End-ch.Start, utf8.RuneCountInString(ch.Content))
	}
}

func TestSplitChaptersSkipsFrontMatter(t *testing.T) {
	text := "书名：测试小说\n作者：某人\n内容简介：一段简介文字。\n\n第一章 开端\n\n正文第一段。\n\n第二章 发展\n\n正文第二段。\n"
	chapters := SplitChapters(text)
	require.Len(t, chapters, 2)
	assert.Equal(t, "第一章 开端", chapters[0].Title)
	assert.Equal(t, "正文第一段。", chapters[0].Content)
	assert.NotContains(t, chapters[0].Content, "简介")
}

func TestSplitChaptersBracketedTitle(t *testing.T) {
	text := "【第一卷 少年热血】 第1章 出山\n\n山里的故事。\n\n【第一卷 少年热血】 第2章 下山\n\n山下的故事。\n"
	chapters := SplitChapters(text)
	require.Len(t, chapters, 2)
	assert.Equal(t, "【第一卷 少年热血】 第1章 出山", chapters[0].Title)
}

func TestSplitChaptersEnglishHeaders(t *testing.T) {
	text := "Chapter 1 Beginning\n\n英文标题的章节内容。\n\nChapter 2 Middle\n\n第二章的内容。\n"
	chapters := SplitChapters(text)
	require.Len(t, chapters, 2)
	assert.Equal(t, "Chapter 1 Beginning", chapters[0].Title)
}

func TestSplitChaptersNoHeadersSyntheticWhole(t *testing.T) {
	text := "没有任何章节标题的一段长文。\n\n它只有普通段落。\n"
	chapters := SplitChapters(text)
	require.Len(t, chapters, 1)
	assert.Equal(t, 1, chapters[0].Index)
	assert.Equal(t, "全文", chapters[0].Title)
	assert.Equal(t, text, chapters[0].Content)
}

func TestSplitChaptersEmpty(t *testing.T) {
	assert.Nil(t, SplitChapters(""))
}

func TestDetectChapters(t *testing.T) {
	info := DetectChapters(sixChapterNovel())
	assert.True(t, info.HasChapters)
	assert.Equal(t, 6, info.ChapterCount)
	require.Len(t, info.Chapters, 6)
	for i, meta := range info.Chapters {
		assert.Equal(t, i+1, meta.Index)
		assert.Equal(t, fmt.Sprintf("第%s章", []string{"一", "二", "三", "四", "五", "六"}[i]), meta.Title[:len(fmt.Sprintf("第%s章", []string{"一", "二", "三", "四", "五", "六"}[i]))])
		assert.Greater(t, meta.Length, 0)
	}

	info = DetectChapters("平平无奇的一段话。")
	assert.False(t, info.HasChapters)
	assert.Equal(t, 1, info.ChapterCount)
}
