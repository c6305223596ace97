//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package splitter

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Chapter is one detected chapter with its content and rune range in the
// source text.
type Chapter struct {
	Index   int    `json:"chapter_index"`
	Title   string `json:"chapter_title"`
	Content string `json:"chapter_content"`
	Start   int    `json:"start_pos"`
	End     int    `json:"end_pos"`
}

// ChapterMeta describes a chapter without carrying its content.
type ChapterMeta struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Length int    `json:"length"`
}

// ChapterInfo is the detection summary returned to the HTTP layer.
type ChapterInfo struct {
	HasChapters  bool          `json:"has_chapters"`
	ChapterCount int           `json:"chapter_count"`
	Chapters     []ChapterMeta `json:"chapters"`
}

// Header patterns tried in order against each trimmed line.
var chapterPatterns = []*regexp.Regexp{
	// Bracketed titles such as 【第一卷 少年热血】 第1章.
	regexp.MustCompile(`^【[^】]+】\s*第[一二三四五六七八九十百千万\d]+章`),
	regexp.MustCompile(`^第[一二三四五六七八九十百千万\d]+章`),
	regexp.MustCompile(`^第[一二三四五六七八九十百千万\d]+节`),
	regexp.MustCompile(`^[Cc]hapter\s*\d+`),
	regexp.MustCompile(`^[Cc]h\.\s*\d+`),
	// Digit-prefixed titles such as 1. 第一章标题.
	regexp.MustCompile(`^\d+[.、]\s*`),
	// Chinese-numeral-prefixed titles such as 一、第一章标题.
	regexp.MustCompile(`^[一二三四五六七八九十]+[.、]\s*`),
	// Decorative rulers such as *** 第一章 ***.
	regexp.MustCompile(`^[*\-_=]{3,}`),
	regexp.MustCompile(`^第[一二三四五六七八九十百千万\d]+[卷部篇]`),
}

var (
	longRulerRe      = regexp.MustCompile(`^[=\-*_]{10,}$`)
	digitsOnlyRe     = regexp.MustCompile(`^[\d\s.\-]+$`)
	numeralHintRe    = regexp.MustCompile(`[第\d一二三四五六七八九十]`)
	bodyPunctRe      = regexp.MustCompile(`[，。！？；：、]`)
	trueChapterRe    = regexp.MustCompile(`第[一二三四五六七八九十百千万\d]+章`)
	trueChapterEnRe  = regexp.MustCompile(`(?i)Chapter\s*\d+`)
	frontMatterWords = []string{"作者", "简介", "内容简介", "目录", "序言", "前言"}
	headingKeywords  = []string{"章", "节", "Chapter", "chapter", "Ch.", "ch."}
)

// SplitChapters divides text into chapters by detecting header lines. Lines
// before the first true chapter header (第N章 / Chapter N / a bracketed
// title) are discarded, as are decorative rulers, short digit-only lines and
// front-matter lines near the top of the file. When no header is found the
// whole text becomes a single synthetic chapter titled 全文.
func SplitChapters(text string) []Chapter {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var chapters []Chapter
	var current *Chapter
	var content []string
	chapterIndex := 0
	skipPrefix := true

	flush := func() {
		if current == nil {
			return
		}
		body := strings.TrimSpace(strings.Join(content, "\n"))
		if body == "" {
			return
		}
		current.Content = body
		chapters = append(chapters, *current)
	}

	i := 0
	for i < len(lines) {
		line := strings.TrimSpace(lines[i])

		isTitle := false
		if line != "" {
			if longRulerRe.MatchString(line) {
				i++
				continue
			}
			if digitsOnlyRe.MatchString(line) && utf8.RuneCountInString(line) < 20 {
				i++
				continue
			}
			if i < 20 && containsAny(line, frontMatterWords) {
				i++
				continue
			}

			for _, pattern := range chapterPatterns {
				if pattern.MatchString(line) {
					isTitle = true
					break
				}
			}
			// Short lines with a chapter keyword and a numeral also count,
			// unless they read like body text.
			if !isTitle && utf8.RuneCountInString(line) < 50 &&
				containsAny(line, headingKeywords) && numeralHintRe.MatchString(line) {
				if !bodyPunctRe.MatchString(line) || strings.Contains(line, "【") {
					isTitle = true
				}
			}
		}

		if isTitle {
			if skipPrefix && chapterIndex == 0 {
				if !isTrueChapterTitle(line) {
					i++
					continue
				}
				skipPrefix = false
				content = nil
			}

			flush()

			chapterIndex++
			current = &Chapter{
				Index: chapterIndex,
				Title: line,
				Start: runeOffset(lines, i),
			}
			content = nil
			i++
			for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
				i++
			}
			continue
		}

		if skipPrefix {
			i++
			continue
		}
		content = append(content, lines[i])
		i++
	}
	flush()

	// Each chapter runs from its title line to the next chapter's start, so
	// adjacent ranges tile the text from the first chapter onward.
	for k := range chapters {
		if k+1 < len(chapters) {
			chapters[k].End = chapters[k+1].Start
		} else {
			chapters[k].End = utf8.RuneCountInString(text)
		}
	}

	if len(chapters) == 0 {
		return []Chapter{{
			Index:   1,
			Title:   "全文",
			Content: text,
			Start:   0,
			End:     utf8.RuneCountInString(text),
		}}
	}
	return chapters
}

// DetectChapters reports chapter structure without returning content.
func DetectChapters(text string) ChapterInfo {
	chapters := SplitChapters(text)
	info := ChapterInfo{
		HasChapters:  len(chapters) > 1,
		ChapterCount: len(chapters),
	}
	for _, ch := range chapters {
		info.Chapters = append(info.Chapters, ChapterMeta{
			Index:  ch.Index,
			Title:  ch.Title,
			Length: utf8.RuneCountInString(ch.Content),
		})
	}
	return info
}

func isTrueChapterTitle(line string) bool {
	return trueChapterRe.MatchString(line) ||
		trueChapterEnRe.MatchString(line) ||
		strings.Contains(line, "【")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// runeOffset returns the rune position of line i in the joined text,
// counting one rune per separating newline.
func runeOffset(lines []string, i int) int {
	offset := 0
	for j := 0; j < i; j++ {
		offset += utf8.RuneCountInString(lines[j]) + 1
	}
	return offset
}
