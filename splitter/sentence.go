//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package splitter

import (
	"strings"
	"unicode/utf8"
)

// Sentence is one unit of work on the per-sentence path. Text holds the
// sentence itself and Trailer the line ending (if any) that followed it, so
// that concatenating Text+Trailer over all sentences reproduces the source
// exactly. Blank marks whitespace-only lines that are carried through
// without being sent to a model.
type Sentence struct {
	Text    string
	Trailer string
	Blank   bool
}

// SplitSentences splits text into sentences with line endings preserved.
// Each line is one sentence unless it exceeds maxLen runes, in which case it
// is split on sentence-final punctuation (。！？), then on clause
// punctuation (，；), then force-split by rune count.
func SplitSentences(text string, maxLen int) []Sentence {
	if text == "" {
		return nil
	}

	lines := strings.Split(text, "\n")
	var sentences []Sentence
	for i, line := range lines {
		trailer := ""
		if i < len(lines)-1 {
			trailer = "\n"
		}

		if strings.TrimSpace(line) == "" {
			sentences = append(sentences, Sentence{Text: line, Trailer: trailer, Blank: true})
			continue
		}
		if utf8.RuneCountInString(line) <= maxLen {
			sentences = append(sentences, Sentence{Text: line, Trailer: trailer})
			continue
		}

		parts := splitLongLine(line, maxLen)
		for j, part := range parts {
			s := Sentence{Text: part}
			if j == len(parts)-1 {
				s.Trailer = trailer
			}
			sentences = append(sentences, s)
		}
	}
	return sentences
}

// Join reassembles the sentence list into the source text.
func Join(sentences []Sentence) string {
	var b strings.Builder
	for _, s := range sentences {
		b.WriteString(s.Text)
		b.WriteString(s.Trailer)
	}
	return b.String()
}

func splitLongLine(line string, maxLen int) []string {
	var parts []string
	for _, seg := range splitAfter(line, "。！？") {
		if utf8.RuneCountInString(seg) <= maxLen {
			parts = append(parts, seg)
			continue
		}
		for _, clause := range splitAfter(seg, "，；") {
			if utf8.RuneCountInString(clause) <= maxLen {
				parts = append(parts, clause)
				continue
			}
			parts = append(parts, forceSplit(clause, maxLen)...)
		}
	}
	return parts
}

// splitAfter splits s after every rune in cutset, keeping the delimiter
// attached to the preceding segment.
func splitAfter(s, cutset string) []string {
	var segs []string
	start := 0
	runes := []rune(s)
	for i, r := range runes {
		if strings.ContainsRune(cutset, r) {
			segs = append(segs, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		segs = append(segs, string(runes[start:]))
	}
	return segs
}
