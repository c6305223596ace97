//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package splitter breaks long-form Chinese narrative text into units a
// model can proofread in one call: overlapping chunks, chapters, or
// line-preserving sentences.
package splitter

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const paragraphSeparator = "\n\n"

// Splitter produces overlapping chunks bounded by ChunkSize runes.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewSplitter validates the chunking parameters: the overlap must be
// non-negative and strictly smaller than the chunk size.
func NewSplitter(chunkSize, chunkOverlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, errors.New("chunk size must be greater than 0")
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, errors.New("chunk overlap must be smaller than chunk size")
	}
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}, nil
}

// Split divides text into ordered chunks of at most ChunkSize runes each,
// keeping paragraph structure where the input allows it. Paragraphs are
// accumulated greedily; an over-long paragraph recurses into sentence
// splits, and a sentence longer than the chunk size is force-split by rune
// count. Consecutive chunks share ChunkOverlap runes of context, cut after
// a full stop or newline when one falls inside the overlap window.
func (s *Splitter) Split(text string) []string {
	if text == "" {
		return nil
	}

	paragraphs := strings.Split(text, paragraphSeparator)

	var chunks []string
	current := ""
	for _, para := range paragraphs {
		if utf8.RuneCountInString(para) > s.ChunkSize {
			if current != "" {
				chunks = append(chunks, strings.TrimSpace(current))
				current = ""
			}
			chunks = append(chunks, s.splitLongParagraph(para)...)
			continue
		}

		test := para
		if current != "" {
			test = current + paragraphSeparator + para
		}
		if utf8.RuneCountInString(test) <= s.ChunkSize {
			current = test
			continue
		}

		if current != "" {
			chunks = append(chunks, strings.TrimSpace(current))
		}
		if len(chunks) > 0 && s.ChunkOverlap > 0 {
			current = s.overlapTail(chunks[len(chunks)-1]) + paragraphSeparator + para
		} else {
			current = para
		}
	}
	if current != "" {
		chunks = append(chunks, strings.TrimSpace(current))
	}
	return chunks
}

// splitLongParagraph splits a paragraph longer than the chunk size on full
// stops, re-appending the stop to every non-final sentence.
func (s *Splitter) splitLongParagraph(para string) []string {
	sentences := strings.Split(para, "。")

	var chunks []string
	current := ""
	for i, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if i < len(sentences)-1 {
			sentence += "。"
		}

		if utf8.RuneCountInString(sentence) > s.ChunkSize {
			if current != "" {
				chunks = append(chunks, current)
				current = ""
			}
			chunks = append(chunks, forceSplit(sentence, s.ChunkSize)...)
			continue
		}

		test := current + sentence
		if utf8.RuneCountInString(test) <= s.ChunkSize {
			current = test
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
		}
		if len(chunks) > 0 && s.ChunkOverlap > 0 {
			current = s.overlapTail(chunks[len(chunks)-1]) + sentence
		} else {
			current = sentence
		}
	}
	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks
}

// overlapTail returns the last ChunkOverlap runes of text, preferring to cut
// just after a full stop or a newline when one falls late enough in the
// overlap window.
func (s *Splitter) overlapTail(text string) string {
	runes := []rune(text)
	if len(runes) <= s.ChunkOverlap {
		return text
	}
	overlap := runes[len(runes)-s.ChunkOverlap:]

	threshold := int(float64(s.ChunkOverlap) * 0.3)
	for i, r := range overlap {
		if r == '。' && i > threshold {
			return string(overlap[i+1:])
		}
	}
	for i, r := range overlap {
		if r == '\n' && i > threshold {
			return string(overlap[i+1:])
		}
	}
	return string(overlap)
}

// forceSplit cuts text into pieces of exactly size runes (the last piece may
// be shorter).
func forceSplit(text string, size int) []string {
	runes := []rune(text)
	var parts []string
	for len(runes) > size {
		parts = append(parts, string(runes[:size]))
		runes = runes[size:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
