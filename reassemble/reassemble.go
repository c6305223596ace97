//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package reassemble joins corrected chunks back into one document,
// collapsing the overlap regions the chunker introduced. Matching tolerates
// model rewrites inside the overlap: exact suffix/prefix scans are tried
// first, then punctuation-anchored cuts, then a shorter common boundary.
package reassemble

import (
	"strings"
)

// Merger merges chunks produced with ChunkOverlap runes of shared context.
type Merger struct {
	ChunkOverlap int
}

// NewMerger returns a merger for chunks split with the given overlap.
func NewMerger(chunkOverlap int) *Merger {
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	return &Merger{ChunkOverlap: chunkOverlap}
}

// Merge joins chunks in order, removing the shared overlap between each
// adjacent pair. When no overlap can be found the pair is joined with a
// blank line so paragraph structure survives.
func (m *Merger) Merge(chunks []string) string {
	if len(chunks) == 0 {
		return ""
	}
	if len(chunks) == 1 {
		return chunks[0]
	}

	merged := chunks[0]
	for _, curr := range chunks[1:] {
		merged = m.mergePair(merged, curr)
	}
	return merged
}

func (m *Merger) mergePair(prev, curr string) string {
	prevRunes := []rune(prev)
	currRunes := []rune(curr)
	maxOverlap := min(len(prevRunes), len(currRunes))

	if m.ChunkOverlap > 0 {
		// Exact suffix/prefix match, longest first.
		upper := min(maxOverlap, 3*m.ChunkOverlap)
		lower := max(0, m.ChunkOverlap-50)
		for k := upper; k > lower; k-- {
			if string(prevRunes[len(prevRunes)-k:]) == string(currRunes[:k]) {
				return prev + string(currRunes[k:])
			}
		}

		// Cut after the last sentence end in prev and compare that tail to
		// curr's head, raw and with whitespace stripped. The model may have
		// reflowed whitespace inside the overlap without touching the text.
		window := min(maxOverlap, 3*m.ChunkOverlap)
		if out, ok := anchoredMerge(prev, curr, prevRunes, currRunes, window, '。'); ok {
			return out
		}
		if out, ok := anchoredMerge(prev, curr, prevRunes, currRunes, window, '\n'); ok {
			return out
		}
	}

	// Shorter common boundary: the largest k <= 200 with a real match.
	bound := min(maxOverlap, 200)
	for k := bound; k >= 10; k-- {
		if string(prevRunes[len(prevRunes)-k:]) == string(currRunes[:k]) {
			return prev + string(currRunes[k:])
		}
	}

	// A short chunk fully contained in prev is a duplicate.
	if len(currRunes) < len(prevRunes)/2 && strings.Contains(prev, curr) {
		return prev
	}

	return prev + "\n\n" + curr
}

// anchoredMerge looks for the last anchor rune in prev's overlap window and
// tests whether everything after it reappears at the start of curr.
func anchoredMerge(prev, curr string, prevRunes, currRunes []rune, window int, anchor rune) (string, bool) {
	start := len(prevRunes) - window
	if start < 0 {
		start = 0
	}
	cut := -1
	for i := len(prevRunes) - 1; i >= start; i-- {
		if prevRunes[i] == anchor {
			cut = i
			break
		}
	}
	if cut < 0 {
		return "", false
	}

	tail := string(prevRunes[cut+1:])
	if tail == "" {
		return "", false
	}
	if strings.HasPrefix(curr, tail) {
		return string(prevRunes[:cut+1]) + curr, true
	}

	stripped := strings.TrimSpace(tail)
	if stripped == "" {
		return "", false
	}
	trimmedCurr := strings.TrimLeft(curr, " \t\n")
	if strings.HasPrefix(trimmedCurr, stripped) {
		return string(prevRunes[:cut+1]) + trimmedCurr, true
	}
	return "", false
}
