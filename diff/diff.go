//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package diff renders the difference between an original text and its
// corrected version as segment lists the frontend can highlight.
package diff

import (
	"strings"

	diffmatchpatch "github.com/sergi/go-diff/diffmatchpatch"
)

// Segment is one contiguous span of a highlighted text.
type Segment struct {
	Text string `json:"text"`
	// Type is "equal", "delete" or "insert".
	Type string `json:"type"`
}

// Highlight is the two-sided rendering of a diff. OriginalSegments holds
// equal and deleted spans; CorrectedSegments holds equal and inserted spans.
type Highlight struct {
	OriginalSegments  []Segment `json:"original_segments"`
	CorrectedSegments []Segment `json:"corrected_segments"`
	HasChanges        bool      `json:"has_changes"`
}

// Compute returns the character-level diff between a and b with semantic
// cleanup applied, so adjacent edits merge into readable blocks.
func Compute(a, b string) []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffCleanupSemantic(diffs)
}

// HighlightDiff fans the diff of (a, b) into the two segment sequences.
func HighlightDiff(a, b string) Highlight {
	h := Highlight{
		OriginalSegments:  []Segment{},
		CorrectedSegments: []Segment{},
	}
	for _, d := range Compute(a, b) {
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			h.OriginalSegments = append(h.OriginalSegments, Segment{Text: d.Text, Type: "equal"})
			h.CorrectedSegments = append(h.CorrectedSegments, Segment{Text: d.Text, Type: "equal"})
		case diffmatchpatch.DiffDelete:
			h.OriginalSegments = append(h.OriginalSegments, Segment{Text: d.Text, Type: "delete"})
			h.HasChanges = true
		case diffmatchpatch.DiffInsert:
			h.CorrectedSegments = append(h.CorrectedSegments, Segment{Text: d.Text, Type: "insert"})
			h.HasChanges = true
		}
	}
	return h
}

// HasMeaningfulChanges reports whether a and b differ beyond leading and
// trailing whitespace.
func HasMeaningfulChanges(a, b string) bool {
	return strings.TrimSpace(a) != strings.TrimSpace(b)
}
