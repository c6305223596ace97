//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package provider

import (
	"strings"
	"unicode/utf8"
)

// Tuning knobs for marker stripping: the text after a late marker is kept
// only when it is at least markerTailRatio of the text before it, or the
// text before it is shorter than markerMinBeforeRunes.
const (
	markerTailRatio      = 0.8
	markerMinBeforeRunes = 50
)

// Prompt markers some models echo back around the corrected text.
var responseMarkers = []string{
	"待校对文本：",
	"校对后的文本：",
	"校对后：",
	"精校后：",
	"结果：",
	"校对结果：",
}

// StripMarkers removes prompt markers a model leaked into its response.
// A leading marker is cut off directly. A marker appearing later usually
// means the model repeated the prompt; in that case everything up to the
// last marker occurrence is dropped, but only when the text after it is
// substantial (at least 80% of the text before it) or the text before it
// is too short to be the real result.
func StripMarkers(text string) string {
	text = strings.TrimSpace(text)

	for _, marker := range responseMarkers {
		if strings.HasPrefix(text, marker) {
			text = strings.TrimSpace(text[len(marker):])
			break
		}
	}

	for _, marker := range responseMarkers {
		idx := strings.LastIndex(text, marker)
		if idx < 0 {
			continue
		}
		before := strings.TrimSpace(text[:idx])
		after := strings.TrimSpace(text[idx+len(marker):])
		beforeLen := utf8.RuneCountInString(before)
		afterLen := utf8.RuneCountInString(after)
		if float64(afterLen) >= float64(beforeLen)*markerTailRatio || beforeLen < markerMinBeforeRunes {
			text = after
			break
		}
	}

	return strings.TrimSpace(text)
}
