//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripMarkersLeading(t *testing.T) {
	assert.Equal(t, "这是校对后的内容。", StripMarkers("校对后的文本：这是校对后的内容。"))
	assert.Equal(t, "这是校对后的内容。", StripMarkers("  校对结果：\n这是校对后的内容。\n"))
}

func TestStripMarkersNoMarker(t *testing.T) {
	assert.Equal(t, "普通的响应文本。", StripMarkers(" 普通的响应文本。 "))
}

func TestStripMarkersEchoedPrompt(t *testing.T) {
	// The model repeated the prompt scaffolding before the real result.
	body := strings.Repeat("真正的校对结果内容。", 10)
	echoed := "请校对以下文本\n校对后的文本：" + body
	assert.Equal(t, body, StripMarkers(echoed))
}

func TestStripMarkersKeepsLongPrefix(t *testing.T) {
	// A short tail after a marker inside a long body is not the result.
	long := strings.Repeat("前面的大段正文内容在此。", 20)
	text := long + "结果：短"
	assert.Equal(t, text, StripMarkers(text))
}

func TestStripMarkersEmpty(t *testing.T) {
	assert.Equal(t, "", StripMarkers("   "))
}
