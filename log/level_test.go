//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package log

import "testing"

func TestSetLevel(t *testing.T) {
	defer SetLevel(LevelInfo)

	cases := []string{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal, "bogus"}
	for _, lvl := range cases {
		SetLevel(lvl)
	}
}
