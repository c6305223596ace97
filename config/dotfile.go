//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

package config

import (
	"fmt"
	"os"
	"strings"
)

// dotfile is a line-oriented KEY=VALUE file. Comments and blank lines are
// kept verbatim so a round-trip only touches the values that changed.
type dotfile struct {
	path  string
	lines []string
}

// loadDotfile reads the dotfile at path. A missing file yields an empty
// dotfile bound to the same path.
func loadDotfile(path string) (*dotfile, error) {
	df := &dotfile{path: path}
	if path == "" {
		return df, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return df, nil
		}
		return nil, err
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	df.lines = strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(df.lines) == 1 && df.lines[0] == "" {
		df.lines = nil
	}
	return df, nil
}

// values returns the parsed KEY=VALUE pairs. Later lines win.
func (d *dotfile) values() map[string]string {
	out := make(map[string]string)
	for _, line := range d.lines {
		key, value, ok := parseLine(line)
		if ok {
			out[key] = value
		}
	}
	return out
}

// set replaces the value of an existing key in place, or appends the key at
// the end of the file.
func (d *dotfile) set(key, value string) {
	for i, line := range d.lines {
		k, _, ok := parseLine(line)
		if ok && k == key {
			d.lines[i] = fmt.Sprintf("%s=%s", key, value)
			return
		}
	}
	d.lines = append(d.lines, fmt.Sprintf("%s=%s", key, value))
}

// write rewrites the dotfile. A dotfile loaded without a path is not
// persistable and write is a no-op.
func (d *dotfile) write() error {
	if d.path == "" {
		return nil
	}
	content := strings.Join(d.lines, "\n")
	if content != "" {
		content += "\n"
	}
	return os.WriteFile(d.path, []byte(content), 0o644)
}

func parseLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	idx := strings.Index(trimmed, "=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:idx])
	value = strings.TrimSpace(trimmed[idx+1:])
	value = strings.Trim(value, `"'`)
	return key, value, true
}
