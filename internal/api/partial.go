// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"encoding/json"
	"strings"
)

// =============================================================================
// PARTIAL JSON COMPLETION
// =============================================================================

// CompletePartialJSON closes a truncated JSON document so it parses.
//
// Open strings, arrays and objects are closed, a dangling comma is dropped,
// a key without a value gets null, and a truncated literal or number is
// finished or trimmed. It reports false when the prefix cannot be closed
// into valid JSON.
func CompletePartialJSON(data []byte) ([]byte, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false
	}

	var (
		stack       []byte // open '{' and '['
		expectKey   []bool // per stack entry; only meaningful for '{'
		inString    bool
		escaped     bool
		stringStart int
	)

	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			stringStart = i
		case '{':
			stack = append(stack, '{')
			expectKey = append(expectKey, true)
		case '[':
			stack = append(stack, '[')
			expectKey = append(expectKey, false)
		case '}', ']':
			if len(stack) == 0 {
				return nil, false
			}
			stack = stack[:len(stack)-1]
			expectKey = expectKey[:len(expectKey)-1]
		case ':':
			if n := len(stack); n > 0 && stack[n-1] == '{' {
				expectKey[n-1] = false
			}
		case ',':
			if n := len(stack); n > 0 && stack[n-1] == '{' {
				expectKey[n-1] = true
			}
		}
	}

	out := append(make([]byte, 0, len(data)+len(stack)+8), data...)
	inObjectKey := func() bool {
		n := len(stack)
		return n > 0 && stack[n-1] == '{' && expectKey[n-1]
	}

	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out = trimPartialUnicodeEscape(out, stringStart)
		out = append(out, '"')
		if inObjectKey() {
			out = append(out, ":null"...)
		}
	} else {
		var ok bool
		out, ok = completeTrailingToken(out)
		if !ok {
			return nil, false
		}
		out = bytes.TrimRight(out, " \t\r\n")
		if len(out) > 0 {
			switch out[len(out)-1] {
			case ',':
				out = bytes.TrimRight(out[:len(out)-1], " \t\r\n")
			case ':':
				out = append(out, "null"...)
			case '"':
				if inObjectKey() {
					out = append(out, ":null"...)
				}
			}
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			out = append(out, '}')
		} else {
			out = append(out, ']')
		}
	}

	if !json.Valid(out) {
		return nil, false
	}
	return out, true
}

// trimPartialUnicodeEscape drops an incomplete \uXXXX escape at the end of an
// open string.
func trimPartialUnicodeEscape(out []byte, stringStart int) []byte {
	idx := bytes.LastIndex(out[stringStart:], []byte(`\u`))
	if idx < 0 {
		return out
	}
	idx += stringStart
	// An even run of backslashes before \u means the escape is itself escaped.
	run := 0
	for j := idx - 1; j > stringStart && out[j] == '\\'; j-- {
		run++
	}
	if run%2 == 1 {
		return out
	}
	if len(out)-idx < 6 {
		return out[:idx]
	}
	return out
}

// completeTrailingToken finishes a bare literal or number cut off at the end.
func completeTrailingToken(out []byte) ([]byte, bool) {
	end := len(out)
	start := end
	for start > 0 && isTokenByte(out[start-1]) {
		start--
	}
	if start == end {
		return out, true
	}

	tok := string(out[start:end])
	switch first := tok[0]; {
	case first == 't' || first == 'f' || first == 'n':
		for _, lit := range []string{"true", "false", "null"} {
			if strings.HasPrefix(lit, tok) {
				return append(out[:start], lit...), true
			}
		}
		return nil, false
	default:
		trimmed := strings.TrimRight(tok, ".eE+-")
		if trimmed == "" {
			return append(out[:start], "null"...), true
		}
		return append(out[:start], trimmed...), true
	}
}

func isTokenByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '.' || c == '-' || c == '+'
}
