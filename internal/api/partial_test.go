// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import "testing"

func TestCompletePartialJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{`, `{}`},
		{`{"content":"Hel`, `{"content":"Hel"}`},
		{`{"content":"Hello","fol`, `{"content":"Hello","fol":null}`},
		{`{"content":"Hello",`, `{"content":"Hello"}`},
		{`{"content":"Hello","sources":`, `{"content":"Hello","sources":null}`},
		{`{"sources":["a","b`, `{"sources":["a","b"]}`},
		{`{"sources":["a",`, `{"sources":["a"]}`},
		{`{"n":12.`, `{"n":12}`},
		{`{"n":-`, `{"n":null}`},
		{`{"ok":tr`, `{"ok":true}`},
		{`{"v":nu`, `{"v":null}`},
		{`{"a":[{"b":"c"},{"d":`, `{"a":[{"b":"c"},{"d":null}]}`},
		{`{"s":"line\`, `{"s":"line"}`},
		{`{"s":"caf\u00`, `{"s":"caf"}`},
		{`{"s":"x\\u00`, `{"s":"x\\u00"}`},
		{`{"done":true}`, `{"done":true}`},
		{`{"a":"b"}`, `{"a":"b"}`},
		{`{"content":"Hi","actions":[{"name":"PL","type"`, `{"content":"Hi","actions":[{"name":"PL","type":null}]}`},
	}

	for _, tt := range tests {
		got, ok := CompletePartialJSON([]byte(tt.in))
		if !ok {
			t.Errorf("CompletePartialJSON(%s) failed", tt.in)
			continue
		}
		if string(got) != tt.want {
			t.Errorf("CompletePartialJSON(%s) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestCompletePartialJSON_Rejects(t *testing.T) {
	for _, in := range []string{``, `   `, `}`, `{"a":xyz`} {
		if got, ok := CompletePartialJSON([]byte(in)); ok {
			t.Errorf("CompletePartialJSON(%q) = %s, want failure", in, got)
		}
	}
}
