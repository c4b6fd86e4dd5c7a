// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
)

func TestMerge_NoRegression(t *testing.T) {
	prev := model.Message{
		Question: "q",
		Answer:   "partial",
		Sources:  []string{"https://a"},
	}

	next := Merge(prev, Fragment{Content: "partial answer"})

	want := model.Message{
		Question: "q",
		Answer:   "partial answer",
		Sources:  []string{"https://a"},
	}
	if diff := cmp.Diff(want, next); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestMerge_ReplacesNonEmpty(t *testing.T) {
	prev := model.Message{Answer: "a", FollowUpQuestions: []string{"old"}}
	next := Merge(prev, Fragment{
		FollowUpQuestions: []string{"new1", "new2"},
		Actions:           []model.Action{{Name: "PL", DirectoryLink: "/teams/pl", Type: "team"}},
	})

	if next.Answer != "a" {
		t.Errorf("Answer = %q, want kept", next.Answer)
	}
	if diff := cmp.Diff([]string{"new1", "new2"}, next.FollowUpQuestions); diff != "" {
		t.Errorf("FollowUpQuestions mismatch:\n%s", diff)
	}
	if len(next.Actions) != 1 {
		t.Errorf("Actions = %v", next.Actions)
	}
	if prev.FollowUpQuestions[0] != "old" {
		t.Error("Merge mutated prev")
	}
}

func TestMerge_PreservesSQLAndError(t *testing.T) {
	prev := model.Message{SQL: []model.DirectoryResult{{Name: "row"}}, IsError: true}
	next := Merge(prev, Fragment{Content: "x"})
	if len(next.SQL) != 1 || !next.IsError {
		t.Error("answer fragments should leave rows and the error flag alone")
	}
}

func TestMerge_AttachesSQL(t *testing.T) {
	rows := []model.DirectoryResult{{Name: "libp2p", Type: "project", Fields: map[string]string{"lead": "PL"}}}
	next := Merge(model.Message{Answer: "Teams"}, Fragment{SQL: rows})
	if next.Answer != "Teams" || len(next.SQL) != 1 {
		t.Fatalf("Merge() = %+v", next)
	}

	rows[0].Fields["lead"] = "changed"
	if next.SQL[0].Fields["lead"] != "PL" {
		t.Error("attached rows share fields with the fragment")
	}

	next = Merge(next, Fragment{Content: "Teams and more"})
	if len(next.SQL) != 1 || next.SQL[0].Name != "libp2p" {
		t.Errorf("later fragment dropped rows: %+v", next.SQL)
	}
}

// =============================================================================
// SCHEMA TESTS
// =============================================================================

func TestValidator_Decode(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	f, err := v.Decode([]byte(`{"content":"Hi","followUpQuestions":["a"],"sources":null}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Content != "Hi" || len(f.FollowUpQuestions) != 1 || f.Sources != nil {
		t.Errorf("Decode() = %+v", f)
	}

	f, err = v.Decode([]byte(`{"sql":[{"name":"libp2p","fields":{"lead":"PL"}}]}`))
	if err != nil || f.IsEmpty() || f.SQL[0].Fields["lead"] != "PL" {
		t.Errorf("Decode(sql) = %+v, %v", f, err)
	}

	if f, err := v.Decode([]byte(`{}`)); err != nil || !f.IsEmpty() {
		t.Errorf("Decode({}) = %+v, %v", f, err)
	}
}

func TestValidator_Rejects(t *testing.T) {
	v, _ := NewValidator()
	for _, raw := range []string{
		`{"content":42}`,
		`{"sources":"not-a-list"}`,
		`{"actions":[1]}`,
		`{"sql":[{"fields":{"k":1}}]}`,
		`["array"]`,
	} {
		_, err := v.Decode([]byte(raw))
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Decode(%s) error = %v, want *ValidationError", raw, err)
		}
	}
}

func TestNewValidatorWithSchema_Invalid(t *testing.T) {
	if _, err := NewValidatorWithSchema(`{"type": 12}`); err == nil {
		t.Error("expected schema compile error")
	}
}
