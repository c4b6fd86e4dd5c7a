// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
)

// Fragment is one partial answer object. Each fragment carries the whole
// answer so far, not a delta. SQL holds directory rows the backend sends
// separately from the answer; a fragment usually carries either rows or
// answer fields.
type Fragment struct {
	Content           string                  `json:"content"`
	FollowUpQuestions []string                `json:"followUpQuestions"`
	Sources           []string                `json:"sources,omitempty"`
	Actions           []model.Action          `json:"actions,omitempty"`
	SQL               []model.DirectoryResult `json:"sql,omitempty"`
}

// IsEmpty reports whether the fragment carries nothing to merge.
func (f Fragment) IsEmpty() bool {
	return f.Content == "" && len(f.FollowUpQuestions) == 0 &&
		len(f.Sources) == 0 && len(f.Actions) == 0 && len(f.SQL) == 0
}

// Merge returns prev updated with f. Each streamed field takes the fragment's
// value when it is non-empty and keeps prev's value otherwise, so a populated
// field never regresses to empty. Attached rows follow the same rule.
// Question and IsError are not touched.
func Merge(prev model.Message, f Fragment) model.Message {
	next := prev.Clone()
	if f.Content != "" {
		next.Answer = f.Content
	}
	if len(f.FollowUpQuestions) > 0 {
		next.FollowUpQuestions = append([]string(nil), f.FollowUpQuestions...)
	}
	if len(f.Sources) > 0 {
		next.Sources = append([]string(nil), f.Sources...)
	}
	if len(f.Actions) > 0 {
		next.Actions = append([]model.Action(nil), f.Actions...)
	}
	if len(f.SQL) > 0 {
		next.SQL = cloneResults(f.SQL)
	}
	return next
}

// cloneResults deep-copies directory rows so messages never share field maps.
func cloneResults(rows []model.DirectoryResult) []model.DirectoryResult {
	out := make([]model.DirectoryResult, len(rows))
	for i, r := range rows {
		out[i] = r
		if r.Fields != nil {
			out[i].Fields = make(map[string]string, len(r.Fields))
			for k, v := range r.Fields {
				out[i].Fields[k] = v
			}
		}
	}
	return out
}
