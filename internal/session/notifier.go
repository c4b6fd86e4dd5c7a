// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/ratelimit"
)

// Notifier is how the controller talks to the presentation layer.
//
// MessageUpdated is called while a stream fragment is being applied and must
// not call back into the Controller. The other methods are called with no
// locks held.
type Notifier interface {
	// MessageUpdated reports the turn at index after a fragment was merged.
	MessageUpdated(index int, msg model.Message)
	// RateLimitChanged reports a new warn or final-request state.
	RateLimitChanged(state ratelimit.State)
	// LimitReached reports a submission rejected by the quota.
	LimitReached(state ratelimit.State)
	// Toast shows a transient notification.
	Toast(message string)
	// EditQuestion seeds the input field with question.
	EditQuestion(question string)
	// OpenFeedback opens feedback capture for one answer.
	OpenFeedback(question, answer string)
	// Navigate switches the view to another thread.
	Navigate(threadID string)
}

// NopNotifier ignores every notification. Embed it to implement a subset.
type NopNotifier struct{}

func (NopNotifier) MessageUpdated(int, model.Message) {}
func (NopNotifier) RateLimitChanged(ratelimit.State)  {}
func (NopNotifier) LimitReached(ratelimit.State)      {}
func (NopNotifier) Toast(string)                      {}
func (NopNotifier) EditQuestion(string)               {}
func (NopNotifier) OpenFeedback(string, string)       {}
func (NopNotifier) Navigate(string)                   {}
