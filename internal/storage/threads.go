// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/util"
)

// =============================================================================
// THREAD META
// =============================================================================

// ThreadMeta contains metadata for listing threads.
type ThreadMeta struct {
	ThreadID     string    `json:"threadId"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
	Preview      string    `json:"preview"` // last answered question
}

// =============================================================================
// THREAD STORE
// =============================================================================

// ThreadStore persists threads as one JSON file each.
type ThreadStore struct {
	// BaseDir is the directory for thread files.
	// Default: ~/.husky/threads/
	BaseDir string

	// MaxThreads limits stored threads (0 = unlimited).
	MaxThreads int
}

// DefaultMaxThreads is used by NewThreadStore.
const DefaultMaxThreads = 200

// ErrThreadNotFound is returned when a thread doesn't exist.
var ErrThreadNotFound = errors.New("thread not found")

// ErrInvalidThreadID is returned for IDs that cannot name a file.
var ErrInvalidThreadID = errors.New("invalid thread id")

var threadIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// NewThreadStore creates a store rooted at baseDir.
func NewThreadStore(baseDir string) (*ThreadStore, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, err
	}
	return &ThreadStore{
		BaseDir:    baseDir,
		MaxThreads: DefaultMaxThreads,
	}, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// Save persists a thread, replacing any earlier copy.
func (s *ThreadStore) Save(thread *model.Thread) error {
	if !threadIDPattern.MatchString(thread.ThreadID) {
		return fmt.Errorf("%w: %q", ErrInvalidThreadID, thread.ThreadID)
	}

	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now()
	}
	if thread.UpdatedAt.IsZero() {
		thread.UpdatedAt = thread.CreatedAt
	}

	data, err := json.MarshalIndent(thread, "", "  ")
	if err != nil {
		return err
	}
	if err := util.AtomicWriteFile(s.filePath(thread.ThreadID), data, 0600); err != nil {
		return err
	}

	if s.MaxThreads > 0 {
		s.enforceLimit()
	}
	return nil
}

// enforceLimit removes the least recently updated threads past MaxThreads.
func (s *ThreadStore) enforceLimit() {
	metas, err := s.List()
	if err != nil || len(metas) <= s.MaxThreads {
		return
	}
	// List is newest first.
	for _, m := range metas[s.MaxThreads:] {
		_ = s.Delete(m.ThreadID)
	}
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load retrieves a thread by ID.
func (s *ThreadStore) Load(id string) (*model.Thread, error) {
	if !threadIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidThreadID, id)
	}

	data, err := os.ReadFile(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}

	var thread model.Thread
	if err := json.Unmarshal(data, &thread); err != nil {
		return nil, fmt.Errorf("corrupt thread %s: %w", id, err)
	}
	return &thread, nil
}

// LoadByIndex loads a thread by its position in List (0 = most recent).
func (s *ThreadStore) LoadByIndex(index int) (*model.Thread, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(metas) {
		return nil, ErrThreadNotFound
	}
	return s.Load(metas[index].ThreadID)
}

// =============================================================================
// LIST OPERATIONS
// =============================================================================

// List returns all saved threads, most recently updated first.
func (s *ThreadStore) List() ([]ThreadMeta, error) {
	threads, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	metas := make([]ThreadMeta, 0, len(threads))
	for _, t := range threads {
		metas = append(metas, metaFor(t))
	}
	sortNewestFirst(metas)
	return metas, nil
}

// Search returns threads whose title or any question or answer contains query
// (case-insensitive). An empty query lists everything.
func (s *ThreadStore) Search(query string) ([]ThreadMeta, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List()
	}

	threads, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	var results []ThreadMeta
	for _, t := range threads {
		if threadMatches(t, query) {
			results = append(results, metaFor(t))
		}
	}
	sortNewestFirst(results)
	return results, nil
}

func threadMatches(t *model.Thread, query string) bool {
	if strings.Contains(strings.ToLower(t.Title), query) {
		return true
	}
	for _, m := range t.Messages {
		if strings.Contains(strings.ToLower(m.Question), query) ||
			strings.Contains(strings.ToLower(m.Answer), query) {
			return true
		}
	}
	return false
}

// loadAll reads every thread file, skipping corrupt ones.
func (s *ThreadStore) loadAll() ([]*model.Thread, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var threads []*model.Thread
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		t, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		threads = append(threads, t)
	}
	return threads, nil
}

func metaFor(t *model.Thread) ThreadMeta {
	preview := ""
	if last := t.LastMessage(); last != nil {
		preview = util.TruncateRunes(util.SingleLine(last.Question), 80)
	}
	return ThreadMeta{
		ThreadID:     t.ThreadID,
		Title:        t.GetTitle(),
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		MessageCount: t.MessageCount(),
		Preview:      preview,
	}
}

func sortNewestFirst(metas []ThreadMeta) {
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// Delete removes a thread by ID.
func (s *ThreadStore) Delete(id string) error {
	if !threadIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidThreadID, id)
	}
	if err := os.Remove(s.filePath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrThreadNotFound
		}
		return err
	}
	return nil
}

// Clear removes all saved threads.
func (s *ThreadStore) Clear() error {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			os.Remove(filepath.Join(s.BaseDir, entry.Name()))
		}
	}
	return nil
}

func (s *ThreadStore) filePath(id string) string {
	return filepath.Join(s.BaseDir, id+".json")
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatThreadList renders threads as a table for the terminal. Columns are
// padded by display width so CJK titles line up.
func FormatThreadList(threads []ThreadMeta) string {
	if len(threads) == 0 {
		return "No threads found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadWidth("#", 4) + " " +
		util.PadWidth("Updated", 16) + " " +
		util.PadWidth("Turns", 5) + " Title\n")
	sb.WriteString(strings.Repeat("-", 64) + "\n")

	for i, t := range threads {
		sb.WriteString(util.PadWidth(strconv.Itoa(i+1), 4) + " " +
			util.PadWidth(t.UpdatedAt.Format("2006-01-02 15:04"), 16) + " " +
			util.PadWidth(strconv.Itoa(t.MessageCount), 5) + " " +
			util.TruncateWidth(t.Title, 40) + "\n")
	}
	return sb.String()
}
