// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports threads to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a thread to Markdown with one section per turn.
func (e *MarkdownExporter) Export(th *model.Thread) ([]byte, error) {
	if err := validate(th); err != nil {
		return nil, err
	}

	var sb strings.Builder

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(th.GetTitle())))
		sb.WriteString(fmt.Sprintf("thread: %s\n", th.ThreadID))
		if !th.CreatedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("date: %s\n", th.CreatedAt.Format(time.RFC3339)))
		}
		if !th.UpdatedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("updated: %s\n", th.UpdatedAt.Format(time.RFC3339)))
		}
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(th.Messages)))
		sb.WriteString("generator: husky\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(th.GetTitle())))

	for i, msg := range th.Messages {
		if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
			sb.WriteString(fmt.Sprintf("### [Question] <sub>%s</sub>\n\n", formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString("### [Question]\n\n")
		}
		sb.WriteString(strings.TrimSpace(msg.Question))
		sb.WriteString("\n\n### [Answer]\n\n")

		if msg.IsError {
			sb.WriteString("_The answer failed to load._\n\n")
		} else {
			sb.WriteString(strings.TrimSpace(msg.Answer))
			sb.WriteString("\n\n")
		}
		sb.WriteString(e.formatExtras(msg))

		if i < len(th.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatExtras lists a turn's sources, directory links and follow-ups.
func (e *MarkdownExporter) formatExtras(msg model.Message) string {
	var sb strings.Builder

	if len(msg.Sources) > 0 {
		sb.WriteString("**Sources**\n\n")
		for _, src := range msg.Sources {
			sb.WriteString("- " + src + "\n")
		}
		sb.WriteString("\n")
	}

	if len(msg.Actions) > 0 {
		sb.WriteString("**In the directory**\n\n")
		for _, a := range msg.Actions {
			line := escapeMarkdown(a.Name)
			if safeLink(a.DirectoryLink) {
				line = fmt.Sprintf("[%s](%s)", line, a.DirectoryLink)
			}
			if a.Type != "" {
				line += " (" + a.Type + ")"
			}
			sb.WriteString("- " + line + "\n")
		}
		sb.WriteString("\n")
	}

	if len(msg.SQL) > 0 {
		sb.WriteString("**Directory results**\n\n")
		for _, row := range msg.SQL {
			line := escapeMarkdown(row.Name)
			if safeLink(row.Link) {
				line = fmt.Sprintf("[%s](%s)", line, row.Link)
			}
			if row.Type != "" {
				line += " (" + row.Type + ")"
			}
			sb.WriteString("- " + line + "\n")
		}
		sb.WriteString("\n")
	}

	if len(msg.FollowUpQuestions) > 0 {
		sb.WriteString("**Follow-up questions**\n\n")
		for _, q := range msg.FollowUpQuestions {
			sb.WriteString("- " + q + "\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML escapes special YAML characters in values.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
