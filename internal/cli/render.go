// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/config"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/util"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// Renderer prints finished answers. Markdown is rendered with glamour only
// when enabled and stdout is a TTY, so piped output stays plain.
type Renderer struct {
	out      io.Writer
	markdown *glamour.TermRenderer
	width    int
}

// NewRenderer creates a renderer for the UI settings.
func NewRenderer(out io.Writer, cfg config.UIConfig, tty bool) *Renderer {
	r := &Renderer{out: out, width: wrapWidth(cfg.Width)}
	if !cfg.Markdown || !tty {
		return r
	}

	styleOpt := glamour.WithAutoStyle()
	switch cfg.Theme {
	case "dark", "light", "notty", "dracula":
		styleOpt = glamour.WithStandardStyle(cfg.Theme)
	}
	md, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(r.width))
	if err == nil {
		r.markdown = md
	}
	return r
}

// renderMarkdown returns content rendered for the terminal, or content
// unchanged if rendering is off or fails.
func (r *Renderer) renderMarkdown(content string) string {
	if r.markdown == nil {
		return content
	}
	rendered, err := r.markdown.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// Answer prints a finished turn: the answer, its sources, directory links
// and numbered follow-up questions.
func (r *Renderer) Answer(msg model.Message) {
	if msg.IsError {
		fmt.Fprintln(r.out, ErrorStyle.Render("[No answer]"))
		return
	}

	fmt.Fprint(r.out, r.renderMarkdown(msg.Answer))
	if !strings.HasSuffix(msg.Answer, "\n") {
		fmt.Fprintln(r.out)
	}
	r.Extras(msg)
}

// Extras prints everything attached to an answer except its text.
func (r *Renderer) Extras(msg model.Message) {
	if len(msg.Sources) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, DimStyle.Render("Sources:"))
		for i, src := range msg.Sources {
			fmt.Fprintf(r.out, "  [%d] %s\n", i+1, LinkStyle.Render(src))
		}
	}

	if len(msg.Actions) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, DimStyle.Render("In the directory:"))
		for _, a := range msg.Actions {
			label := util.TruncateWidth(a.Name, r.width/2)
			if a.Type != "" {
				label = fmt.Sprintf("%s (%s)", label, a.Type)
			}
			fmt.Fprintf(r.out, "  %s  %s\n", util.PadWidth(label, r.width/2), LinkStyle.Render(a.DirectoryLink))
		}
	}

	if len(msg.SQL) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, DimStyle.Render("Directory results:"))
		for _, row := range msg.SQL {
			label := util.TruncateWidth(row.Name, r.width/2)
			if row.Type != "" {
				label = fmt.Sprintf("%s (%s)", label, row.Type)
			}
			fmt.Fprintf(r.out, "  %s  %s\n", util.PadWidth(label, r.width/2), LinkStyle.Render(row.Link))
		}
	}

	if len(msg.FollowUpQuestions) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, DimStyle.Render("Follow up (/follow N):"))
		for i, q := range msg.FollowUpQuestions {
			fmt.Fprintf(r.out, "  %d. %s\n", i+1, FollowupStyle.Render(q))
		}
	}
}

// Transcript prints every turn of a thread.
func (r *Renderer) Transcript(messages []model.Message) {
	for i, msg := range messages {
		if i > 0 {
			fmt.Fprintln(r.out, RenderSeparator(r.width))
		}
		fmt.Fprintln(r.out, PromptStyle.Render("> ")+msg.Question)
		r.Answer(msg)
	}
}
