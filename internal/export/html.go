// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/memser-spaceport/pln-directory-portal-v2-sub002/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports threads to a standalone HTML page.
//
// Answers are markdown and are converted with goldmark. Raw HTML in an answer
// is dropped and dangerous link schemes are not rendered.
type HTMLExporter struct {
	options  *Options
	markdown goldmark.Markdown
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{
		options:  opts,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Export converts a thread to HTML.
func (e *HTMLExporter) Export(th *model.Thread) ([]byte, error) {
	if err := validate(th); err != nil {
		return nil, err
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}
	title := html.EscapeString(th.GetTitle())

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", title))
	sb.WriteString("    <meta name=\"generator\" content=\"husky\">\n")
	if !th.CreatedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("    <meta name=\"date\" content=\"%s\">\n", th.CreatedAt.Format(time.RFC3339)))
	}
	sb.WriteString(pageCSS)
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n", theme))
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString("        <header class=\"header\">\n")
		sb.WriteString(fmt.Sprintf("            <h1>%s</h1>\n", title))
		sb.WriteString("            <div class=\"metadata\">\n")
		if !th.CreatedAt.IsZero() {
			sb.WriteString(fmt.Sprintf("                <span><strong>Created:</strong> %s</span>\n", formatTimestamp(th.CreatedAt)))
		}
		sb.WriteString(fmt.Sprintf("                <span><strong>Questions:</strong> %d</span>\n", len(th.Messages)))
		sb.WriteString("                <button class=\"theme-toggle\" onclick=\"toggleTheme()\" title=\"Toggle theme\">[Theme]</button>\n")
		sb.WriteString("            </div>\n")
		sb.WriteString("        </header>\n")
	}

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, msg := range th.Messages {
		sb.WriteString(e.renderTurn(msg))
	}
	sb.WriteString("        </main>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString(pageScript)
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING
// =============================================================================

// renderTurn renders one question and its answer.
func (e *HTMLExporter) renderTurn(msg model.Message) string {
	var sb strings.Builder

	sb.WriteString("            <section class=\"turn\">\n")
	sb.WriteString("                <div class=\"question\">\n")
	if e.options.IncludeTimestamps && !msg.Timestamp.IsZero() {
		sb.WriteString(fmt.Sprintf("                    <span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.Timestamp)))
	}
	sb.WriteString(fmt.Sprintf("                    <p>%s</p>\n", html.EscapeString(msg.Question)))
	sb.WriteString("                </div>\n")

	sb.WriteString("                <div class=\"answer\">\n")
	if msg.IsError {
		sb.WriteString("                    <p class=\"error\">The answer failed to load.</p>\n")
	} else {
		sb.WriteString(e.renderMarkdown(msg.Answer))
	}
	sb.WriteString(e.renderExtras(msg))
	sb.WriteString("                </div>\n")
	sb.WriteString("            </section>\n")

	return sb.String()
}

// renderMarkdown converts an answer to HTML, escaping it if conversion fails.
func (e *HTMLExporter) renderMarkdown(content string) string {
	var buf bytes.Buffer
	if err := e.markdown.Convert([]byte(content), &buf); err != nil {
		return "<pre>" + html.EscapeString(content) + "</pre>\n"
	}
	return buf.String()
}

// renderExtras renders sources, directory links and follow-up questions.
func (e *HTMLExporter) renderExtras(msg model.Message) string {
	var sb strings.Builder

	if len(msg.Sources) > 0 {
		sb.WriteString("                    <div class=\"extras\"><strong>Sources</strong><ol>\n")
		for _, src := range msg.Sources {
			sb.WriteString("                        <li>" + linkHTML(src, src) + "</li>\n")
		}
		sb.WriteString("                    </ol></div>\n")
	}

	if len(msg.Actions) > 0 {
		sb.WriteString("                    <div class=\"extras\"><strong>In the directory</strong><ul>\n")
		for _, a := range msg.Actions {
			item := linkHTML(a.DirectoryLink, a.Name)
			if a.Type != "" {
				item += " <span class=\"timestamp\">" + html.EscapeString(a.Type) + "</span>"
			}
			sb.WriteString("                        <li>" + item + "</li>\n")
		}
		sb.WriteString("                    </ul></div>\n")
	}

	if len(msg.SQL) > 0 {
		sb.WriteString("                    <div class=\"extras\"><strong>Directory results</strong><ul>\n")
		for _, row := range msg.SQL {
			item := linkHTML(row.Link, row.Name)
			if row.Type != "" {
				item += " <span class=\"timestamp\">" + html.EscapeString(row.Type) + "</span>"
			}
			sb.WriteString("                        <li>" + item + "</li>\n")
		}
		sb.WriteString("                    </ul></div>\n")
	}

	if len(msg.FollowUpQuestions) > 0 {
		sb.WriteString("                    <div class=\"extras\"><strong>Follow-up questions</strong><ul>\n")
		for _, q := range msg.FollowUpQuestions {
			sb.WriteString("                        <li>" + html.EscapeString(q) + "</li>\n")
		}
		sb.WriteString("                    </ul></div>\n")
	}

	return sb.String()
}

// linkHTML renders an anchor, or plain escaped text when href is unsafe.
func linkHTML(href, text string) string {
	if !safeLink(href) {
		return html.EscapeString(text)
	}
	return fmt.Sprintf("<a href=\"%s\" rel=\"noopener noreferrer\">%s</a>",
		html.EscapeString(href), html.EscapeString(text))
}

// =============================================================================
// EMBEDDED CSS AND JAVASCRIPT
// =============================================================================

const pageCSS = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --bg-tertiary: #414868;
            --text-primary: #c0caf5;
            --text-muted: #565f89;
            --accent-blue: #7aa2f7;
            --accent-green: #9ece6a;
            --accent-red: #f7768e;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f7f8fa;
            --bg-tertiary: #e1e4e8;
            --text-primary: #24292e;
            --text-muted: #6a737d;
            --accent-blue: #0366d6;
            --accent-green: #22863a;
            --accent-red: #d73a49;
        }

        body {
            font-family: var(--font-sans);
            line-height: 1.6;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
        }

        .container { max-width: 900px; margin: 0 auto; background: var(--bg-secondary); border-radius: 12px; overflow: hidden; }
        .header { padding: 32px; background: var(--bg-tertiary); }
        .header h1 { font-size: 28px; margin-bottom: 16px; }
        .metadata { display: flex; flex-wrap: wrap; gap: 16px; font-size: 14px; align-items: center; }
        .theme-toggle { margin-left: auto; padding: 6px 12px; cursor: pointer; }
        .conversation { padding: 24px 32px; }
        .turn { margin-bottom: 24px; }
        .question { padding: 16px; border-left: 4px solid var(--accent-blue); font-weight: 600; }
        .answer { padding: 16px; border-left: 4px solid var(--accent-green); }
        .answer p, .answer ul, .answer ol { margin-bottom: 12px; }
        .answer ul, .answer ol { padding-left: 24px; }
        .extras { font-size: 14px; margin-top: 12px; }
        .timestamp { color: var(--text-muted); font-size: 12px; font-weight: normal; }
        pre, code { font-family: var(--font-mono); background: var(--bg-primary); }
        pre { padding: 12px; border-radius: 6px; overflow-x: auto; }
        a { color: var(--accent-blue); }
        .error { color: var(--accent-red); }
    </style>
`

const pageScript = `    <script>
        function toggleTheme() {
            const body = document.body;
            const next = body.classList.contains('dark-theme') ? 'light' : 'dark';
            body.classList.remove('dark-theme', 'light-theme');
            body.classList.add(next + '-theme');
            localStorage.setItem('theme', next);
        }

        document.addEventListener('DOMContentLoaded', function() {
            const savedTheme = localStorage.getItem('theme');
            if (savedTheme) {
                document.body.classList.remove('dark-theme', 'light-theme');
                document.body.classList.add(savedTheme + '-theme');
            }
        });
    </script>
`
