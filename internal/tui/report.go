package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour/v2"

	"github.com/billie-coop/jobq/internal/app"
)

// ReportMarkdown formats a run summary as markdown.
func ReportMarkdown(s app.Summary) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# jobq run: %s\n\n", orDash(s.Source))
	fmt.Fprintf(&sb, "Scheduler `%s` on the `%s` host", s.Scheduler, s.Host)
	if s.Duration > 0 {
		fmt.Fprintf(&sb, ", finished in %s", s.Duration.Round(time.Millisecond))
	}
	sb.WriteString(".\n\n")

	sb.WriteString("| | count |\n|---|---:|\n")
	rows := []struct {
		label string
		n     int
	}{
		{"messages read", s.Read},
		{"malformed lines", s.Malformed},
		{"work items queued", s.Queued},
		{"dispatched", s.Dispatched},
		{"cancelled", s.Cancelled},
		{"cancellation directives", s.Directives},
		{"directives without context", s.DroppedDirectives},
		{"drain episodes", s.Episodes},
		{"compactions", s.Compactions},
		{"sink panics", s.SinkPanics},
	}
	for _, row := range rows {
		fmt.Fprintf(&sb, "| %s | %d |\n", row.label, row.n)
	}

	if len(s.Contexts) > 0 {
		sb.WriteString("\n## Cancelled by context\n\n")
		contexts := make([]string, 0, len(s.Contexts))
		for ctx := range s.Contexts {
			contexts = append(contexts, ctx)
		}
		sort.Slice(contexts, func(i, j int) bool {
			ci, cj := s.Contexts[contexts[i]], s.Contexts[contexts[j]]
			if ci != cj {
				return ci > cj
			}
			return contexts[i] < contexts[j]
		})
		for _, ctx := range contexts {
			fmt.Fprintf(&sb, "- `%s`: %d\n", orDash(ctx), s.Contexts[ctx])
		}
	}

	if s.Final.Pending > 0 || s.Final.Draining {
		fmt.Fprintf(&sb, "\n> %d items still pending when the run ended.\n", s.Final.Pending)
	}

	return sb.String()
}

// RenderReport renders the summary for a terminal of the given width.
func RenderReport(s app.Summary, width int) (string, error) {
	if width <= 0 {
		width = 80
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dracula"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}

	out, err := r.Render(ReportMarkdown(s))
	if err != nil {
		return "", fmt.Errorf("failed to render report: %w", err)
	}
	return out, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
