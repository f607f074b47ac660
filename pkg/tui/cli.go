// Package tui renders terminal output for the ecmcheck CLI: a live event
// counter during a run and a styled summary afterwards.
package tui

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/ecmcheck/ecmcheck/pkg/cuts"
	"github.com/ecmcheck/ecmcheck/pkg/report"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	codeStyle    = lipgloss.NewStyle().Background(lipgloss.Color("#1a1a1a")).Foreground(white).Padding(0, 1)
)

// Progress counts processed events on an indeterminate bar.
type Progress struct {
	bar  *progressbar.ProgressBar
	last int64
}

// NewProgress starts a spinner writing to w. Pass io.Discard to silence it.
func NewProgress(w io.Writer, description string) *Progress {
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("events"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &Progress{bar: bar}
}

// Heartbeat moves the counter to events. It has the signature of a job
// heartbeat callback.
func (p *Progress) Heartbeat(events int64) {
	if delta := events - p.last; delta > 0 {
		_ = p.bar.Add64(delta)
		p.last = events
	}
}

// Finish clears the bar.
func (p *Progress) Finish() {
	_ = p.bar.Finish()
}

// IsTerminal reports whether f is attached to a character device.
func IsTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// PrintSummary prints the styled end-of-run summary.
func PrintSummary(w io.Writer, r *report.Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ ANALYSIS COMPLETE"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Job:"), codeStyle.Render(r.JobID))
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Events:"),
		titleStyle.Render(formatNumber(r.Events)),
		mutedStyle.Render(fmt.Sprintf("in %d runs", r.Runs)))
	if r.Skipped > 0 {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Skipped:"), accentStyle.Render(formatNumber(r.Skipped)))
	}
	if r.Duration > 0 {
		rate := float64(r.Events) / r.Duration.Seconds()
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render("Time:"),
			titleStyle.Render(formatDuration(r.Duration)),
			mutedStyle.Render(fmt.Sprintf("(%s events/sec)", formatNumber(int64(rate)))))
	}
	for _, p := range r.Output {
		fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Output:"), codeStyle.Render(p))
	}
	fmt.Fprintln(w)
}

// PrintCuts prints a cut table read back from an output file.
func PrintCuts(w io.Writer, stages []cuts.Stage) {
	fmt.Fprintln(w, accentStyle.Render("▸ CUT SUMMARY"))
	fmt.Fprintln(w, mutedStyle.Render("  "+strings.Repeat("─", 45)))
	for _, s := range stages {
		fmt.Fprintf(w, "  %s  %s  %s\n",
			mutedStyle.Render(fmt.Sprintf("%3d", s.ID)),
			titleStyle.Render(fmt.Sprintf("%10d", s.Count)),
			s.Label)
	}
	fmt.Fprintln(w, mutedStyle.Render("  "+strings.Repeat("─", 45)))
}

// PrintTable prints query rows as aligned columns.
func PrintTable(w io.Writer, columns []string, rows [][]interface{}) {
	widths := make([]int, len(columns))
	cells := make([][]string, len(rows))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for r, row := range rows {
		cells[r] = make([]string, len(row))
		for i, v := range row {
			cells[r][i] = formatCell(v)
			if len(cells[r][i]) > widths[i] {
				widths[i] = len(cells[r][i])
			}
		}
	}

	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = fmt.Sprintf("%-*s", widths[i], c)
	}
	fmt.Fprintln(w, titleStyle.Render(strings.Join(header, "  ")))
	for _, row := range cells {
		line := make([]string, len(row))
		for i, c := range row {
			line[i] = fmt.Sprintf("%*s", widths[i], c)
		}
		fmt.Fprintln(w, strings.Join(line, "  "))
	}
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("(%d rows)", len(rows))))
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return fmt.Sprintf("%.4g", x)
	case float32:
		return fmt.Sprintf("%.4g", x)
	default:
		return fmt.Sprint(x)
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}
