package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/entrhq/forge-patch/pkg/config"
	"github.com/entrhq/forge-patch/pkg/report"
	"github.com/entrhq/forge-patch/pkg/transaction"
)

// Color Palette
var (
	salmonPink = lipgloss.Color("#FFB3BA") // failures
	coralPink  = lipgloss.Color("#FFCCCB") // partial commits
	mintGreen  = lipgloss.Color("#A8E6CF") // success
	mutedGray  = lipgloss.Color("#6B7280") // secondary text
)

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(mintGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(salmonPink).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(coralPink).
			Bold(true).
			Underline(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedGray)
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// styleFor returns style when w is a terminal and a no-op style otherwise.
func styleFor(w io.Writer, style lipgloss.Style) lipgloss.Style {
	if isTerminal(w) {
		return style
	}
	return lipgloss.NewStyle()
}

// printObservation writes the observation with its first line styled by status.
func (c *cli) printObservation(obs report.Observation) {
	style := successStyle
	switch obs.Status {
	case transaction.StatusFailed:
		style = errorStyle
	case transaction.StatusPartial:
		style = warningStyle
	}

	head, rest, _ := strings.Cut(obs.Text, "\n")
	fmt.Fprintln(c.stdout, styleFor(c.stdout, style).Render(head))
	if rest != "" {
		fmt.Fprintln(c.stdout, rest)
	}
}

// renderDiff writes diff, highlighted when writing to a terminal and the
// configuration allows it.
func renderDiff(w io.Writer, diff string, cfg config.PreviewConfig) error {
	if cfg.Highlight && isTerminal(w) {
		return quick.Highlight(w, diff, "diff", "terminal256", cfg.Style)
	}
	_, err := io.WriteString(w, diff)
	return err
}
