package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"nanojit/internal/observ"
)

var (
	errorColor  = color.New(color.FgRed, color.Bold)
	labelColor  = color.New(color.FgCyan)
	resultColor = color.New(color.FgGreen, color.Bold)
	dimColor    = color.New(color.Faint)
)

func applyColorFlag(cmd *cobra.Command) error {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	switch strings.ToLower(mode) {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return fmt.Errorf("invalid --color %q (expected: auto|on|off)", mode)
	}
	return nil
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", errorColor.Sprint("error:"), err)
}

// printTable writes rows with the first column padded to a common display
// width.
func printTable(w io.Writer, rows [][2]string) {
	width := 0
	for _, r := range rows {
		width = max(width, runewidth.StringWidth(r[0]))
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %s  %s\n", labelColor.Sprint(runewidth.FillRight(r[0], width)), r[1])
	}
}

func printTimings(w io.Writer, report observ.Report, translations map[string]int) {
	if len(report.Phases) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("no code was compiled"))
		return
	}
	rows := make([][2]string, 0, len(report.Phases)+1)
	for _, p := range report.Phases {
		line := fmt.Sprintf("%.2f ms (%d)", p.DurationMS, p.Count)
		if p.Note != "" {
			line += dimColor.Sprint("  slowest: " + runewidth.Truncate(p.Note, 40, "..."))
		}
		rows = append(rows, [2]string{p.Name, line})
	}
	rows = append(rows, [2]string{"total", fmt.Sprintf("%.2f ms, %d symbols", report.TotalMS, len(translations))})
	fmt.Fprintln(w, "timings:")
	printTable(w, rows)
}
