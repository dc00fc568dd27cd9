package main

import (
	"fmt"
	"io"
	"strings"

	"netmonitor/internal/rules"
	"netmonitor/pkg/model"
	"netmonitor/pkg/traffic"

	"github.com/charmbracelet/lipgloss/v2"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	primaryMatch   = lipgloss.NewStyle().Background(lipgloss.Color("201")).Foreground(lipgloss.Color("231"))
	secondaryMatch = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("231"))
)

func statusStyle(rec *traffic.Record) lipgloss.Style {
	switch rec.Status() {
	case model.StatusSucceeded:
		return okStyle
	case model.StatusLoading:
		return pendingStyle
	default:
		return failStyle
	}
}

// cell 先补齐宽度再着色，避免转义序列影响对齐
func cell(s string, width int, style lipgloss.Style) string {
	if len(s) < width {
		s += strings.Repeat(" ", width-len(s))
	}
	return style.Render(s)
}

func printRecords(w io.Writer, recs []*traffic.Record) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-8s %-7s %-10s %-12s %s", "STATUS", "METHOD", "TIME", "TYPE", "URL")))
	for _, rec := range recs {
		fmt.Fprintf(w, "%s %-7s %-10s %-12s %s\n",
			cell(rec.StatusText(), 8, statusStyle(rec)),
			rec.Request.Method,
			rec.ElapsedText(),
			rec.Response.ShortType,
			rec.Request.URL,
		)
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d records", len(recs))))
}

func printRules(w io.Writer, rs []*rules.Rule) {
	if len(rs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no rules"))
		return
	}
	for _, r := range rs {
		state := okStyle.Render("enabled ")
		if !r.Enabled {
			state = dimStyle.Render("disabled")
		}
		kinds := make([]string, 0, len(r.Commands))
		for _, c := range r.Commands {
			kinds = append(kinds, string(c.Kind()))
		}
		fmt.Fprintf(w, "%s %s\n", state, headerStyle.Render(r.Identity().String()))
		fmt.Fprintf(w, "         %s\n", dimStyle.Render(strings.Join(kinds, ", ")))
	}
}
