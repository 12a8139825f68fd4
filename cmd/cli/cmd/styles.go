package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle   = lipgloss.NewStyle().Faint(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

const rule = "──────────────────────────────"

func label(s string) string {
	return labelStyle.Render(fmt.Sprintf("%-13s", s+":"))
}

func statusIcon(status string) string {
	switch status {
	case "completed":
		return successStyle.Render("✓")
	case "failed":
		return errorStyle.Render("✗")
	case "processing", "queued", "stitching", "generating":
		return warnStyle.Render("⏳")
	case "draft", "editing", "pending":
		return infoStyle.Render("◯")
	default:
		return "•"
	}
}

func colorizeStatus(status string) string {
	icon := statusIcon(status)
	switch status {
	case "completed":
		return icon + " " + successStyle.Render(status)
	case "failed":
		return icon + " " + errorStyle.Render(status)
	case "processing", "queued", "stitching", "generating":
		return icon + " " + warnStyle.Render(status)
	case "draft", "editing", "pending":
		return icon + " " + infoStyle.Render(status)
	default:
		return status
	}
}

// colorizeAmount renders credits and debits in different colors.
func colorizeAmount(amount string) string {
	if len(amount) > 0 && amount[0] == '-' {
		return errorStyle.Render(amount)
	}
	return successStyle.Render("+" + amount)
}

func relativeTime(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return fmt.Sprintf("%ds", int(duration.Seconds()))
	} else if duration < time.Hour {
		return fmt.Sprintf("%dm", int(duration.Minutes()))
	} else if duration < 24*time.Hour {
		return fmt.Sprintf("%dh", int(duration.Hours()))
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	} else if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
