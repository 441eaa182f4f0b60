package theme

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailchain-connector-imap/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue   = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen  = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed    = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorGray   = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite  = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorBorder = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for section headers.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// LabelStyle is used for setting names.
var LabelStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Width(22)

// ValueStyle is used for setting values.
var ValueStyle = lipgloss.NewStyle().
	Bold(true)

// HelpStyle is used for hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// BorderStyle provides a standard rounded border for panels.
var BorderStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// OKStyle and ErrorStyle mark check results.
var (
	OKStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorGreen)
	ErrorStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorRed)
)

// StateStyle returns a color-coded style for a sync loop state name.
func StateStyle(state string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)

	switch state {
	case "polling":
		return base.Foreground(ColorYellow)
	case "sleeping":
		return base.Foreground(ColorBlue)
	default:
		return base.Foreground(ColorGray)
	}
}

// Row renders one "label  value" line.
func Row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

// IntervalLabel renders a polling interval, adding minutes when it is over
// a minute, e.g. "300 seconds (5 minutes)".
func IntervalLabel(d time.Duration) string {
	secs := int(d / time.Second)
	if d > time.Minute {
		return fmt.Sprintf("%d seconds (%s minutes)", secs,
			strings.TrimSuffix(fmt.Sprintf("%.1f", d.Minutes()), ".0"))
	}
	return fmt.Sprintf("%d seconds", secs)
}

// MainnetLabel describes where mainnet messages go.
func MainnetLabel(toInbox bool) string {
	if toInbox {
		return "To Inbox"
	}
	return "To Mainnet Folder"
}

// Settings renders the connector configuration for print-config. The
// password is never shown.
func Settings(cfg *model.Config, passwordSet bool) string {
	password := "(not set)"
	if passwordSet {
		password = "(stored)"
	}
	imapSecurity := "none"
	switch {
	case cfg.IMAP.SSL:
		imapSecurity = "SSL/TLS"
	case cfg.IMAP.StartTLS:
		imapSecurity = "STARTTLS"
	}

	imap := strings.Join([]string{
		HeaderStyle.Render("IMAP Settings"),
		Row("Server", cfg.IMAP.Server),
		Row("Port", fmt.Sprint(cfg.IMAP.Port)),
		Row("Username", cfg.IMAP.Username),
		Row("Password", password),
		Row("Security", imapSecurity),
	}, "\n")

	mailchain := strings.Join([]string{
		HeaderStyle.Render("Mailchain Settings"),
		Row("API", cfg.APIBaseURL()),
		Row("Folder Structure", cfg.Mailchain.Folders.Label()),
		Row("Mainnet Messages", MainnetLabel(cfg.Mailchain.MainnetToInbox)),
		Row("Polling Interval", IntervalLabel(cfg.PollInterval())),
	}, "\n")

	local := strings.Join([]string{
		HeaderStyle.Render("Local State"),
		Row("Ledger", cfg.LedgerPath()),
		Row("Log File", cfg.LogPath()),
	}, "\n")

	return BorderStyle.Render(strings.Join([]string{imap, mailchain, local}, "\n\n"))
}
