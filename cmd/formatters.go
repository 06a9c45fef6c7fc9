package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"seclog/core"
	"seclog/detect"
	"seclog/service"
	"seclog/storage"

	"github.com/fatih/color"
)

// renderRecordsTable displays records in a formatted table
func renderRecordsTable(records []core.LogRecord, sourceCounts map[string]int) {
	if len(records) == 0 {
		warningColor.Println("No records found")
		return
	}

	headerColor.Println("LOG RECORDS")
	headerColor.Println(strings.Repeat("=", 120))
	fmt.Printf("%-20s %-12s %-18s %-8s %-14s %-12s %s\n",
		"Timestamp", "Logfile", "Source", "EventID", "Type", "Severity", "Message")
	fmt.Println(strings.Repeat("-", 120))

	for _, r := range records {
		fmt.Printf("%-20s %-12s %-18s %-8s %-14s %-12s %s\n",
			formatTime(r.Timestamp),
			truncate(string(r.Logfile), 12),
			truncate(r.Source, 18),
			truncate(r.EventID, 8),
			truncate(string(r.EventType), 14),
			formatSeverity(r.Severity),
			truncate(firstLine(r.Message), 60))
	}

	fmt.Println(strings.Repeat("=", 120))
	fmt.Printf("Shown: %d", len(records))
	if len(sourceCounts) > 0 {
		fmt.Printf("  Matches by source: %s", formatCounts(sourceCounts))
	}
	fmt.Println()
}

// renderSyncResult prints the outcome of a foreground fetch
func renderSyncResult(res service.SyncResult) {
	infoColor.Printf("Fetched %d records: %d new, %d duplicate, %d rejected\n",
		res.Fetched, res.Inserted, res.Duplicates, res.Rejected)
	for _, msg := range res.ErrorMessages() {
		errorColor.Printf("✗ %s\n", msg)
	}
	for _, alert := range res.NewAlerts {
		warningColor.Printf("! Alert: %s (%s)\n", alert.RuleName, alert.Description)
	}
}

// renderSummary prints the ranked breakdowns of a summary
func renderSummary(s core.Summary) {
	headerColor.Printf("SUMMARY (%d records)\n", s.Total)
	headerColor.Println(strings.Repeat("=", 60))
	if s.Total == 0 {
		warningColor.Println("No records found")
		return
	}

	printRanked("Event IDs", s.EventIDs)
	printRanked("Sources", s.Sources)
	printRanked("Event types", s.EventTypes)
	printRanked("Severities", s.Severities)

	printSection("Hourly")
	for _, bin := range s.Hourly {
		fmt.Printf("  %s  %6d\n", bin.Hour.Format("2006-01-02 15:00"), bin.Count)
	}
	fmt.Println()
}

func printRanked(title string, entries []core.CountEntry) {
	printSection(title)
	for _, e := range entries {
		fmt.Printf("  %-30s %6d\n", truncate(e.Key, 30), e.Count)
	}
	fmt.Println()
}

// renderAlertsTable displays alerts in a formatted table
func renderAlertsTable(alerts []core.Alert) {
	if len(alerts) == 0 {
		successColor.Println("✓ No alerts raised")
		return
	}

	headerColor.Println("ALERTS")
	headerColor.Println(strings.Repeat("=", 100))
	fmt.Printf("%-30s %-20s %-8s %-10s %-8s %s\n",
		"Rule", "Triggered", "Count", "Threshold", "Window", "Description")
	fmt.Println(strings.Repeat("-", 100))
	for _, a := range alerts {
		fmt.Printf("%-30s %-20s %-8s %-10s %-8s %s\n",
			truncate(a.RuleName, 30),
			formatTime(a.TriggerTime),
			a.CountString(),
			a.ThresholdString(),
			fmt.Sprintf("%dm", a.TimeWindowMinutes()),
			truncate(a.Description, 40))
	}
	fmt.Println(strings.Repeat("=", 100))
}

// renderIncidentsTable displays incidents in a formatted table
func renderIncidentsTable(incidents []core.Incident) {
	if len(incidents) == 0 {
		warningColor.Println("No incidents")
		return
	}

	headerColor.Println("INCIDENTS")
	headerColor.Println(strings.Repeat("=", 100))
	fmt.Printf("%-6s %-30s %-20s %-14s %s\n", "ID", "Rule", "Triggered", "Status", "Notes")
	fmt.Println(strings.Repeat("-", 100))
	for _, inc := range incidents {
		fmt.Printf("%-6d %-30s %-20s %-14s %s\n",
			inc.ID,
			truncate(inc.RuleName, 30),
			formatTime(inc.TriggerTime),
			formatStatus(inc.Status),
			truncate(firstLine(inc.Notes), 40))
	}
	fmt.Println(strings.Repeat("=", 100))
}

// renderRetentionResult prints the outcome of a retention run
func renderRetentionResult(res storage.RetentionResult) {
	if res.Deleted == 0 && res.Archived == 0 {
		successColor.Printf("✓ Nothing older than %s\n", formatTime(res.Cutoff))
		return
	}
	successColor.Printf("✓ Removed %d records older than %s\n", res.Deleted, formatTime(res.Cutoff))
	if res.ArchivePath != "" {
		printField("Archived rows", fmt.Sprintf("%d", res.Archived))
		printField("Archive", res.ArchivePath)
	}
}

// renderArchivesTable displays the archive manifest
func renderArchivesTable(archives []storage.Archive) {
	if len(archives) == 0 {
		warningColor.Println("No archives")
		return
	}

	headerColor.Println("ARCHIVES")
	headerColor.Println(strings.Repeat("=", 110))
	fmt.Printf("%-38s %-20s %-8s %s\n", "ID", "Cutoff", "Rows", "Path")
	fmt.Println(strings.Repeat("-", 110))
	for _, a := range archives {
		fmt.Printf("%-38s %-20s %-8d %s\n", a.ID, formatTime(a.Cutoff), a.RowCount, a.Path)
	}
	fmt.Println(strings.Repeat("=", 110))
}

// renderRuleCheck prints loaded rule counts and every dropped rule
func renderRuleCheck(file string, rules core.RuleSet, issues []detect.RuleIssue) {
	printSection("Rules: " + file)
	th, co := rules.Enabled()
	printField("Threshold rules", fmt.Sprintf("%d (%d enabled)", len(rules.Threshold), th))
	printField("Correlation rules", fmt.Sprintf("%d (%d enabled)", len(rules.Correlation), co))
	fmt.Println()

	if len(issues) == 0 {
		successColor.Println("✓ All rules valid")
		return
	}
	for _, issue := range issues {
		errorColor.Printf("✗ %s\n", issue.String())
	}
}

// printSection prints a section header
func printSection(title string) {
	headerColor.Printf("  %s\n", title)
	headerColor.Println("  " + strings.Repeat("─", len(title)))
}

// printField prints a key-value field
func printField(key, value string) {
	if value == "" {
		value = "(not set)"
	}
	fmt.Printf("  %-25s %s\n", key+":", value)
}

// formatStatus returns a colored incident status
func formatStatus(status core.IncidentStatus) string {
	switch status {
	case core.IncidentStatusOpen:
		return color.New(color.FgRed).Sprint(string(status))
	case core.IncidentStatusAcknowledged:
		return color.New(color.FgYellow).Sprint(string(status))
	case core.IncidentStatusClosed:
		return color.New(color.FgGreen).Sprint(string(status))
	default:
		return string(status)
	}
}

// formatSeverity returns a colored severity
func formatSeverity(sev core.Severity) string {
	s := fmt.Sprintf("%-12s", string(sev))
	switch sev {
	case core.SeverityCritical:
		return color.New(color.FgRed).Sprint(s)
	case core.SeverityWarning:
		return color.New(color.FgYellow).Sprint(s)
	default:
		return s
	}
}

// formatTime formats a timestamp in the storage layout
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "Never"
	}
	return core.FormatTimestamp(t)
}

func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// truncate shortens s to n runes, marking the cut with "..."
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
