package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"lexvault/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
	keyStyle   = lipgloss.NewStyle().Width(22)
)

// describeError turns an error into the message shown to the operator. The
// precondition failures each get their own actionable wording.
func describeError(err error) string {
	var rle *domain.RateLimitError
	switch {
	case errors.As(err, &rle):
		return fmt.Sprintf("rate limit exceeded: %d %s operations per %s; try again in %s",
			rle.Limit, rle.Operation, rle.Window, rle.RetryAfter.Round(time.Second))
	case errors.Is(err, domain.ErrConfirmationRequired):
		return "confirmation required: erasure is permanent, re-run with --yes to proceed"
	case errors.Is(err, domain.ErrConsentRequired):
		return "consent required before this operation: grant it with 'lexvault consent grant'"
	case errors.Is(err, domain.ErrAuditTampered):
		return "audit trail integrity check failed: " + err.Error()
	case errors.Is(err, domain.ErrStorage):
		return "storage failure: " + err.Error()
	}
	return err.Error()
}

// printKV writes one aligned key/value line.
func printKV(w io.Writer, key string, value any) {
	fmt.Fprintf(w, "  %s %v\n", keyStyle.Render(key), value)
}

// printCounts writes counts in the given key order, then any other keys
// sorted by name.
func printCounts(w io.Writer, counts map[string]int64, order []string) {
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		if n, ok := counts[k]; ok {
			printKV(w, k, n)
			seen[k] = true
		}
	}
	var rest []string
	for k := range counts {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		printKV(w, k, counts[k])
	}
}

func yesNo(b bool) string {
	if b {
		return okStyle.Render("yes")
	}
	return warnStyle.Render("no")
}

func formatDetails(details map[string]string) string {
	if len(details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + details[k]
	}
	return strings.Join(parts, " ")
}
