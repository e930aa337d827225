package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultTitle heads rendered reports.
const DefaultTitle = "DEVELOPER TESTING REPORT"

const ruleWidth = 80

// Renderer formats a RunReport as plain text.
type Renderer struct {
	Title        string
	ErrorLimit   int
	WarningLimit int
	APICallLimit int
	// APIPathFragment selects the calls listed in the network section.
	APIPathFragment string
}

// NewRenderer returns a renderer with the standard list limits.
func NewRenderer(title string) *Renderer {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	return &Renderer{
		Title:           title,
		ErrorLimit:      10,
		WarningLimit:    10,
		APICallLimit:    20,
		APIPathFragment: DefaultAPIPathFragment,
	}
}

// Render produces the report text. The same report always renders identically.
func (r *Renderer) Render(rep *RunReport) string {
	if rep == nil {
		return ""
	}
	rule := strings.Repeat("=", ruleWidth)
	var b strings.Builder

	section := func(title string) {
		fmt.Fprintf(&b, "\n%s\n%s\n%s\n\n", rule, title, rule)
	}

	fmt.Fprintf(&b, "%s\n%s\n%s\n\n", rule, r.Title, rule)
	fmt.Fprintf(&b, "Run ID: %s\n", rep.RunID)
	fmt.Fprintf(&b, "Test Duration: %.2f seconds\n", rep.Duration.Seconds())
	fmt.Fprintf(&b, "Timestamp: %s\n", rep.FinishedAt.Format(time.RFC3339))

	section("1. TEST RESULTS SUMMARY")
	fmt.Fprintf(&b, "Total Tests: %d\n", len(rep.Results))
	fmt.Fprintf(&b, "Passed: %d\n", rep.Passed())
	fmt.Fprintf(&b, "Failed: %d\n", rep.Failed())
	b.WriteString("\nDetailed Results:\n")
	for _, res := range rep.Results {
		status := "PASS"
		if !res.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "\n[%s] %s\n", status, res.Name)
		for _, k := range sortedKeys(res.Details) {
			fmt.Fprintf(&b, "  %s: %v\n", k, res.Details[k])
		}
	}

	section("2. CONSOLE ANALYSIS")
	errs, warns := rep.Errors(), rep.Warnings()
	fmt.Fprintf(&b, "Total Console Messages: %d\n", len(rep.ConsoleEvents))
	fmt.Fprintf(&b, "Errors: %d\n", len(errs))
	fmt.Fprintf(&b, "Warnings: %d\n", len(warns))
	if len(errs) > 0 {
		b.WriteString("\nERRORS FOUND:\n")
		for _, ev := range firstN(errs, r.ErrorLimit) {
			fmt.Fprintf(&b, "  - %s\n", ev.Message)
		}
		writeMore(&b, len(errs), r.ErrorLimit)
	}
	if len(warns) > 0 {
		b.WriteString("\nWARNINGS FOUND:\n")
		for _, ev := range firstN(warns, r.WarningLimit) {
			fmt.Fprintf(&b, "  - %s\n", ev.Message)
		}
		writeMore(&b, len(warns), r.WarningLimit)
	}

	section("3. NETWORK ANALYSIS")
	api := SummarizeAPICalls(rep.NetworkEvents, r.APIPathFragment)
	fmt.Fprintf(&b, "Total Requests: %d\n", len(rep.NetworkEvents))
	fmt.Fprintf(&b, "API Calls: %d\n", len(api.Calls))
	if len(api.Calls) > 0 {
		b.WriteString("\nAPI Request Summary:\n")
		for _, call := range firstN(api.Calls, r.APICallLimit) {
			status := "pending"
			if call.Status != nil {
				status = fmt.Sprintf("%d", *call.Status)
			}
			fmt.Fprintf(&b, "  [%s] %s - Status: %s\n", call.Method, call.URL, status)
		}
		writeMore(&b, len(api.Calls), r.APICallLimit)
	}
	if avg, ok := AverageResponseLatency(rep.NetworkEvents); ok {
		fmt.Fprintf(&b, "\nAverage Response Time: %.2fms\n", avg)
	} else {
		fmt.Fprintf(&b, "\nAverage Response Time: %s\n", Undefined)
	}

	section("4. PERFORMANCE METRICS")
	for _, m := range rep.Metrics {
		fmt.Fprintf(&b, "%s: %v\n", m.Name, m.Value)
	}

	section("5. OVERALL ASSESSMENT")
	fmt.Fprintf(&b, "Technical Quality Rating: %d/%d\n", rep.Rating, MaxRating)
	for _, d := range rep.Deductions {
		fmt.Fprintf(&b, "  -%d %s (%d)\n", d.Points, d.Rule, d.Count)
	}
	b.WriteString("\nKey Findings:\n")
	for _, f := range rep.Findings {
		fmt.Fprintf(&b, "  * %s\n", f)
	}
	fmt.Fprintf(&b, "\n%s\n", rule)
	return b.String()
}

// WriteFile renders rep and writes it to path, creating parent directories.
func (r *Renderer) WriteFile(path string, rep *RunReport) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(r.Render(rep)), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func firstN[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[:n]
}

func writeMore(b *strings.Builder, total, limit int) {
	if limit > 0 && total > limit {
		fmt.Fprintf(b, "  ... and %d more\n", total-limit)
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
