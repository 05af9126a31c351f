package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/shaneisley/placeahead/pkg/executor"
	"github.com/shaneisley/placeahead/pkg/metrics"
	"github.com/shaneisley/placeahead/pkg/provider"
	"github.com/shaneisley/placeahead/pkg/selection"
	"github.com/shaneisley/placeahead/pkg/session"
	"github.com/shaneisley/placeahead/pkg/storage"
)

const prefix = "[placeahead]"

// Reporter prints scheduler activity and selections to a terminal. It
// implements scheduler.Observer and selection.Sink.
type Reporter struct {
	mu      sync.Mutex
	writer  io.Writer
	quiet   bool
	verbose bool
	elapsed func() time.Duration

	dim     *color.Color
	accent  *color.Color
	good    *color.Color
	warn    *color.Color
	heading *color.Color
}

// NewReporter creates a new reporter writing to writer
func NewReporter(writer io.Writer) *Reporter {
	return &Reporter{
		writer:  writer,
		dim:     color.New(color.Faint),
		accent:  color.New(color.FgCyan),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		heading: color.New(color.Bold),
	}
}

// SetQuiet suppresses request and state lines; suggestions and selections
// are still printed
func (r *Reporter) SetQuiet(quiet bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quiet = quiet
}

// SetVerbose also prints every mode change
func (r *Reporter) SetVerbose(verbose bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verbose = verbose
}

// SetColor forces colored output on or off
func (r *Reporter) SetColor(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range []*color.Color{r.dim, r.accent, r.good, r.warn, r.heading} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// SetElapsed stamps every line with the offset returned by elapsed
func (r *Reporter) SetElapsed(elapsed func() time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.elapsed = elapsed
}

func (r *Reporter) line(format string, args ...interface{}) {
	stamp := ""
	if r.elapsed != nil {
		stamp = r.dim.Sprintf("+%-7s ", formatDuration(r.elapsed()))
	}
	fmt.Fprintf(r.writer, "%s%s %s\n", stamp, r.dim.Sprint(prefix), fmt.Sprintf(format, args...))
}

// OnStateChange reports a mode change in verbose mode
func (r *Reporter) OnStateChange(from, to session.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiet || !r.verbose {
		return
	}
	r.line("%s -> %s", from, to)
}

// OnRequest reports a request sent to the provider
func (r *Reporter) OnRequest(query string, token executor.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.quiet {
		return
	}
	r.line("request #%d %s", token.Seq, r.accent.Sprintf("%q", query))
}

// OnSuggestions prints an applied suggestion list
func (r *Reporter) OnSuggestions(result executor.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if result.Failed() {
		r.line("%s", r.warn.Sprintf("no suggestions for %q (%v)", result.Query, result.Err))
		return
	}
	if len(result.Suggestions) == 0 {
		r.line("no suggestions for %q", result.Query)
		return
	}

	r.line("%d suggestions for %q in %s", len(result.Suggestions), result.Query, formatDuration(result.Duration))
	r.writeSuggestions(result.Suggestions)
}

// Suggestions prints a numbered list
func (r *Reporter) Suggestions(suggestions []provider.Suggestion) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(suggestions) == 0 {
		fmt.Fprintln(r.writer, "No suggestions.")
		return
	}
	r.writeSuggestions(suggestions)
}

func (r *Reporter) writeSuggestions(suggestions []provider.Suggestion) {
	var builder strings.Builder
	for i, s := range suggestions {
		fmt.Fprintf(&builder, "  %s %s", r.heading.Sprintf("%d.", i+1), s.DisplayText)
		if s.Coordinates != nil {
			builder.WriteString(r.dim.Sprintf(" (%.5f, %.5f)", s.Coordinates.Lat, s.Coordinates.Lon))
		}
		if s.Metadata != "" {
			builder.WriteString(r.dim.Sprintf(" [%s]", s.Metadata))
		}
		builder.WriteByte('\n')
	}
	fmt.Fprint(r.writer, builder.String())
}

// OnSelection implements selection.Sink
func (r *Reporter) OnSelection(sel selection.Selection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case sel.Resolved():
		r.line("✅ %s at (%.5f, %.5f)", r.good.Sprint(sel.DisplayName), sel.Coordinates.Lat, sel.Coordinates.Lon)
	case sel.DisplayName == "":
		r.line("location cleared")
		return
	default:
		r.line("📍 %s (unresolved)", r.warn.Sprint(sel.DisplayName))
	}
	if sel.DerivedURL != "" {
		fmt.Fprintf(r.writer, "  %s\n", r.dim.Sprint(sel.DerivedURL))
	}
}

// Error reports a non-fatal problem with a user command
func (r *Reporter) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line("%s", r.warn.Sprint(err.Error()))
}

// FinalSummary reports the session counters
func (r *Reporter) FinalSummary(summary *metrics.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.writer, "\n%s\n", r.heading.Sprint("Session Statistics:"))
	fmt.Fprintf(r.writer, "  Requests Issued: %d\n", summary.Issued)
	fmt.Fprintf(r.writer, "  Delivered: %d\n", summary.Delivered)
	fmt.Fprintf(r.writer, "  Applied: %d\n", summary.Applied)
	fmt.Fprintf(r.writer, "  Cancelled: %d\n", summary.Cancelled)
	fmt.Fprintf(r.writer, "  Stale Discarded: %d\n", summary.Stale)
	fmt.Fprintf(r.writer, "  Failed: %d\n", summary.Failed)
	fmt.Fprintf(r.writer, "  Held By Cooldown: %d\n", summary.SuppressedTicks)
	fmt.Fprintf(r.writer, "  Average Latency: %s\n",
		formatDuration(time.Duration(summary.AverageLatencySecond*float64(time.Second))))
}

// Stats prints the aggregated request log
func (r *Reporter) Stats(stats *storage.AggregatedStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.writer, "%s\n", r.heading.Sprint("Provider Requests:"))
	fmt.Fprintf(r.writer, "  Period: %s to %s\n",
		stats.TimeRange.Start.Format(time.DateTime), stats.TimeRange.End.Format(time.DateTime))
	if stats.TotalRequests == 0 {
		fmt.Fprintln(r.writer, "  No requests recorded.")
		return
	}

	fmt.Fprintf(r.writer, "  Total: %d\n", stats.TotalRequests)
	fmt.Fprintf(r.writer, "  Delivered: %d\n", stats.Delivered)
	fmt.Fprintf(r.writer, "  Failed: %d (%.1f%%)\n", stats.Failed, stats.FailureRate*100)
	if stats.RateLimited > 0 {
		fmt.Fprintf(r.writer, "  Rate Limited: %s\n", r.warn.Sprint(stats.RateLimited))
	}
	fmt.Fprintf(r.writer, "  Cancelled: %d\n", stats.Cancelled)
	fmt.Fprintf(r.writer, "  Average Latency: %s\n", formatDuration(stats.AverageDuration))
	fmt.Fprintf(r.writer, "  Average Results: %.1f\n", stats.AverageResults)

	if len(stats.TopQueries) > 0 {
		fmt.Fprintf(r.writer, "\n%s\n", r.heading.Sprint("Top Queries:"))
		for i, q := range stats.TopQueries {
			fmt.Fprintf(r.writer, "  %2d. %-30s %4d  %s\n", i+1, q.Example, q.Count, r.dim.Sprint(formatDuration(q.AvgDuration)))
		}
	}
}

// formatDuration formats a duration in a human-readable way
func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	if d < time.Minute {
		seconds := float64(d) / float64(time.Second)
		if seconds == float64(int(seconds)) {
			return fmt.Sprintf("%.0fs", seconds)
		}
		formatted := fmt.Sprintf("%.2f", seconds)
		formatted = strings.TrimRight(formatted, "0")
		formatted = strings.TrimRight(formatted, ".")
		return formatted + "s"
	}

	minutes := d / time.Minute
	seconds := (d % time.Minute) / time.Second
	if seconds > 0 {
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	return fmt.Sprintf("%dm", minutes)
}
