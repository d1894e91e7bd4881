// Package output renders run progress and the final summary on the console.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/swarm/internal/optimizer"
	"github.com/wesleyorama2/swarm/internal/report"
)

const (
	clearLine = "\r\033[2K"

	ruleChar       = "━"
	progressFilled = "█"
	progressEmpty  = "░"
	barWidth       = 30

	// non-TTY writers get at most one progress line per interval
	plainInterval = 2 * time.Second
)

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// Console prints progress ticks and the run summary.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	isTTY  bool
	quiet  bool

	mu        sync.Mutex
	start     time.Time
	lastPlain time.Time
	live      bool
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	isTTY := cfg.ForceTTY || isTerminal(cfg.Writer)

	colors := DefaultColorScheme()
	switch {
	case cfg.NoColor:
		colors = NoColorScheme()
	case cfg.ForceColors:
		colors.forceColors()
	case !isTTY || !supportsColors():
		colors = NoColorScheme()
	}

	return &Console{
		writer: cfg.Writer,
		colors: colors,
		isTTY:  isTTY,
		quiet:  cfg.Quiet,
		start:  time.Now(),
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(simulation string, agents int, mode string) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.start = time.Now()
	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, 56))
	fmt.Fprintln(c.writer, rule)
	fmt.Fprintf(c.writer, "%s %s\n",
		c.colors.Title.Sprint(simulation),
		c.colors.Dim.Sprintf("[%d agents, %s]", agents, mode))
	fmt.Fprintln(c.writer, rule)
}

// Progress reports done of total ticks. On a terminal the line is redrawn in
// place; otherwise a plain line is printed at most every few seconds.
func (c *Console) Progress(done, total int64) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := time.Since(c.start)
	frac := 0.0
	if total > 0 {
		frac = float64(done) / float64(total)
	}

	if c.isTTY {
		fmt.Fprintf(c.writer, "%s%s %s %s",
			clearLine,
			renderBar(frac, barWidth),
			c.colors.Value.Sprintf("%3.0f%%", frac*100),
			c.colors.Dim.Sprintf("%d/%d ticks  %s", done, total, formatDuration(elapsed)))
		c.live = true
		return
	}

	if done < total && time.Since(c.lastPlain) < plainInterval {
		return
	}
	c.lastPlain = time.Now()
	fmt.Fprintf(c.writer, "[%s] progress %.0f%% (%d/%d ticks)\n", formatDuration(elapsed), frac*100, done, total)
}

// Println prints a status line, ending any live progress line first.
func (c *Console) Println(format string, args ...any) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLiveLocked()
	fmt.Fprintf(c.writer, format+"\n", args...)
}

func (c *Console) endLiveLocked() {
	if c.live {
		fmt.Fprintln(c.writer)
		c.live = false
	}
}

// PrintSummary prints the final report.
func (c *Console) PrintSummary(r *report.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLiveLocked()

	failed := r.Status == report.StatusFailed
	if c.quiet {
		if failed {
			fmt.Fprintln(c.writer, c.colors.Error.Sprint("FAILED"))
		} else {
			fmt.Fprintln(c.writer, c.colors.Success.Sprint("PASSED"))
		}
		return
	}

	status := c.colors.Success.Sprint("Completed ") + c.colors.SuccessIcon()
	if failed {
		status = c.colors.Error.Sprint("Failed ") + c.colors.ErrorIcon()
	}
	rule := c.colors.Rule.Sprint(strings.Repeat(ruleChar, 56))

	fmt.Fprintln(c.writer)
	fmt.Fprintln(c.writer, rule)
	fmt.Fprintf(c.writer, "%s - %s\n", c.colors.Title.Sprint(r.Simulation), status)
	fmt.Fprintln(c.writer, rule)

	c.field("Run", r.RunID)
	c.field("Generation", fmt.Sprintf("%d", r.Generation))
	c.field("Duration", formatDuration(time.Duration(r.ElapsedMS)*time.Millisecond))
	c.field("Agents", fmt.Sprintf("%d", len(r.Agents)))
	for _, sc := range r.Scenarios {
		c.field(sc.Scenario, fmt.Sprintf("%s executions, %d users × %d iterations, %d errors",
			formatNumber(sc.Executions), sc.Execution.NumberOfUsers, sc.Execution.Iterations, sc.Errors))
	}

	if len(r.Stats) > 0 {
		fmt.Fprintln(c.writer)
		fmt.Fprintln(c.writer, c.colors.Title.Sprint("Latency (ms):"))
		fmt.Fprintf(c.writer, "  %-24s %8s %8s %8s %8s %8s %8s\n", "tag", "count", "mean", "p75", "p95", "p99", "max")
		for _, s := range r.Stats {
			fmt.Fprintf(c.writer, "  %-24s %8d %8.2f %8.2f %8.2f %8.2f %8.2f\n",
				s.Tag, s.Count, s.Mean, s.P75, s.P95, s.P99, s.Max)
		}
	}

	if r.Optimizer != nil {
		fmt.Fprintln(c.writer)
		outcome := c.colors.SuccessIcon() + " " + c.colors.Success.Sprint(string(r.Optimizer.Outcome))
		if r.Optimizer.Outcome != optimizer.OutcomeConverged {
			outcome = c.colors.WarningIcon() + " " + c.colors.Warn.Sprint(string(r.Optimizer.Outcome))
		}
		fmt.Fprintf(c.writer, "%s %s after %d generations (%s)\n",
			c.colors.Title.Sprint("Optimizer:"), outcome, len(r.Optimizer.Generations), r.Optimizer.Mode)
		if r.Optimizer.ConfigPath != "" {
			c.field("Optimized", r.Optimizer.ConfigPath)
		}
	}

	if len(r.Errors) > 0 {
		fmt.Fprintln(c.writer)
		fmt.Fprintln(c.writer, c.colors.Error.Sprintf("Errors (%d):", len(r.Errors)))
		const shown = 10
		for i, e := range r.Errors {
			if i == shown {
				fmt.Fprintf(c.writer, "  ... and %d more\n", len(r.Errors)-shown)
				break
			}
			fmt.Fprintf(c.writer, "  %s %s\n", c.colors.ErrorIcon(), e)
		}
	}
	fmt.Fprintln(c.writer)
}

func (c *Console) field(label, value string) {
	fmt.Fprintf(c.writer, "%s %s\n", c.colors.Label.Sprintf("%-14s", label+":"), c.colors.Value.Sprint(value))
}

func renderBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %02dm %02ds", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}
	var b strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		b.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if b.Len() > 0 {
			b.WriteString(",")
		}
		b.WriteString(str[i : i+3])
	}
	return b.String()
}
