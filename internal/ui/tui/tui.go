package tui

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/swaytab/swaytab/internal/control"
)

const (
	defaultRefresh = 500 * time.Millisecond
	historyRows    = 12
)

// Source is the part of the control client the dashboard polls.
type Source interface {
	Status(ctx context.Context) (control.DaemonStatus, error)
	Inspect(ctx context.Context) (control.InspectorSnapshot, error)
}

// Renderer periodically polls the daemon and renders a textual dashboard.
type Renderer struct {
	Source  Source
	Writer  io.Writer
	Refresh time.Duration
}

// New returns a renderer with the default refresh interval.
func New(src Source, w io.Writer) *Renderer {
	return &Renderer{Source: src, Writer: w, Refresh: defaultRefresh}
}

// Run renders until the context is cancelled.
func (r *Renderer) Run(ctx context.Context) error {
	if r.Writer == nil {
		r.Writer = os.Stdout
	}
	if r.Source == nil {
		return errors.New("dashboard requires a control client")
	}
	refresh := r.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}

	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	fmt.Fprint(r.Writer, "\033[?25l")
	defer fmt.Fprint(r.Writer, "\033[?25h")

	r.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.render(ctx)
		}
	}
}

func (r *Renderer) render(ctx context.Context) {
	var buf bytes.Buffer
	buf.WriteString("\033[H\033[2J")
	buf.WriteString("swaytab: Ctrl+C to exit\n")
	buf.WriteString(time.Now().Format(time.RFC1123))
	buf.WriteString("\n\n")

	st, err := r.Source.Status(ctx)
	if err == nil {
		var snap control.InspectorSnapshot
		if snap, err = r.Source.Inspect(ctx); err == nil {
			buf.WriteString(Frame(st, snap))
		}
	}
	if err != nil {
		fmt.Fprintf(&buf, "error: %v\n", err)
	}
	fmt.Fprint(r.Writer, buf.String())
}

// Frame renders one dashboard frame without terminal control sequences.
func Frame(st control.DaemonStatus, snap control.InspectorSnapshot) string {
	var b strings.Builder
	b.WriteString(renderStatus(st))
	b.WriteString(renderRules(snap.Rules))
	b.WriteString(renderHistory(snap.History))
	return b.String()
}

func renderStatus(st control.DaemonStatus) string {
	var b strings.Builder
	mode := "live"
	if st.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(&b, "Engine: %s, %d events, %d decisions\n", mode, st.Events, st.Decisions)
	fmt.Fprintf(&b, "Queue: %d/%d  Dispatcher: %s, %d submitted\n",
		st.QueueLen, st.QueueCap, st.Dispatcher.State, st.Dispatcher.Submitted)
	if st.Dispatcher.Last != "" {
		fmt.Fprintf(&b, "Last command: %s\n", st.Dispatcher.Last)
	}
	if st.Snapshot != nil {
		fmt.Fprintf(&b, "Tree: %d outputs, %d workspaces, %d windows\n",
			st.Snapshot.Outputs, st.Snapshot.Workspaces, st.Snapshot.Windows)
	}
	b.WriteByte('\n')
	return b.String()
}

func renderRules(rules []control.RuleStatus) string {
	var b strings.Builder
	b.WriteString("Rules:\n")
	if len(rules) == 0 {
		b.WriteString("  (none)\n\n")
		return b.String()
	}
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for _, r := range rules {
		state := "on"
		if !r.Enabled {
			state = "off"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", r.Name, r.Trigger, state)
	}
	tw.Flush()
	b.WriteByte('\n')
	return b.String()
}

func renderHistory(history []control.Record) string {
	var b strings.Builder
	b.WriteString("Recent:\n")
	if len(history) == 0 {
		b.WriteString("  (no decisions yet)\n")
		return b.String()
	}
	if len(history) > historyRows {
		history = history[len(history)-historyRows:]
	}
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	for i := len(history) - 1; i >= 0; i-- {
		rec := history[i]
		detail := string(rec.Command)
		if rec.Error != "" {
			detail = rec.Error
		}
		rule := rec.Rule
		if rule == "" {
			rule = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", rec.Timestamp.Format("15:04:05"), rec.Status, rule, detail)
	}
	tw.Flush()
	return b.String()
}
