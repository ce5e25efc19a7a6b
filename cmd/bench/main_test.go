package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestPercentile(t *testing.T) {
	cases := []struct {
		name     string
		values   []time.Duration
		p        float64
		expected time.Duration
	}{
		{name: "empty", values: nil, p: 0.5, expected: 0},
		{name: "lower bound", values: []time.Duration{time.Millisecond, 2 * time.Millisecond}, p: -0.1, expected: time.Millisecond},
		{name: "upper bound", values: []time.Duration{time.Millisecond, 2 * time.Millisecond}, p: 1.2, expected: 2 * time.Millisecond},
		{name: "median", values: []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, p: 0.5, expected: 2 * time.Millisecond},
		{
			name:     "p95",
			values:   []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond, 5 * time.Millisecond},
			p:        0.95,
			expected: 5 * time.Millisecond,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentile(tc.values, tc.p); got != tc.expected {
				t.Fatalf("percentile(%s, %f) = %s, want %s", tc.name, tc.p, got, tc.expected)
			}
		})
	}
}

func TestEventsPerSecond(t *testing.T) {
	cases := []struct {
		name     string
		total    time.Duration
		events   int
		expected float64
	}{
		{name: "zero duration", total: 0, events: 10, expected: 0},
		{name: "zero events", total: time.Second, events: 0, expected: 0},
		{name: "positive", total: 10 * time.Millisecond, events: 4, expected: 400},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := eventsPerSecond(tc.total, tc.events)
			if math.Abs(got-tc.expected) > 1e-9 {
				t.Fatalf("eventsPerSecond(%s) = %f, want %f", tc.name, got, tc.expected)
			}
		})
	}
}

func TestRunDefaultFixture(t *testing.T) {
	var out bytes.Buffer
	opts := benchOptions{iterations: 2, warmup: 1, logLevel: "error", outputPath: "-"}
	if err := run(context.Background(), opts, &out); err != nil {
		t.Fatalf("run: %v", err)
	}
	var report benchReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	s := report.Summary
	if s.Fixture != "synthetic" || s.TotalEvents != 14 || len(report.DurationsMs) != 14 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.Commands != 6 || s.Violations != 0 {
		t.Fatalf("commands = %d, violations = %d, want 6 and 0", s.Commands, s.Violations)
	}
	matched := map[string]uint64{}
	for _, r := range s.Rules {
		matched[r.Rule] = r.Matched
	}
	want := map[string]uint64{"tab-new": 2, "tab-moved-middle": 2, "flatten-orphan-tab": 2}
	if diff := cmp.Diff(want, matched); diff != "" {
		t.Fatalf("per-rule matches (-want +got):\n%s", diff)
	}
}

func TestRunRejectsBadIterations(t *testing.T) {
	if err := run(context.Background(), benchOptions{iterations: 0}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for zero iterations")
	}
	if err := run(context.Background(), benchOptions{iterations: 1, warmup: -1}, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for negative warmup")
	}
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.json")
	data := `{
  "tree": {"id": 1, "type": "root", "nodes": [
    {"id": 4, "type": "workspace", "layout": "splith", "nodes": [
      {"id": 10, "type": "con"}, {"id": 11, "type": "con"}, {"id": 12, "type": "con"}
    ]}
  ]},
  "events": [
    {"change": "new", "container": {"id": 12}},
    {"change": "move", "container": {"id": 11}, "delay": "5ms"}
  ]
}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	fixture, err := loadFixture(path)
	if err != nil {
		t.Fatalf("loadFixture: %v", err)
	}
	if fixture.Name != "fixture.json" || len(fixture.Events) != 2 {
		t.Fatalf("unexpected fixture: %+v", fixture)
	}
	if ev := fixture.Events[1]; ev.Event.Change != "move" || ev.Event.Container.ID != 11 || ev.Delay != 5*time.Millisecond {
		t.Fatalf("unexpected second event: %+v", ev)
	}
}

func TestLoadFixtureRejectsIncomplete(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"no-tree.json":   `{"events": [{"change": "new", "container": {"id": 1}}]}`,
		"no-events.json": `{"tree": {"id": 1, "type": "root"}}`,
		"bad-delay.json": `{"tree": {"id": 1}, "events": [{"change": "new", "container": {"id": 1}, "delay": "soon"}]}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := loadFixture(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestPrintHumanSummary(t *testing.T) {
	summary := benchSummary{
		Fixture:            "test",
		Iterations:         2,
		EventsPerIteration: 3,
		TotalEvents:        6,
		Commands:           4,
		Latency:            benchLatencyStats{Min: 1, Mean: 2, Median: 1.5, P95: 3.5, Max: 4},
		Allocations:        benchAllocationStats{Total: 120, PerEvent: 20},
		EventsPerSecond:    300,
	}
	var buf bytes.Buffer
	if err := printHumanSummary(summary, &buf); err != nil {
		t.Fatalf("printHumanSummary returned error: %v", err)
	}
	output := buf.String()
	for _, c := range []string{
		"Events:",
		"6 (3 / iteration)",
		"min 1.000 | mean 2.000 | median 1.500 | p95 3.500 | max 4.000",
		"120 total (20.00 / event)",
	} {
		if !strings.Contains(output, c) {
			t.Fatalf("expected summary to contain %q, got:\n%s", c, output)
		}
	}
	if strings.Contains(output, "Contract violations") {
		t.Fatalf("violations line should be omitted when zero:\n%s", output)
	}
}
