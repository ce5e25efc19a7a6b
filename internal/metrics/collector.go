package metrics

import (
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector aggregates opt-in counters for rule evaluation and command
// dispatch. Counters are kept twice: as a JSON snapshot for the control
// socket and as Prometheus series for scraping.
type Collector struct {
	mu      sync.RWMutex
	enabled bool
	started time.Time
	rules   map[string]*RuleMetrics

	registry   *prometheus.Registry
	matched    *prometheus.CounterVec
	applied    *prometheus.CounterVec
	errors     *prometheus.CounterVec
	violations *prometheus.CounterVec
	duration   prometheus.Histogram
}

// RuleMetrics captures per-rule counters.
type RuleMetrics struct {
	Rule               string    `json:"rule"`
	Matched            uint64    `json:"matched"`
	Applied            uint64    `json:"applied"`
	DispatchErrors     uint64    `json:"dispatchErrors"`
	ContractViolations uint64    `json:"contractViolations"`
	LastMatched        time.Time `json:"lastMatched,omitempty"`
	LastApplied        time.Time `json:"lastApplied,omitempty"`
	LastErrored        time.Time `json:"lastErrored,omitempty"`
}

// Totals aggregates counters across all rules in a snapshot.
type Totals struct {
	Matched            uint64 `json:"matched"`
	Applied            uint64 `json:"applied"`
	DispatchErrors     uint64 `json:"dispatchErrors"`
	ContractViolations uint64 `json:"contractViolations"`
}

// Snapshot is the serializable view of the current metrics state.
type Snapshot struct {
	Enabled bool          `json:"enabled"`
	Started time.Time     `json:"started,omitempty"`
	Totals  Totals        `json:"totals"`
	Rules   []RuleMetrics `json:"rules,omitempty"`
}

// NewCollector returns a collector with the provided opt-in state.
func NewCollector(enabled bool) *Collector {
	c := &Collector{registry: prometheus.NewRegistry()}
	c.matched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swaytab",
		Name:      "rule_matched_total",
		Help:      "Decisions in which the rule produced a command.",
	}, []string{"rule"})
	c.applied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swaytab",
		Name:      "rule_applied_total",
		Help:      "Commands accepted by the window manager, by originating rule.",
	}, []string{"rule"})
	c.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swaytab",
		Name:      "dispatch_errors_total",
		Help:      "Commands rejected by the window manager, by originating rule.",
	}, []string{"rule"})
	c.violations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "swaytab",
		Name:      "contract_violations_total",
		Help:      "Decisions aborted because the snapshot contradicted the rule's shape.",
	}, []string{"rule"})
	c.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "swaytab",
		Name:      "dispatch_duration_seconds",
		Help:      "Time from submitting a command until the window manager replied.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
	c.registry.MustRegister(c.matched, c.applied, c.errors, c.violations, c.duration)
	c.SetEnabled(enabled)
	return c
}

// Enabled reports whether collection is currently active.
func (c *Collector) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetEnabled toggles collection, resetting the snapshot counters when
// enabling. Prometheus series are monotonic and only stop advancing.
func (c *Collector) SetEnabled(enabled bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if !enabled {
		c.rules = nil
		c.started = time.Time{}
		return
	}
	c.started = time.Now()
	c.rules = make(map[string]*RuleMetrics)
}

// RecordMatch counts a decision that produced a command.
func (c *Collector) RecordMatch(rule string) {
	if c == nil {
		return
	}
	c.updateRule(rule, c.matched, func(m *RuleMetrics, now time.Time) {
		m.Matched++
		m.LastMatched = now
	})
}

// RecordApplied counts a command the window manager accepted.
func (c *Collector) RecordApplied(rule string, took time.Duration) {
	if c == nil {
		return
	}
	if c.updateRule(rule, c.applied, func(m *RuleMetrics, now time.Time) {
		m.Applied++
		m.LastApplied = now
	}) {
		c.duration.Observe(took.Seconds())
	}
}

// RecordDispatchError counts a command the window manager rejected.
func (c *Collector) RecordDispatchError(rule string) {
	if c == nil {
		return
	}
	c.updateRule(rule, c.errors, func(m *RuleMetrics, now time.Time) {
		m.DispatchErrors++
		m.LastErrored = now
	})
}

// RecordContractViolation counts a decision aborted by a contract violation.
func (c *Collector) RecordContractViolation(rule string) {
	if c == nil {
		return
	}
	c.updateRule(rule, c.violations, func(m *RuleMetrics, now time.Time) {
		m.ContractViolations++
		m.LastErrored = now
	})
}

// updateRule reports whether the update was recorded.
func (c *Collector) updateRule(rule string, vec *prometheus.CounterVec, mutate func(*RuleMetrics, time.Time)) bool {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return false
	}
	if c.rules == nil {
		c.rules = make(map[string]*RuleMetrics)
	}
	m, ok := c.rules[rule]
	if !ok {
		m = &RuleMetrics{Rule: rule}
		c.rules[rule] = m
	}
	mutate(m, now)
	vec.WithLabelValues(rule).Inc()
	return true
}

// Snapshot returns the current counters for serialization or display.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{Enabled: c.enabled}
	if !c.enabled {
		return snap
	}
	snap.Started = c.started
	if len(c.rules) == 0 {
		return snap
	}
	snap.Rules = make([]RuleMetrics, 0, len(c.rules))
	for _, m := range c.rules {
		clone := *m
		snap.Rules = append(snap.Rules, clone)
		snap.Totals.Matched += clone.Matched
		snap.Totals.Applied += clone.Applied
		snap.Totals.DispatchErrors += clone.DispatchErrors
		snap.Totals.ContractViolations += clone.ContractViolations
	}
	sort.Slice(snap.Rules, func(i, j int) bool {
		return snap.Rules[i].Rule < snap.Rules[j].Rule
	})
	return snap
}

// Handler serves the Prometheus exposition of the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
