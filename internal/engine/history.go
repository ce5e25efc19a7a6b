package engine

import (
	"sync"
	"time"

	"github.com/swaytab/swaytab/internal/ipc"
	"github.com/swaytab/swaytab/internal/layout"
	"github.com/swaytab/swaytab/internal/rules"
)

// RecordStatus classifies an entry of the decision history.
type RecordStatus string

const (
	StatusNoMatch   RecordStatus = "no-match"
	StatusQueued    RecordStatus = "queued"
	StatusViolation RecordStatus = "violation"
	StatusApplied   RecordStatus = "applied"
	StatusDryRun    RecordStatus = "dry-run"
	StatusError     RecordStatus = "error"

	historyLimit = 128
)

// Record is one entry of the inspector history: either a decision made for
// an event or the outcome of dispatching a queued command.
type Record struct {
	Timestamp time.Time        `json:"timestamp"`
	Status    RecordStatus     `json:"status"`
	Change    ipc.WindowChange `json:"change,omitempty"`
	Window    int64            `json:"window,omitempty"`
	Rule      string           `json:"rule,omitempty"`
	Command   layout.Command   `json:"command,omitempty"`
	Trace     []rules.Check    `json:"trace,omitempty"`
	Error     string           `json:"error,omitempty"`
}

type history struct {
	mu      sync.Mutex
	entries []Record
	limit   int
}

func newHistory(limit int) *history {
	if limit <= 0 {
		limit = historyLimit
	}
	return &history{limit: limit}
}

func (h *history) add(entry Record) {
	entry.Trace = append([]rules.Check(nil), entry.Trace...)
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.limit {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.limit-1]
	}
	h.entries = append(h.entries, entry)
}

func (h *history) snapshot() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == 0 {
		return nil
	}
	out := make([]Record, len(h.entries))
	for i, entry := range h.entries {
		entry.Trace = append([]rules.Check(nil), entry.Trace...)
		out[i] = entry
	}
	return out
}
