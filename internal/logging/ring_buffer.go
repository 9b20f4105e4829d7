package logging

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/flowlab/oauth-playground/internal/util"
	log "github.com/sirupsen/logrus"
)

// DefaultBufferSize is the default capacity of the console buffer.
const DefaultBufferSize = 500

// LogEntry is a single line shown in the wizard console panel.
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Source    string                 `json:"source,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// RingBuffer keeps the most recent log entries and fans new ones out to
// subscribers. It implements logrus.Hook.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int

	subMu sync.Mutex
	subs  map[chan LogEntry]struct{}
}

// NewRingBuffer creates a buffer holding up to capacity entries.
// If capacity is 0 or negative, DefaultBufferSize is used.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
		subs:     make(map[chan LogEntry]struct{}),
	}
}

// Levels returns every level; the console shows all of them.
func (rb *RingBuffer) Levels() []log.Level {
	return log.AllLevels
}

// Fire implements logrus.Hook.
func (rb *RingBuffer) Fire(entry *log.Entry) error {
	level := entry.Level.String()
	if level == "warning" {
		level = "warn"
	}
	source := ""
	if entry.Caller != nil {
		source = fmt.Sprintf("%s:%d", filepath.Base(entry.Caller.File), entry.Caller.Line)
	}
	var fields map[string]interface{}
	if len(entry.Data) > 0 {
		fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if util.IsSensitiveKey(k) {
				v = util.RedactedValue
			}
			fields[k] = v
		}
	}
	rb.Write(LogEntry{
		Timestamp: entry.Time,
		Level:     level,
		Message:   entry.Message,
		Source:    source,
		Fields:    fields,
	})
	return nil
}

// Write appends an entry and notifies subscribers without blocking.
func (rb *RingBuffer) Write(entry LogEntry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.capacity
	if rb.count < rb.capacity {
		rb.count++
	}
	rb.mu.Unlock()

	rb.subMu.Lock()
	for ch := range rb.subs {
		select {
		case ch <- entry:
		default:
			// slow subscriber, drop
		}
	}
	rb.subMu.Unlock()
}

// Entries returns a copy of the buffered entries, oldest first.
func (rb *RingBuffer) Entries() []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	out := make([]LogEntry, rb.count)
	if rb.count < rb.capacity {
		copy(out, rb.entries[:rb.count])
	} else {
		n := copy(out, rb.entries[rb.head:])
		copy(out[n:], rb.entries[:rb.head])
	}
	for i := range out {
		if out[i].Fields == nil {
			continue
		}
		fields := make(map[string]interface{}, len(out[i].Fields))
		for k, v := range out[i].Fields {
			fields[k] = v
		}
		out[i].Fields = fields
	}
	return out
}

// Recent returns the n most recent entries, oldest first.
func (rb *RingBuffer) Recent(n int) []LogEntry {
	entries := rb.Entries()
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

// Len returns the number of buffered entries.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear drops all buffered entries.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.head = 0
	rb.count = 0
	for i := range rb.entries {
		rb.entries[i] = LogEntry{}
	}
}

// Subscribe returns a channel receiving every entry written after the call
// and a function that cancels the subscription.
func (rb *RingBuffer) Subscribe(buffer int) (<-chan LogEntry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan LogEntry, buffer)
	rb.subMu.Lock()
	rb.subs[ch] = struct{}{}
	rb.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			rb.subMu.Lock()
			delete(rb.subs, ch)
			rb.subMu.Unlock()
			close(ch)
		})
	}
}

// Console is the process-wide buffer attached by SetupBaseLogger.
var Console = NewRingBuffer(DefaultBufferSize)
