package logging

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// Entry is one buffered log line.
type Entry struct {
	TS      string         `json:"ts"`
	Level   string         `json:"level"`
	Logger  string         `json:"logger,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Buffer keeps the most recent log entries in a ring.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool

	onEntry func(Entry)
}

// NewBuffer keeps up to size entries.
func NewBuffer(size int) *Buffer {
	if size < 1 {
		size = 1
	}
	return &Buffer{entries: make([]Entry, size)}
}

// SetOnEntry installs fn to be called for every entry after it is stored.
// fn runs on the logging goroutine and must not block or log.
func (b *Buffer) SetOnEntry(fn func(Entry)) {
	b.mu.Lock()
	b.onEntry = fn
	b.mu.Unlock()
}

func (b *Buffer) add(e Entry) {
	b.mu.Lock()
	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
	fn := b.onEntry
	b.mu.Unlock()

	if fn != nil {
		fn(e)
	}
}

// Entries returns buffered entries oldest first. A non-empty level keeps
// only that level; limit > 0 keeps only the newest limit entries.
func (b *Buffer) Entries(level string, limit int) []Entry {
	b.mu.Lock()
	var all []Entry
	if b.full {
		all = append(all, b.entries[b.next:]...)
	}
	all = append(all, b.entries[:b.next]...)
	b.mu.Unlock()

	out := all[:0:0]
	for _, e := range all {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out
}

// Core returns a zapcore.Core that writes into b.
func (b *Buffer) Core(enab zapcore.LevelEnabler) zapcore.Core {
	return &bufferCore{buf: b, enab: enab}
}

type bufferCore struct {
	buf    *Buffer
	enab   zapcore.LevelEnabler
	fields []zapcore.Field
}

func (c *bufferCore) Enabled(l zapcore.Level) bool { return c.enab.Enabled(l) }

func (c *bufferCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field(nil), c.fields...), fields...)
	return &clone
}

func (c *bufferCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *bufferCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	entry := Entry{
		TS:      e.Time.UTC().Format(time.RFC3339Nano),
		Level:   e.Level.String(),
		Logger:  e.LoggerName,
		Message: e.Message,
	}
	if len(enc.Fields) > 0 {
		entry.Fields = enc.Fields
	}
	c.buf.add(entry)
	return nil
}

func (c *bufferCore) Sync() error { return nil }
