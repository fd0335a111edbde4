// Package logsink defines the single-method logging capability the
// orchestrator pushes lifecycle events, diagnostic lines and RPC traffic to.
//
// Every message carries a tag so downstream consumers can route or colorize
// without parsing message text.
package logsink

import (
	"strings"
	"sync"
)

// Tags distinguishing message categories.
const (
	TagInfo    = "info"
	TagWarning = "warning"
	TagError   = "error"
	TagStdout  = "stdout"
	TagStderr  = "stderr"
	TagRPC     = "rpc"
)

// Sink receives human-readable status lines.
type Sink interface {
	Log(message, tag string)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(message, tag string)

// Log calls f(message, tag).
func (f SinkFunc) Log(message, tag string) {
	f(message, tag)
}

// Discard drops every message.
var Discard Sink = SinkFunc(func(string, string) {})

type multiSink []Sink

func (m multiSink) Log(message, tag string) {
	for _, s := range m {
		s.Log(message, tag)
	}
}

// Multi fans every message out to all given sinks, in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Entry is one message captured by a Recorder.
type Entry struct {
	Message string
	Tag     string
}

// Recorder is a Sink that keeps every message in memory. It is safe for
// concurrent use and is mostly useful in tests and for status surfaces that
// replay recent events.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Log records the message.
func (r *Recorder) Log(message, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Message: message, Tag: tag})
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Tagged returns the messages recorded with the given tag.
func (r *Recorder) Tagged(tag string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.Tag == tag {
			out = append(out, e.Message)
		}
	}
	return out
}

// Contains reports whether any message with the given tag contains substr.
// An empty tag matches every tag.
func (r *Recorder) Contains(tag, substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if tag != "" && e.Tag != tag {
			continue
		}
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

// Reset drops all recorded entries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
