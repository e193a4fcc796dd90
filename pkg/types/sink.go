package types

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Sink receives diagnostics. A Sink shared between goroutines must be safe
// for concurrent use.
type Sink func(Diagnostic)

// Discard drops every diagnostic.
func Discard(Diagnostic) {}

var defaultSink atomic.Pointer[Sink]

// DefaultSink returns the process-wide sink used when a caller passes a nil
// Sink. It discards until SetDefaultSink installs something else.
func DefaultSink() Sink {
	if s := defaultSink.Load(); s != nil && *s != nil {
		return *s
	}
	return Discard
}

// SetDefaultSink installs the process-wide sink. A nil sink restores Discard.
func SetDefaultSink(s Sink) {
	if s == nil {
		defaultSink.Store(nil)
		return
	}
	defaultSink.Store(&s)
}

// OrDefault returns s, or the process-wide sink if s is nil.
func (s Sink) OrDefault() Sink {
	if s == nil {
		return DefaultSink()
	}
	return s
}

// WriterSink writes one line per diagnostic to w.
func WriterSink(w io.Writer) Sink {
	var mu sync.Mutex
	return func(d Diagnostic) {
		mu.Lock()
		fmt.Fprintln(w, d.Message)
		mu.Unlock()
	}
}

// LogSink prints diagnostics through a standard logger.
func LogSink(l *log.Logger) Sink {
	return func(d Diagnostic) {
		l.Printf("%s", d.Message)
	}
}

// ZerologSink logs diagnostics as structured warnings. fields are attached to
// every event, e.g. the name of the expression being evaluated.
func ZerologSink(l zerolog.Logger, fields map[string]string) Sink {
	return func(d Diagnostic) {
		ev := l.Warn().
			Str("tag", string(d.Tag)).
			Str("class", d.Tag.Class().String())
		for k, v := range fields {
			ev = ev.Str(k, v)
		}
		ev.Msg(d.Message)
	}
}

// Multi fans a diagnostic out to every non-nil sink.
func Multi(sinks ...Sink) Sink {
	return func(d Diagnostic) {
		for _, s := range sinks {
			if s != nil {
				s(d)
			}
		}
	}
}

// Collector records diagnostics in arrival order.
type Collector struct {
	mu    sync.Mutex
	diags []Diagnostic
}

// Sink returns a Sink appending to c.
func (c *Collector) Sink() Sink {
	return func(d Diagnostic) {
		c.mu.Lock()
		c.diags = append(c.diags, d)
		c.mu.Unlock()
	}
}

// Diagnostics returns a copy of everything collected so far.
func (c *Collector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.diags))
	copy(out, c.diags)
	return out
}

// Has reports whether a diagnostic with the given tag was collected.
func (c *Collector) Has(tag Tag) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.diags {
		if d.Tag == tag {
			return true
		}
	}
	return false
}

// Len returns the number of collected diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diags)
}

// Reset clears the collector.
func (c *Collector) Reset() {
	c.mu.Lock()
	c.diags = nil
	c.mu.Unlock()
}
