package generation

import (
	"strings"
	"time"
	"unicode/utf8"
)

// flushBuffer batches streamed tokens into chunk writes. A flush is due once the
// buffer holds at least minChars characters and interval has passed since the
// previous flush.
type flushBuffer struct {
	b         strings.Builder
	chars     int
	minChars  int
	interval  time.Duration
	lastFlush time.Time
}

func newFlushBuffer(minChars int, interval time.Duration, start time.Time) *flushBuffer {
	return &flushBuffer{minChars: minChars, interval: interval, lastFlush: start}
}

func (f *flushBuffer) write(s string) {
	f.b.WriteString(s)
	f.chars += utf8.RuneCountInString(s)
}

func (f *flushBuffer) empty() bool { return f.b.Len() == 0 }

func (f *flushBuffer) due(now time.Time) bool {
	return f.chars >= f.minChars && now.Sub(f.lastFlush) >= f.interval
}

// take drains the buffer and restarts the flush interval.
func (f *flushBuffer) take(now time.Time) string {
	s := f.b.String()
	f.b.Reset()
	f.chars = 0
	f.lastFlush = now
	return s
}
