package sandbox

import (
	"strings"
	"sync"
	"unicode/utf8"
)

const truncatedMarker = "...[truncated]\n"

// outputBuffer collects console lines up to a byte limit
type outputBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	limit     int
	truncated bool
}

func newOutputBuffer(limit int) *outputBuffer {
	return &outputBuffer{limit: limit}
}

func (b *outputBuffer) writeLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.limit <= 0 || b.truncated {
		return
	}

	line += "\n"
	if b.buf.Len()+len(line) > b.limit {
		// cut on a rune boundary
		cut := b.limit - b.buf.Len()
		for cut > 0 && !utf8.RuneStart(line[cut]) {
			cut--
		}
		b.buf.WriteString(line[:cut])
		b.buf.WriteString(truncatedMarker)
		b.truncated = true
		return
	}
	b.buf.WriteString(line)
}

func (b *outputBuffer) take() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.buf.String()
	b.buf.Reset()
	b.truncated = false
	return out
}
