package tiktok

import "bytes"

// maxPending bounds a frame that never closes; the buffer is discarded
// past this size.
const maxPending = 1 << 20

// frameAssembler splits a byte stream into complete top-level JSON objects.
// The broker may split one object across socket messages or pack several
// into one; braces inside strings are ignored.
type frameAssembler struct {
	buf      []byte
	depth    int
	inString bool
	escaped  bool
	start    int
	scanned  int
}

// Feed appends data and returns every object completed by it.
func (a *frameAssembler) Feed(data []byte) [][]byte {
	a.buf = append(a.buf, data...)
	var out [][]byte
	for i := a.scanned; i < len(a.buf); i++ {
		c := a.buf[i]
		if a.inString {
			switch {
			case a.escaped:
				a.escaped = false
			case c == '\\':
				a.escaped = true
			case c == '"':
				a.inString = false
			}
			continue
		}
		switch c {
		case '"':
			if a.depth > 0 {
				a.inString = true
			}
		case '{':
			if a.depth == 0 {
				a.start = i
			}
			a.depth++
		case '}':
			if a.depth == 0 {
				continue // stray closer between frames
			}
			a.depth--
			if a.depth == 0 {
				out = append(out, bytes.Clone(a.buf[a.start:i+1]))
			}
		}
	}
	a.compact()
	return out
}

// compact drops consumed bytes, keeping an open frame if there is one.
func (a *frameAssembler) compact() {
	if a.depth == 0 {
		a.buf = a.buf[:0]
		a.start, a.scanned = 0, 0
		return
	}
	if len(a.buf)-a.start > maxPending {
		a.Reset()
		return
	}
	n := copy(a.buf, a.buf[a.start:])
	a.buf = a.buf[:n]
	a.start = 0
	a.scanned = n
}

// Pending reports whether a partial frame is buffered.
func (a *frameAssembler) Pending() bool { return a.depth > 0 }

// Reset discards any partial frame.
func (a *frameAssembler) Reset() {
	a.buf = a.buf[:0]
	a.depth, a.start, a.scanned = 0, 0, 0
	a.inString, a.escaped = false, false
}
