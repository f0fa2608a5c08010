package stream

import (
	"bytes"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// readSize is the size of a single read from the response body.
const readSize = 4096

// lineBuffer accumulates decoded text across reads. It holds at most one
// incomplete trailing line; complete lines are returned once and dropped.
type lineBuffer struct {
	buf []byte
}

// Feed appends p and returns every line completed by it, without the newline.
func (b *lineBuffer) Feed(p []byte) []string {
	b.buf = append(b.buf, p...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(b.buf[start:], '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(b.buf[start:start+i]))
		start += i + 1
	}
	if start > 0 {
		b.buf = append(b.buf[:0], b.buf[start:]...)
	}
	return lines
}

// Rest returns the pending incomplete line.
func (b *lineBuffer) Rest() string {
	return string(b.buf)
}

// Reset discards the pending incomplete line.
func (b *lineBuffer) Reset() {
	b.buf = b.buf[:0]
}

// newTextReader wraps body with an incremental UTF-8 decoder. Multi-byte
// sequences split across reads are held back until complete, invalid bytes
// become U+FFFD and a leading byte order mark is dropped.
func newTextReader(body io.Reader) io.Reader {
	return transform.NewReader(body, unicode.UTF8BOM.NewDecoder())
}
