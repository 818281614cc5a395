package toolwire

import "strings"

// Buffer accumulates streamed text in arrival order and tracks how much of it has been
// consumed by the scanner. Chunks are copied in; callers may reuse their slices.
type Buffer struct {
	text   strings.Builder
	cursor int
}

// Append adds a chunk to the end of the buffer.
func (b *Buffer) Append(chunk string) {
	b.text.WriteString(chunk)
}

// Text returns everything received so far.
func (b *Buffer) Text() string { return b.text.String() }

// Len returns the number of bytes received so far.
func (b *Buffer) Len() int { return b.text.Len() }

// Cursor returns the offset of the first unconsumed byte.
func (b *Buffer) Cursor() int { return b.cursor }

// Pending returns the unconsumed tail of the buffer.
func (b *Buffer) Pending() string { return b.text.String()[b.cursor:] }

// Advance moves the cursor to offset. The cursor never moves backwards or past the end.
func (b *Buffer) Advance(offset int) {
	if offset > b.text.Len() {
		offset = b.text.Len()
	}
	if offset > b.cursor {
		b.cursor = offset
	}
}

// Reset drops all text and rewinds the cursor.
func (b *Buffer) Reset() {
	b.text.Reset()
	b.cursor = 0
}
