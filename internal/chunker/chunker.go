package chunker

import "strings"

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200

	// boundaryLookback is how far back from a window end we look for a
	// sentence terminator or line break to cut on.
	boundaryLookback = 100
)

// Chunker splits extracted document text into overlapping windows.
// Sizes are counted in runes.
type Chunker struct {
	Size    int
	Overlap int
}

// New returns a Chunker with sane bounds: the overlap is always smaller
// than the window so the scan keeps moving forward.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split is shorthand for New(size, overlap).Split(text).
func Split(text string, size, overlap int) []string {
	return New(size, overlap).Split(text)
}

// Split returns the non-empty, trimmed chunks of text.
func (c *Chunker) Split(text string) []string {
	runes := []rune(text)
	n := len(runes)

	if n <= c.Size {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < n {
		end := start + c.Size
		if end >= n {
			end = n
		} else {
			end = c.cutPoint(runes, start, end)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= n {
			break
		}

		next := end - c.Overlap
		if next <= start {
			next = end
		}
		start = next
	}

	return chunks
}

// cutPoint moves end back to just after the last '.' or '\n' within the
// lookback range, provided that stays past start.
func (c *Chunker) cutPoint(runes []rune, start, end int) int {
	lo := end - boundaryLookback
	if lo < start {
		lo = start
	}
	for i := end - 1; i >= lo && i > start; i-- {
		if runes[i] == '.' || runes[i] == '\n' {
			return i + 1
		}
	}
	return end
}
