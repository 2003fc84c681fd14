// Package chunker splits document text into overlapping, size-bounded chunks.
//
// Text is first cut on a separator; the pieces are then greedily merged into
// chunks of at most Size characters. When a chunk is emitted, pieces are dropped
// from its front until no more than Overlap characters remain, and those pieces
// open the next chunk. Lengths are counted in Unicode code points.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrEmptyInput is returned when there is no text to split or splitting yields no chunks.
var ErrEmptyInput = errors.New("text splitting resulted in empty chunks")

const (
	DefaultSize      = 800
	DefaultOverlap   = 100
	DefaultSeparator = "\n"
)

// Options controls chunk boundaries.
type Options struct {
	Size      int
	Overlap   int
	Separator string
}

// DefaultOptions returns 800-character chunks with 100 characters of overlap, split on newlines.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Overlap: DefaultOverlap, Separator: DefaultSeparator}
}

// Validate reports whether the options describe a usable splitter.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("chunk overlap must not be negative, got %d", o.Overlap)
	}
	if o.Overlap > o.Size {
		return fmt.Errorf("chunk overlap (%d) is larger than chunk size (%d)", o.Overlap, o.Size)
	}
	return nil
}

// Split breaks text into ordered chunks according to opts.
// A single piece longer than opts.Size is emitted as its own chunk.
func Split(text string, opts Options) ([]string, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("%w: input text is empty", ErrEmptyInput)
	}

	var pieces []string
	if opts.Separator == "" {
		pieces = splitRunes(text)
	} else {
		for _, p := range strings.Split(text, opts.Separator) {
			if p != "" {
				pieces = append(pieces, p)
			}
		}
	}

	chunks := merge(pieces, opts)
	if len(chunks) == 0 {
		return nil, ErrEmptyInput
	}
	return chunks, nil
}

func merge(pieces []string, opts Options) []string {
	sepLen := runeLen(opts.Separator)

	var (
		chunks  []string
		current []string
		total   int
	)

	// joinLen is the separator cost of appending to a window that already holds n pieces.
	joinLen := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}

	for _, piece := range pieces {
		n := runeLen(piece)

		if total+n+joinLen(len(current)) > opts.Size && len(current) > 0 {
			if c := join(current, opts.Separator); c != "" {
				chunks = append(chunks, c)
			}

			for total > opts.Overlap || (total+n+joinLen(len(current)) > opts.Size && total > 0) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}

		current = append(current, piece)
		total += n + joinLen(len(current)-1)
	}

	if c := join(current, opts.Separator); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

func join(pieces []string, sep string) string {
	return strings.TrimSpace(strings.Join(pieces, sep))
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
