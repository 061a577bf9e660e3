package text

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Splitter cuts page text on a literal separator and greedily merges the
// pieces into chunks of at most size characters. Consecutive chunks share up
// to overlap characters of trailing pieces.
type Splitter struct {
	size      int
	overlap   int
	separator string
}

func NewSplitter(size, overlap int, separator string) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap > size {
		return nil, fmt.Errorf("chunk overlap %d must be within 0..%d", overlap, size)
	}
	return &Splitter{size: size, overlap: overlap, separator: separator}, nil
}

// Split returns the trimmed, non-empty chunks of text. A single piece longer
// than size becomes its own oversized chunk rather than being cut mid-word.
func (s *Splitter) Split(text string) []string {
	var pieces []string
	for _, p := range strings.Split(text, s.separator) {
		if p != "" {
			pieces = append(pieces, p)
		}
	}

	chunks := s.merge(pieces)
	if len(chunks) == 0 {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
	}
	return chunks
}

func (s *Splitter) merge(pieces []string) []string {
	sepLen := utf8.RuneCountInString(s.separator)
	joinCost := func(n int) int {
		if n > 0 {
			return sepLen
		}
		return 0
	}

	var chunks []string
	var current []string
	total := 0

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n+joinCost(len(current)) > s.size && len(current) > 0 {
			chunks = s.appendJoined(chunks, current)

			for len(current) > 0 && (total > s.overlap || (total+n+joinCost(len(current)) > s.size && total > 0)) {
				total -= utf8.RuneCountInString(current[0]) + joinCost(len(current)-1)
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n + joinCost(len(current)-1)
	}

	return s.appendJoined(chunks, current)
}

func (s *Splitter) appendJoined(chunks, pieces []string) []string {
	if len(pieces) == 0 {
		return chunks
	}
	joined := strings.TrimSpace(strings.Join(pieces, s.separator))
	if joined == "" {
		return chunks
	}
	return append(chunks, joined)
}
