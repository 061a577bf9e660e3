package text

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSplitter_Validation(t *testing.T) {
	_, err := NewSplitter(0, 0, "\n\n")
	assert.Error(t, err)

	_, err = NewSplitter(10, 11, "\n\n")
	assert.Error(t, err)

	_, err = NewSplitter(10, -1, "\n\n")
	assert.Error(t, err)

	s, err := NewSplitter(10, 10, "\n\n")
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestSplitter_Split(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		overlap   int
		separator string
		input     string
		want      []string
	}{
		{
			name:      "One Piece Per Chunk",
			size:      3,
			separator: "\n\n",
			input:     "a\n\nb\n\nc",
			want:      []string{"a", "b", "c"},
		},
		{
			name:      "Merged When It Fits",
			size:      10,
			separator: "\n\n",
			input:     "a\n\nb\n\nc",
			want:      []string{"a\n\nb\n\nc"},
		},
		{
			name:      "Overlap Carries Trailing Piece",
			size:      9,
			overlap:   4,
			separator: " ",
			input:     "aaaa bbbb cccc dddd",
			want:      []string{"aaaa bbbb", "bbbb cccc", "cccc dddd"},
		},
		{
			name:      "Oversized Piece Kept Whole",
			size:      5,
			separator: "\n\n",
			input:     "short\n\nthis piece is long\n\nend",
			want:      []string{"short", "this piece is long", "end"},
		},
		{
			name:      "Whitespace Is Trimmed",
			size:      100,
			separator: "\n\n",
			input:     "  hello world  \n\n",
			want:      []string{"hello world"},
		},
		{
			name:      "Blank Text Yields Nothing",
			size:      10,
			separator: "\n\n",
			input:     "   \n\n \n\n",
			want:      nil,
		},
		{
			name:      "Empty Text Yields Nothing",
			size:      10,
			separator: "\n\n",
			input:     "",
			want:      nil,
		},
		{
			name:      "Whole Text Fallback",
			size:      10,
			separator: "x",
			input:     "x",
			want:      []string{"x"},
		},
		{
			name:      "Counts Characters Not Bytes",
			size:      3,
			separator: "|",
			input:     "é|é",
			want:      []string{"é|é"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSplitter(tt.size, tt.overlap, tt.separator)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Split(tt.input))
		})
	}
}

func TestSplitter_ChunksAreNonEmptyAndCoverInput(t *testing.T) {
	paragraphs := []string{
		"Vector search ranks rows by distance.",
		"HNSW builds a layered graph.",
		"IVFFlat clusters vectors into lists.",
		"Inner product equals cosine on unit vectors.",
		"Batches are written in one transaction.",
	}
	input := strings.Join(paragraphs, "\n\n")

	s, err := NewSplitter(80, 0, "\n\n")
	require.NoError(t, err)
	chunks := s.Split(input)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 80)
	}
	assert.Equal(t, input, strings.Join(chunks, "\n\n"))
}
