package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/sift/pkg/chunker"
)

func TestSplit_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty text", "", 100, 20, []string{}},
		{"whitespace only", "   \n\t  ", 100, 20, []string{}},
		{"shorter than chunk size", "Short", 100, 20, []string{"Short"}},
		{"exactly chunk size", "12345", 5, 2, []string{"12345"}},
		{"overlapping windows", "Hello World", 5, 2, []string{"Hello", "lo Wo", "World"}},
		{"no overlap", "abcdefgh", 3, 0, []string{"abc", "def", "gh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := chunker.Split(tt.text, tt.size, tt.overlap)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplit_InvalidParams(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"zero chunk size", 0, 0},
		{"negative chunk size", -5, 0},
		{"negative overlap", 10, -1},
		{"overlap equals chunk size", 10, 10},
		{"overlap exceeds chunk size", 10, 15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := chunker.Split("some text", tt.size, tt.overlap)
			require.Error(t, err)

			var verr chunker.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestSplit_ConsecutiveOverlap(t *testing.T) {
	text := strings.Repeat("abcdefghij", 20)

	cases := []struct{ size, overlap int }{
		{50, 10},
		{30, 29},
		{7, 3},
	}

	for _, tc := range cases {
		chunks, err := chunker.Split(text, tc.size, tc.overlap)
		require.NoError(t, err)
		require.NotEmpty(t, chunks)

		for i := 1; i < len(chunks); i++ {
			prev, cur := chunks[i-1], chunks[i]
			require.GreaterOrEqual(t, len(prev), tc.overlap)
			assert.Equal(t, prev[len(prev)-tc.overlap:], cur[:tc.overlap],
				"chunks %d and %d must share exactly %d characters", i-1, i, tc.overlap)
		}

		// Every chunk except the last has the full window size.
		for i := 0; i < len(chunks)-1; i++ {
			assert.Len(t, chunks[i], tc.size)
		}
		assert.LessOrEqual(t, len(chunks[len(chunks)-1]), tc.size)
	}
}

func TestSplit_Reconstruction(t *testing.T) {
	// Dropping the overlapping prefix of every chunk after the first
	// reassembles the original text.
	text := "The quick brown fox jumps over the lazy dog, again and again."
	size, overlap := 16, 4

	chunks, err := chunker.Split(text, size, overlap)
	require.NoError(t, err)

	var sb strings.Builder
	sb.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		sb.WriteString(c[overlap:])
	}
	assert.Equal(t, text, sb.String())
}
