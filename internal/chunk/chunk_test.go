package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitShortTextSingleChunk(t *testing.T) {
	chunks := Split("a short paragraph")
	require.Len(t, chunks, 1)
	require.Equal(t, "a short paragraph", chunks[0].Content)
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	p1 := strings.Repeat("a", 400)
	p2 := strings.Repeat("b", 400)
	text := p1 + "\n\n" + p2

	chunks := Split(text)
	require.Len(t, chunks, 2)
	require.True(t, strings.HasSuffix(chunks[0].Content, p1))
}

func TestSplitHardSplitsOversizedParagraph(t *testing.T) {
	text := strings.Repeat("x", 1500)
	chunks := Split(text)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		require.LessOrEqual(t, len(c.Content), 600+100)
	}
}

func TestSplitEmpty(t *testing.T) {
	require.Nil(t, Split("   "))
}
