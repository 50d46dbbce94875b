// Package chunk splits page text into overlapping, size-bounded pieces for
// embedding, preferring to break on paragraph boundaries.
package chunk

import "strings"

const (
	maxChars = 600
	overlap  = 100
)

// Chunk is one slice of a page's content along with its byte offsets in
// the original text.
type Chunk struct {
	Content    string
	StartIndex int
	EndIndex   int
}

// Split breaks text into chunks of at most maxChars characters with
// overlap-character overlap between consecutive chunks, preferring to
// break on a paragraph boundary (double newline). A paragraph longer than
// maxChars is hard-split with the same overlap.
func Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	paragraphs := splitParagraphs(text)

	var cursor int
	var buf strings.Builder
	bufStart := -1

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		content := buf.String()
		chunks = append(chunks, Chunk{
			Content:    content,
			StartIndex: bufStart,
			EndIndex:   bufStart + len(content),
		})
		buf.Reset()
		bufStart = -1
	}

	for _, p := range paragraphs {
		start := cursor
		cursor += len(p.raw)

		body := p.text
		if body == "" {
			continue
		}

		if buf.Len() > 0 && buf.Len()+len("\n\n")+len(body) > maxChars {
			flush()
		}

		if len(body) > maxChars {
			flush()
			chunks = append(chunks, hardSplit(body, start)...)
			continue
		}

		if buf.Len() == 0 {
			bufStart = start
		} else {
			buf.WriteString("\n\n")
		}
		buf.WriteString(body)
	}
	flush()

	return withOverlap(chunks, text)
}

type paragraph struct {
	raw  string // including the trailing separator consumed
	text string // trimmed paragraph body
}

func splitParagraphs(text string) []paragraph {
	parts := strings.Split(text, "\n\n")
	out := make([]paragraph, 0, len(parts))
	for i, p := range parts {
		raw := p
		if i < len(parts)-1 {
			raw += "\n\n"
		}
		out = append(out, paragraph{raw: raw, text: strings.TrimSpace(p)})
	}
	return out
}

func hardSplit(body string, offset int) []Chunk {
	var out []Chunk
	for start := 0; start < len(body); {
		end := start + maxChars
		if end > len(body) {
			end = len(body)
		}
		out = append(out, Chunk{
			Content:    body[start:end],
			StartIndex: offset + start,
			EndIndex:   offset + end,
		})
		if end == len(body) {
			break
		}
		start = end - overlap
		if start < 0 {
			start = 0
		}
	}
	return out
}

// withOverlap prepends the trailing overlap characters of each chunk's
// predecessor (taken from the original text, so offsets stay meaningful)
// to every chunk after the first. Chunks that already start inside their
// predecessor (the continuation pieces of a hard split) are left as they are.
func withOverlap(chunks []Chunk, text string) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	out := make([]Chunk, len(chunks))
	out[0] = chunks[0]
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1]
		if chunks[i].StartIndex < prev.EndIndex {
			out[i] = chunks[i]
			continue
		}
		overlapStart := prev.EndIndex - overlap
		if overlapStart < prev.StartIndex {
			overlapStart = prev.StartIndex
		}
		prefix := text[overlapStart:prev.EndIndex]
		c := chunks[i]
		c.Content = prefix + c.Content
		c.StartIndex = overlapStart
		out[i] = c
	}
	return out
}
