package chunking

import "strings"

// Splitter cuts text into indexable chunks. Paragraph boundaries are
// preferred, then sentence boundaries; a paragraph longer than the
// chunk size is windowed over runes with overlap so no text is lost.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	var current strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			out = append(out, chunk)
		}
		current.Reset()
	}

	for _, paragraph := range splitParagraphs(text) {
		for _, piece := range s.pieces(paragraph) {
			pieceLen := len([]rune(piece))
			currentLen := len([]rune(current.String()))
			if currentLen > 0 && currentLen+pieceLen+1 > s.ChunkSize {
				flush()
			}
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(piece)
		}
	}
	flush()
	return out
}

// pieces returns a paragraph as sentence-sized units, windowing any
// unit that still exceeds the chunk size.
func (s *Splitter) pieces(paragraph string) []string {
	var out []string
	for _, sentence := range splitSentences(paragraph) {
		if len([]rune(sentence)) <= s.ChunkSize {
			out = append(out, sentence)
			continue
		}
		out = append(out, s.window(sentence)...)
	}
	return out
}

func (s *Splitter) window(text string) []string {
	runes := []rune(text)
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	out := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			out = append(out, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

func splitParagraphs(text string) []string {
	parts := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitSentences(paragraph string) []string {
	var out []string
	var current strings.Builder
	runes := []rune(paragraph)

	for i, r := range runes {
		current.WriteRune(r)
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		// A terminator mid-token (e.g. "IFRS 15.113" or "p.5") does
		// not end a sentence; require following whitespace or EOL.
		if i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' && runes[i+1] != '\t' {
			continue
		}
		sentence := strings.TrimSpace(current.String())
		if sentence != "" {
			out = append(out, sentence)
		}
		current.Reset()
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		out = append(out, tail)
	}
	return out
}
