// Package chunking slices extracted document text into overlapping windows
// sized for the embedding model. Overlap keeps facts that straddle a window
// boundary retrievable from at least one chunk.
package chunking

import "strings"

type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	switch {
	case overlap < 0:
		overlap = 0
	case overlap >= chunkSize:
		overlap = chunkSize / 4
	}
	return &Splitter{ChunkSize: chunkSize, Overlap: overlap}
}

// Split windows the text by rune count. Chunk boundaries are deterministic
// for a given configuration, so re-processing a document reproduces the same
// chunk indices.
func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	total := len(runes)
	if total == 0 {
		return nil
	}

	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}

	chunks := make([]string, 0, total/step+1)
	start := 0
	for {
		end := start + s.ChunkSize
		if end > total {
			end = total
		}
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == total {
			return chunks
		}
		start += step
	}
}
