// Package chunker splits document text into overlapping, size-bounded
// segments with stable, reproducible boundaries.
package chunker

import (
	"fmt"

	"github.com/google/uuid"

	"docchat-rag-llm/internal/models"
	"docchat-rag-llm/internal/ragerr"
)

// Splitter cuts text into chunks of at most ChunkSize runes where adjacent
// chunks share Overlap runes. Splitting is a pure function of the input and
// the settings, so re-ingesting identical text reproduces identical chunks.
type Splitter struct {
	chunkSize         int
	overlap           int
	boundaryTolerance int
}

// NewSplitter validates the chunking parameters. Overlap must be smaller
// than the chunk size or every step would re-emit the previous chunk.
func NewSplitter(chunkSize, overlap, boundaryTolerance int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("chunk size must be positive, got %d", chunkSize))
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("overlap must satisfy 0 <= overlap < chunk size, got overlap=%d size=%d", overlap, chunkSize))
	}
	if boundaryTolerance < 0 {
		return nil, ragerr.ErrConfiguration.WithMessage(
			fmt.Sprintf("boundary tolerance must not be negative, got %d", boundaryTolerance))
	}
	return &Splitter{
		chunkSize:         chunkSize,
		overlap:           overlap,
		boundaryTolerance: boundaryTolerance,
	}, nil
}

// Split cuts text into chunks attributed to documentID. Empty text yields no
// chunks and no error. Chunk indices are contiguous from zero and the union
// of [Start, End) ranges covers the whole text.
func (s *Splitter) Split(documentID uuid.UUID, text string) []models.Chunk {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []models.Chunk
	pos := 0
	for pos < len(runes) {
		end := pos + s.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.cutPoint(runes, pos, end)
		}

		chunks = append(chunks, models.Chunk{
			DocumentID: documentID,
			Index:      len(chunks),
			Text:       string(runes[pos:end]),
			Start:      pos,
			End:        end,
		})

		if end == len(runes) {
			break
		}
		pos = end - s.overlap
	}
	return chunks
}

// cutPoint looks backwards from the hard cut at end for a natural boundary
// within the tolerance window, never retreating past pos+overlap so the
// next chunk still starts after this one. Paragraph breaks win over
// sentence breaks; with neither in range the hard cut stands.
func (s *Splitter) cutPoint(runes []rune, pos, end int) int {
	lo := end - s.boundaryTolerance
	if min := pos + s.overlap + 1; lo < min {
		lo = min
	}
	if lo >= end {
		return end
	}

	for i := end - 1; i > lo; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= lo; i-- {
		if isSentenceEnd(runes, i) {
			return i + 1
		}
	}
	return end
}

// isSentenceEnd reports whether runes[i] terminates a sentence: closing
// punctuation followed by whitespace (or the end of the text).
func isSentenceEnd(runes []rune, i int) bool {
	switch runes[i] {
	case '.', '!', '?':
	default:
		return false
	}
	if i+1 >= len(runes) {
		return true
	}
	next := runes[i+1]
	return next == ' ' || next == '\t' || next == '\n' || next == '\r'
}
