// Package chunker splits document text into bounded chunks for embedding.
package chunker

import (
	"fmt"
	"strings"
)

// DefaultMaxChunkSize is the chunk size bound used when none is configured.
const DefaultMaxChunkSize = 1000

// Chunker splits text into chunks no longer than MaxSize characters.
//
// Chunks break only on whitespace. A single word longer than MaxSize is
// emitted as its own oversized chunk rather than being split mid-word.
type Chunker struct {
	maxSize int
}

// New creates a Chunker with the given size bound.
func New(maxSize int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max chunk size must be positive, got %d", maxSize)
	}
	return &Chunker{maxSize: maxSize}, nil
}

// MaxSize returns the configured chunk size bound.
func (c *Chunker) MaxSize() int {
	return c.maxSize
}

// Chunk splits text into an ordered sequence of chunks.
func (c *Chunker) Chunk(text string) []string {
	return Split(text, c.maxSize)
}

// Split splits text on whitespace and accumulates words into chunks of at
// most maxSize characters, joined by single spaces.
//
// The function is pure: identical input always yields the identical output.
// Empty or all-whitespace input yields a single empty chunk, so callers see
// a uniform one-or-more-chunks result for every document.
func Split(text string, maxSize int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{""}
	}

	chunks := make([]string, 0, len(text)/maxSize+1)
	var current strings.Builder
	current.WriteString(words[0])

	for _, word := range words[1:] {
		if current.Len()+1+len(word) > maxSize {
			chunks = append(chunks, current.String())
			current.Reset()
			current.WriteString(word)
			continue
		}
		current.WriteByte(' ')
		current.WriteString(word)
	}
	chunks = append(chunks, current.String())

	return chunks
}
