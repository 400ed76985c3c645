package chunker

import (
	"fmt"
	"strings"
)

// ValidationError reports rejected chunking parameters. These are caller
// bugs and are never retried.
type ValidationError struct {
	Param   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Param, e.Message)
}

type ChunkerConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Chunker struct {
	config ChunkerConfig
}

func NewWithConfig(config ChunkerConfig) (*Chunker, error) {
	if config.ChunkSize <= 0 {
		return nil, ValidationError{
			Param:   "chunk_size",
			Message: fmt.Sprintf("must be positive, got %d", config.ChunkSize),
		}
	}
	if config.ChunkOverlap < 0 {
		return nil, ValidationError{
			Param:   "chunk_overlap",
			Message: fmt.Sprintf("must be non-negative, got %d", config.ChunkOverlap),
		}
	}
	if config.ChunkOverlap >= config.ChunkSize {
		return nil, ValidationError{
			Param:   "chunk_overlap",
			Message: fmt.Sprintf("%d must be less than chunk_size %d", config.ChunkOverlap, config.ChunkSize),
		}
	}

	return &Chunker{config: config}, nil
}

// Split slides a window of ChunkSize over the text, advancing by
// ChunkSize-ChunkOverlap so consecutive chunks share exactly
// ChunkOverlap characters. The final chunk may be shorter.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}
	if len(text) <= c.config.ChunkSize {
		return []string{text}
	}

	step := c.config.ChunkSize - c.config.ChunkOverlap
	chunks := make([]string, 0, len(text)/step+1)

	for start := 0; start < len(text); start += step {
		end := start + c.config.ChunkSize
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end >= len(text) {
			break
		}
	}

	return chunks
}

// Split is the one-shot form used by callers that validate parameters per
// call rather than holding a Chunker.
func Split(text string, chunkSize, overlap int) ([]string, error) {
	c, err := NewWithConfig(ChunkerConfig{ChunkSize: chunkSize, ChunkOverlap: overlap})
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}
