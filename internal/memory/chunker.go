package memory

import (
	"strings"
	"unicode"
)

// ChunkConfig controls how ChunkContent splits a long document before it is
// handed to LoadExternalContent. Sizes are in characters, not tokens: an
// exact token count depends on the injected tokenizer, which a file-loader
// collaborator may not have access to at split time.
type ChunkConfig struct {
	MaxChunkSize int
	OverlapSize  int
	MinChunkSize int
}

// DefaultChunkConfig mirrors pkg/config's ChunkingConfig defaults.
func DefaultChunkConfig() *ChunkConfig {
	return &ChunkConfig{
		MaxChunkSize: 1000,
		OverlapSize:  100,
		MinChunkSize: 1500,
	}
}

// Chunk is one piece of a larger external document, in the order
// LoadExternalContent should persist it.
type Chunk struct {
	Content  string
	Index    int
	StartPos int
	EndPos   int
}

// Chunker splits content into overlapping chunks on paragraph or sentence
// boundaries. Nothing in Service calls this directly: LoadExternalContent
// takes an already-chunked slice, and producing that slice from a raw file
// is the file-loader collaborator's job. It is exported for that
// collaborator to use.
type Chunker struct {
	config *ChunkConfig
}

// NewChunker builds a Chunker, falling back to DefaultChunkConfig if cfg is nil.
func NewChunker(cfg *ChunkConfig) *Chunker {
	if cfg == nil {
		cfg = DefaultChunkConfig()
	}
	return &Chunker{config: cfg}
}

// ShouldChunk reports whether content is long enough to be worth splitting.
func (c *Chunker) ShouldChunk(content string) bool {
	return len(content) > c.config.MinChunkSize
}

// ChunkContent splits content into overlapping chunks, preferring paragraph
// boundaries and falling back to sentence boundaries when there is only one
// paragraph. Returns nil if content doesn't need chunking.
func (c *Chunker) ChunkContent(content string) []Chunk {
	if !c.ShouldChunk(content) {
		return nil
	}

	paragraphs := splitIntoParagraphs(content)
	if len(paragraphs) > 1 {
		return c.chunkByParagraphs(paragraphs)
	}
	return c.chunkBySentences(content)
}

func (c *Chunker) chunkByParagraphs(paragraphs []string) []Chunk {
	var chunks []Chunk
	var current strings.Builder
	var currentStart int
	index := 0
	position := 0

	for i, para := range paragraphs {
		withSep := para
		if i < len(paragraphs)-1 {
			withSep = para + "\n\n"
		}

		if current.Len() > 0 && current.Len()+len(withSep) > c.config.MaxChunkSize {
			chunks = append(chunks, Chunk{
				Content:  strings.TrimSpace(current.String()),
				Index:    index,
				StartPos: currentStart,
				EndPos:   position,
			})
			index++

			overlap := overlapSuffix(current.String(), c.config.OverlapSize)
			current.Reset()
			current.WriteString(overlap)
			currentStart = position - len(overlap)
		}

		current.WriteString(withSep)
		position += len(withSep)
	}

	if current.Len() > 0 {
		chunks = append(chunks, Chunk{
			Content:  strings.TrimSpace(current.String()),
			Index:    index,
			StartPos: currentStart,
			EndPos:   position,
		})
	}
	return chunks
}

func (c *Chunker) chunkBySentences(content string) []Chunk {
	sentences := splitIntoSentences(content)

	var chunks []Chunk
	var current strings.Builder
	var currentStart int
	index := 0
	position := 0

	for _, sentence := range sentences {
		withSpace := sentence + " "

		if current.Len() > 0 && current.Len()+len(withSpace) > c.config.MaxChunkSize {
			chunks = append(chunks, Chunk{
				Content:  strings.TrimSpace(current.String()),
				Index:    index,
				StartPos: currentStart,
				EndPos:   position,
			})
			index++

			overlap := overlapSuffix(current.String(), c.config.OverlapSize)
			current.Reset()
			current.WriteString(overlap)
			currentStart = position - len(overlap)
		}

		current.WriteString(withSpace)
		position += len(withSpace)
	}

	if current.Len() > 0 {
		chunks = append(chunks, Chunk{
			Content:  strings.TrimSpace(current.String()),
			Index:    index,
			StartPos: currentStart,
			EndPos:   position,
		})
	}
	return chunks
}

func splitIntoParagraphs(content string) []string {
	raw := strings.Split(content, "\n\n")
	paragraphs := make([]string, 0, len(raw))
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

func splitIntoSentences(content string) []string {
	var sentences []string
	var current strings.Builder

	for i, r := range content {
		current.WriteRune(r)
		if !isSentenceEnd(r) {
			continue
		}
		if i == len(content)-1 || (i+1 < len(content) && unicode.IsSpace(rune(content[i+1]))) {
			if sentence := strings.TrimSpace(current.String()); sentence != "" {
				sentences = append(sentences, sentence)
			}
			current.Reset()
		}
	}
	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func overlapSuffix(content string, n int) string {
	if len(content) <= n {
		return content
	}
	return content[len(content)-n:]
}
