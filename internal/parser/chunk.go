package parser

import (
	"regexp"
	"strings"

	"gemserve/internal/models"
)

// overlapSentences is how many trailing sentences of a closed chunk seed the next one.
const overlapSentences = 2

var sentenceBoundaryRe = regexp.MustCompile(models.SentenceBoundaryRegex)

type chunk struct {
	sentences []string
	overlap   int // leading sentences repeated from the previous chunk
}

func (c chunk) text() string {
	return strings.Join(c.sentences, " ")
}

// SplitSentences splits on ".", "!" or "?" followed by whitespace. The terminator stays with
// its sentence and blank pieces are dropped.
func SplitSentences(content string) []string {
	var sentences []string
	start := 0
	for _, loc := range sentenceBoundaryRe.FindAllStringIndex(content, -1) {
		if s := strings.TrimSpace(content[start : loc[0]+1]); s != "" {
			sentences = append(sentences, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(content[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// ChunkBySentences groups sentences into chunks of at most maxTokens (chars/4). When a chunk
// closes, the next one starts with up to two of its trailing sentences. A single sentence
// larger than maxTokens still becomes a chunk of its own.
func ChunkBySentences(content string, maxTokens, overlapTokens int) []string {
	chunks := chunkSentences(SplitSentences(content), maxTokens, overlapTokens > 0)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, c.text())
	}
	return out
}

func chunkSentences(sentences []string, maxTokens int, overlap bool) []chunk {
	var (
		chunks  []chunk
		current chunk
		size    int // length of current.text()
	)
	for _, sentence := range sentences {
		if len(current.sentences) > current.overlap && !fits(size, sentence, maxTokens) {
			chunks = append(chunks, current)
			current = seed(current, sentence, maxTokens, overlap)
			size = len(current.text())
			continue
		}
		if size > 0 {
			size++
		}
		size += len(sentence)
		current.sentences = append(current.sentences, sentence)
	}
	if len(current.sentences) > current.overlap {
		chunks = append(chunks, current)
	}
	return chunks
}

func fits(size int, sentence string, maxTokens int) bool {
	if size > 0 {
		size++
	}
	return (size+len(sentence))/models.CharsPerToken <= maxTokens
}

// seed starts the chunk after closed with its trailing sentences followed by sentence, dropping
// overlap sentences from the front until the seeded chunk fits.
func seed(closed chunk, sentence string, maxTokens int, overlap bool) chunk {
	if !overlap {
		return chunk{sentences: []string{sentence}}
	}
	n := min(overlapSentences, len(closed.sentences))
	for ; n > 0; n-- {
		tail := closed.sentences[len(closed.sentences)-n:]
		if fits(len(strings.Join(tail, " ")), sentence, maxTokens) {
			next := make([]string, 0, n+1)
			next = append(next, tail...)
			return chunk{sentences: append(next, sentence), overlap: n}
		}
	}
	return chunk{sentences: []string{sentence}}
}
