package tts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ChunkMethod selects how a transcript is split into generation units.
type ChunkMethod string

// Supported chunk methods. ChunkUnset means the caller did not choose one.
const (
	ChunkUnset     ChunkMethod = ""
	ChunkNone      ChunkMethod = "none"
	ChunkParagraph ChunkMethod = "paragraph"
	ChunkSentence  ChunkMethod = "sentence"
	ChunkAuto      ChunkMethod = "auto"
	ChunkSpeaker   ChunkMethod = "speaker"
)

// MaxChunkWords is the word ceiling applied by the auto method.
const MaxChunkWords = 200

var (
	speakerTagPattern       = regexp.MustCompile(`\[(SPEAKER\d+)\]`)
	paragraphBreakPattern   = regexp.MustCompile(`\n\s*\n`)
	sentenceBoundaryPattern = regexp.MustCompile(`[.!?]\s+`)
)

// Chunk is one contiguous slice of a transcript generated as a single unit.
type Chunk struct {
	Text    string
	Index   int
	IsFirst bool
}

// ParseChunkMethod validates a chunk method token. The empty string is accepted and
// means unset.
func ParseChunkMethod(token string) (ChunkMethod, error) {
	method := ChunkMethod(strings.TrimSpace(strings.ToLower(token)))

	switch method {
	case ChunkUnset, ChunkNone, ChunkParagraph, ChunkSentence, ChunkAuto, ChunkSpeaker:
		return method, nil
	default:
		return ChunkUnset, fmt.Errorf("%w: %q", ErrUnknownChunking, token)
	}
}

// SplitsLocally reports whether the method is handled by the chunk pipeline rather than
// a single generation call.
func (m ChunkMethod) SplitsLocally() bool {
	return m == ChunkParagraph || m == ChunkSentence || m == ChunkAuto
}

// ScanSpeakerTags returns the sorted, duplicate-free speaker identifiers marked with
// [SPEAKERn] in the transcript.
func ScanSpeakerTags(transcript string) []string {
	seen := make(map[string]struct{})

	for _, match := range speakerTagPattern.FindAllStringSubmatch(transcript, -1) {
		seen[match[1]] = struct{}{}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}

	sort.Strings(tags)

	return tags
}

// ChunkText splits text according to method. The speaker, none and unset methods
// yield the whole trimmed transcript as one chunk.
func ChunkText(text string, method ChunkMethod) ([]Chunk, error) {
	var parts []string

	switch method {
	case ChunkUnset, ChunkNone, ChunkSpeaker:
		parts = []string{text}
	case ChunkParagraph:
		parts = splitParagraphs(text)
	case ChunkSentence:
		parts = splitSentences(text)
	case ChunkAuto:
		parts = splitAuto(text, MaxChunkWords)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownChunking, string(method))
	}

	return toChunks(parts), nil
}

func toChunks(parts []string) []Chunk {
	chunks := make([]Chunk, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}

		chunks = append(chunks, Chunk{
			Text:    trimmed,
			Index:   len(chunks),
			IsFirst: len(chunks) == 0,
		})
	}

	return chunks
}

func splitParagraphs(text string) []string {
	return paragraphBreakPattern.Split(text, -1)
}

func splitSentences(text string) []string {
	var (
		sentences []string
		start     int
	)

	for _, loc := range sentenceBoundaryPattern.FindAllStringIndex(text, -1) {
		// Keep the terminal punctuation, drop the whitespace after it.
		sentences = append(sentences, text[start:loc[0]+1])
		start = loc[1]
	}

	return append(sentences, text[start:])
}

func splitAuto(text string, maxWords int) []string {
	var parts []string

	for _, paragraph := range splitParagraphs(text) {
		words := strings.Fields(paragraph)
		if len(words) <= maxWords {
			parts = append(parts, paragraph)

			continue
		}

		for start := 0; start < len(words); start += maxWords {
			end := min(start+maxWords, len(words))
			parts = append(parts, strings.Join(words[start:end], " "))
		}
	}

	return parts
}
