package ai

import (
	"context"
	"strings"
	"time"
)

var _ Generator = (*FallbackGenerator)(nil)

const (
	fallbackPassages    = 3
	fallbackMaxChars    = 800
	fallbackWordsPerMsg = 3
)

// FallbackGenerator answers without any model by quoting the best
// passages under a prefix picked from the question's wording.
type FallbackGenerator struct {
	// ChunkDelay paces the simulated stream.
	ChunkDelay time.Duration
}

func NewFallbackGenerator() *FallbackGenerator {
	return &FallbackGenerator{ChunkDelay: 100 * time.Millisecond}
}

var fallbackTemplates = []struct {
	keywords []string
	prefix   string
}{
	{[]string{"what", "define", "definition"}, "Based on the provided context:\n\n"},
	{[]string{"how", "explain", "process"}, "Here's how it works according to the documents:\n\n"},
	{[]string{"when", "time", "date"}, "According to the information available:\n\n"},
}

const defaultFallbackPrefix = "Based on the relevant information I found:\n\n"

func (f *FallbackGenerator) GenerateAnswer(ctx context.Context, question string, passages []string) string {
	if len(passages) == 0 {
		return InsufficientInformationMessage
	}
	if len(passages) > fallbackPassages {
		passages = passages[:fallbackPassages]
	}

	combined := []rune(strings.Join(passages, "\n\n"))
	if len(combined) > fallbackMaxChars {
		combined = combined[:fallbackMaxChars]
	}

	return fallbackPrefix(question) + string(combined) + "..."
}

func fallbackPrefix(question string) string {
	q := strings.ToLower(question)
	for _, tpl := range fallbackTemplates {
		for _, kw := range tpl.keywords {
			if strings.Contains(q, kw) {
				return tpl.prefix
			}
		}
	}
	return defaultFallbackPrefix
}

// GenerateAnswerStream emits the fallback answer three words at a time.
func (f *FallbackGenerator) GenerateAnswerStream(ctx context.Context, question string, passages []string, onChunk func(string) error) (string, error) {
	answer := f.GenerateAnswer(ctx, question, passages)
	if err := f.streamText(ctx, answer, onChunk); err != nil {
		return "", err
	}
	return answer, nil
}

func (f *FallbackGenerator) streamText(ctx context.Context, text string, onChunk func(string) error) error {
	words := strings.Fields(text)
	for i := 0; i < len(words); i += fallbackWordsPerMsg {
		end := i + fallbackWordsPerMsg
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.Join(words[i:end], " ")
		if end < len(words) {
			chunk += " "
		}
		if err := onChunk(chunk); err != nil {
			return err
		}

		if f.ChunkDelay > 0 && end < len(words) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(f.ChunkDelay):
			}
		}
	}
	return nil
}

func (f *FallbackGenerator) IsAvailable(ctx context.Context) bool { return true }

func (f *FallbackGenerator) Info(ctx context.Context) Info {
	return Info{Type: "fallback", Model: "keyword-template", Available: true}
}
