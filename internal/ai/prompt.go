package ai

import (
	"fmt"
	"strings"
)

const (
	// MaxContextPassages is how many retrieved passages go into a prompt.
	MaxContextPassages = 5

	InsufficientInformationMessage = "I don't have enough information to answer this question. Please upload relevant documents first."
	EmptyAnswerMessage             = "I couldn't generate a proper answer. Please try rephrasing your question."
	HostedSystemPrompt             = "You are a helpful assistant that answers questions based on provided context. Be concise and accurate."

	promptTemplate = `Based on the following context, please answer the question. If the context doesn't contain enough information to answer the question, please say so clearly. Be concise and accurate.

Context:
%s

Question: %s

Answer:`
)

// StopSequences keep the model from writing a follow-up question.
var StopSequences = []string{"Question:", "Context:"}

// SamplingOptions are shared by every network backend.
type SamplingOptions struct {
	Temperature float32
	TopP        float32
	MaxTokens   int
}

var DefaultSampling = SamplingOptions{Temperature: 0.3, TopP: 0.9, MaxTokens: 500}

// BuildContext joins up to MaxContextPassages passages with blank lines.
func BuildContext(passages []string) string {
	if len(passages) > MaxContextPassages {
		passages = passages[:MaxContextPassages]
	}
	return strings.Join(passages, "\n\n")
}

func BuildPrompt(question string, passages []string) string {
	return fmt.Sprintf(promptTemplate, BuildContext(passages), question)
}
