package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackNoPassages(t *testing.T) {
	f := &FallbackGenerator{}
	assert.Equal(t, InsufficientInformationMessage, f.GenerateAnswer(context.Background(), "what is go?", nil))
}

func TestFallbackTemplates(t *testing.T) {
	f := &FallbackGenerator{}
	passages := []string{"Go is a language."}

	cases := map[string]string{
		"What is Go?":                "Based on the provided context:\n\n",
		"Please explain the runtime": "Here's how it works according to the documents:\n\n",
		"When was it released":       "According to the information available:\n\n",
		"Tell me about it":           "Based on the relevant information I found:\n\n",
	}
	for question, prefix := range cases {
		answer := f.GenerateAnswer(context.Background(), question, passages)
		assert.Equal(t, prefix+"Go is a language....", answer, question)
	}
}

func TestFallbackUsesTopThreeAndTruncates(t *testing.T) {
	f := &FallbackGenerator{}
	answer := f.GenerateAnswer(context.Background(), "summary", []string{"one", "two", "three", "four"})
	assert.Contains(t, answer, "one\n\ntwo\n\nthree")
	assert.NotContains(t, answer, "four")

	long := strings.Repeat("x", 2000)
	answer = f.GenerateAnswer(context.Background(), "summary", []string{long})
	body := strings.TrimPrefix(answer, defaultFallbackPrefix)
	assert.Equal(t, strings.Repeat("x", fallbackMaxChars)+"...", body)
}

func TestFallbackStreamsThreeWords(t *testing.T) {
	f := &FallbackGenerator{}
	var chunks []string
	full, err := f.GenerateAnswerStream(context.Background(), "anything", []string{"a b c d e"}, func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, f.GenerateAnswer(context.Background(), "anything", []string{"a b c d e"}), full)
	require.NotEmpty(t, chunks)
	for _, c := range chunks[:len(chunks)-1] {
		assert.Len(t, strings.Fields(c), 3)
		assert.True(t, strings.HasSuffix(c, " "))
	}
	assert.False(t, strings.HasSuffix(chunks[len(chunks)-1], " "))
}

func TestFallbackStreamStopsOnConsumerError(t *testing.T) {
	f := &FallbackGenerator{}
	boom := errors.New("client gone")
	calls := 0
	_, err := f.GenerateAnswerStream(context.Background(), "what", []string{"a b c d e f g"}, func(string) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
