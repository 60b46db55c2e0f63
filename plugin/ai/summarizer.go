package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/ariavoice/aria/chat"
)

const initialSummaryPrompt = `You are a conversation summarizer. Analyze the entire conversation below and create a concise summary that:
1. Captures all key points and topics discussed
2. Maintains the current state of any ongoing activities or games
3. Preserves important details from earlier in the conversation
4. Is written in third-person perspective
5. Does NOT exceed %d words

Conversation to summarize:`

const updateSummaryPrompt = `You are a conversation summarizer. Update the existing summary below with the new messages while:
1. Preserving all important information from the current summary
2. Incorporating relevant new information
3. Maintaining accurate state of any ongoing activities or games
4. Keeping the summary under %d words
5. Using third-person perspective

Current summary:
"%s"

New messages to incorporate:`

// Summarizer folds conversation turns into a rolling summary with a single
// model call per invocation.
type Summarizer struct {
	llm      LLMService
	model    string
	maxWords int
}

// NewSummarizer creates a summarizer using the given model.
func NewSummarizer(llm LLMService, model string, maxWords int) *Summarizer {
	if maxWords <= 0 {
		maxWords = chat.DefaultMaxSummaryWords
	}
	return &Summarizer{llm: llm, model: model, maxWords: maxWords}
}

func (s *Summarizer) Summarize(ctx context.Context, turns []chat.Turn, priorSummary string) (string, error) {
	if len(turns) == 0 {
		return priorSummary, nil
	}

	var system string
	var closing string
	if strings.TrimSpace(priorSummary) == "" {
		system = fmt.Sprintf(initialSummaryPrompt, s.maxWords)
		closing = "Please generate a comprehensive summary of the above conversation, preserving the accurate state of any ongoing activities."
	} else {
		system = fmt.Sprintf(updateSummaryPrompt, s.maxWords, priorSummary)
		closing = "Please update the summary by combining the current summary with the new messages, ensuring all important details are preserved."
	}

	messages := make([]Message, 0, len(turns)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	for _, t := range turns {
		role := strings.ToLower(string(t.Role))
		// Speaker labels keep attribution intact once the turns are
		// flattened into summarizer input.
		messages = append(messages, Message{Role: role, Content: fmt.Sprintf("%s: %s", role, t.Content)})
	}
	messages = append(messages, Message{Role: "user", Content: closing})

	summary, err := s.llm.Chat(ctx, s.model, messages)
	if err != nil {
		return "", err
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", fmt.Errorf("summarizer returned empty result")
	}
	return summary, nil
}
