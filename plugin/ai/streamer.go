package ai

import (
	"context"
	"io"
	"strings"

	"github.com/ariavoice/aria/chat"
)

// Streamer adapts LLMService to the chunk-stream contract consumed by the
// chat orchestrator.
type Streamer struct {
	llm   LLMService
	model string
}

// NewStreamer creates a model streamer for the given chat model.
func NewStreamer(llm LLMService, model string) *Streamer {
	return &Streamer{llm: llm, model: model}
}

func (s *Streamer) StreamChat(ctx context.Context, turns []chat.Turn) (chat.ChunkStream, error) {
	contentChan, errChan := s.llm.ChatStream(ctx, s.model, ConvertTurns(turns))
	return &llmChunkStream{contentChan: contentChan, errChan: errChan}, nil
}

// llmChunkStream drains the content channel first; once it closes, a
// buffered error (if any) terminates the stream, otherwise io.EOF.
type llmChunkStream struct {
	contentChan <-chan string
	errChan     <-chan error
}

func (s *llmChunkStream) Recv() (chat.StreamChunk, error) {
	delta, ok := <-s.contentChan
	if ok {
		return chat.StreamChunk{DeltaText: delta}, nil
	}
	if err, ok := <-s.errChan; ok && err != nil {
		return chat.StreamChunk{}, err
	}
	return chat.StreamChunk{}, io.EOF
}

// ConvertTurns maps conversation turns to wire messages. Error turns are
// display artifacts and are dropped.
func ConvertTurns(turns []chat.Turn) []Message {
	messages := make([]Message, 0, len(turns))
	for _, t := range turns {
		role := strings.ToLower(string(t.Role))
		switch t.Role {
		case chat.RoleUser, chat.RoleAssistant, chat.RoleSystem:
			messages = append(messages, Message{Role: role, Content: t.Content})
		}
	}
	return messages
}
