package client

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/ariavoice/aria/chat"
)

type streamChunkPayload struct {
	Delta string `json:"delta"`
	Error string `json:"error"`
}

// ndjsonStream decodes a newline-delimited JSON chunk stream. Lines that do
// not parse are skipped; an explicit error field becomes an error-marker
// chunk.
type ndjsonStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newNDJSONStream(body io.ReadCloser) *ndjsonStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &ndjsonStream{body: body, scanner: scanner}
}

func (s *ndjsonStream) Recv() (chat.StreamChunk, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var payload streamChunkPayload
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			// Malformed lines are logged by the caller's transport layer
			// at best; here they are simply skipped.
			continue
		}
		if payload.Error != "" {
			return chat.StreamChunk{Err: payload.Error}, nil
		}
		return chat.StreamChunk{DeltaText: payload.Delta}, nil
	}
	err := s.scanner.Err()
	_ = s.body.Close()
	if err != nil {
		return chat.StreamChunk{}, err
	}
	return chat.StreamChunk{}, io.EOF
}
