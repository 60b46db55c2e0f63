package chat

import "context"

// StreamChunk is one wire unit of a streamed model reply. Either DeltaText
// carries incremental text, or Err carries a terminal error marker emitted
// by the backend mid-stream.
type StreamChunk struct {
	DeltaText string
	Err       string
}

// ChunkStream is a finite, non-restartable sequence of chunks. Recv returns
// io.EOF after the last chunk; any other error means the transport failed.
type ChunkStream interface {
	Recv() (StreamChunk, error)
}

// ChatStreamer starts a streaming chat completion for the given outbound
// context payload.
type ChatStreamer interface {
	StreamChat(ctx context.Context, turns []Turn) (ChunkStream, error)
}

// Summarizer folds a set of turns into a summary. A non-nil prior summary
// is updated in place; an empty prior produces an initial summary. Single
// request/response, no streaming.
type Summarizer interface {
	Summarize(ctx context.Context, turns []Turn, priorSummary string) (string, error)
}

// SearchService answers a lookup query best-effort. An empty answer with a
// nil error means "no answer"; errors are treated the same way by callers.
type SearchService interface {
	Search(ctx context.Context, query string) (string, error)
}

// LookupPolicy decides whether a user message warrants an external web
// lookup before the model call.
type LookupPolicy interface {
	NeedsLookup(text string) bool
}
