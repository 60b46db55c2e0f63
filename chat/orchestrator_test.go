package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	ariaerrors "github.com/ariavoice/aria/internal/errors"
)

type fakeStore struct {
	mu            sync.Mutex
	nextID        int
	conversations []ConversationRef
	messages      map[string][]Turn
	snapshots     map[string]*Snapshot
	createErr     error
	getGate       map[string]chan struct{}
	createGate    chan struct{}
	createCalls   int
	getCalls      map[string]int
	appendCalls   int
	putCalls      int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:  map[string][]Turn{},
		snapshots: map[string]*Snapshot{},
		getGate:   map[string]chan struct{}{},
		getCalls:  map[string]int{},
	}
}

func (f *fakeStore) ListConversations(context.Context) ([]ConversationRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ConversationRef(nil), f.conversations...), nil
}

func (f *fakeStore) CreateConversation(_ context.Context, title string) (ConversationRef, error) {
	f.mu.Lock()
	f.createCalls++
	gate := f.createGate
	if f.createErr != nil {
		f.mu.Unlock()
		return ConversationRef{}, f.createErr
	}
	f.nextID++
	ref := ConversationRef{ID: fmt.Sprintf("conv-%d", f.nextID), Title: title, CreatedAt: time.Now()}
	f.conversations = append(f.conversations, ref)
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return ref, nil
}

func (f *fakeStore) GetMessages(_ context.Context, id string) ([]Turn, error) {
	f.mu.Lock()
	f.getCalls[id]++
	gate := f.getGate[id]
	turns := append([]Turn(nil), f.messages[id]...)
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return turns, nil
}

func (f *fakeStore) AppendMessages(_ context.Context, id string, turns []Turn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	f.messages[id] = append(f.messages[id], turns...)
	return nil
}

func (f *fakeStore) DeleteConversation(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages, id)
	delete(f.snapshots, id)
	kept := f.conversations[:0]
	for _, c := range f.conversations {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	f.conversations = kept
	return nil
}

func (f *fakeStore) GetContext(_ context.Context, id string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshots[id], nil
}

func (f *fakeStore) PutContext(_ context.Context, id string, snapshot Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	f.snapshots[id] = &snapshot
	return nil
}

type scriptedStream struct {
	chunks []StreamChunk
	err    error
	pos    int
}

func (s *scriptedStream) Recv() (StreamChunk, error) {
	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		return chunk, nil
	}
	if s.err != nil {
		return StreamChunk{}, s.err
	}
	return StreamChunk{}, io.EOF
}

// gatedStream yields its scripted chunks, then blocks in Recv until the
// gate closes before reporting the end of the stream.
type gatedStream struct {
	chunks []StreamChunk
	gate   chan struct{}
	pos    int
}

func (s *gatedStream) Recv() (StreamChunk, error) {
	if s.pos < len(s.chunks) {
		chunk := s.chunks[s.pos]
		s.pos++
		return chunk, nil
	}
	<-s.gate
	return StreamChunk{}, io.EOF
}

type fakeStreamer struct {
	mu       sync.Mutex
	scripts  [][]StreamChunk
	stream   ChunkStream
	startErr error
	tailErr  error
	calls    int
	payloads [][]Turn
}

func (f *fakeStreamer) StreamChat(_ context.Context, turns []Turn) (ChunkStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, append([]Turn(nil), turns...))
	if f.startErr != nil {
		return nil, f.startErr
	}
	if f.stream != nil {
		return f.stream, nil
	}
	var chunks []StreamChunk
	if len(f.scripts) > 0 {
		chunks = f.scripts[0]
		if len(f.scripts) > 1 {
			f.scripts = f.scripts[1:]
		}
	}
	return &scriptedStream{chunks: chunks, err: f.tailErr}, nil
}

type fixedPolicy struct{ match bool }

func (p fixedPolicy) NeedsLookup(string) bool { return p.match }

type fakeSearch struct {
	answer string
	err    error
	calls  int
}

func (f *fakeSearch) Search(context.Context, string) (string, error) {
	f.calls++
	return f.answer, f.err
}

func newTestOrchestrator(store ConversationStore, streamer ChatStreamer, opts ...OrchestratorOption) *Orchestrator {
	ctxmgr := NewContextManager(DefaultContextConfig(), nil, nil)
	return NewOrchestrator(store, streamer, ctxmgr, nil, opts...)
}

func TestSendMessageRejectsEmptyInput(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{}
	o := newTestOrchestrator(store, streamer)

	for _, input := range []string{"", "   ", "\n\t "} {
		err := o.SendMessage(context.Background(), input)
		require.True(t, ariaerrors.IsCode(err, ariaerrors.ErrCodeValidation))
	}

	require.Zero(t, store.createCalls)
	require.Zero(t, streamer.calls)
	require.Empty(t, o.Session().Turns)
	require.Zero(t, o.Context().Stats().TotalTurnsProcessed)
}

func TestSendMessageCreatesConversationLazily(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "Hi"}}}}
	o := newTestOrchestrator(store, streamer)

	require.NoError(t, o.SendMessage(context.Background(), "Hello"))

	require.Equal(t, 1, store.createCalls)
	session := o.Session()
	require.Equal(t, "conv-1", session.ConversationID)
	require.Equal(t, "Hello", session.Title)
	require.Len(t, session.Turns, 2)
	require.Equal(t, RoleUser, session.Turns[0].Role)
	require.Equal(t, "Hello", session.Turns[0].Content)
	require.Equal(t, RoleAssistant, session.Turns[1].Role)

	// A second send reuses the identifier.
	require.NoError(t, o.SendMessage(context.Background(), "Again"))
	require.Equal(t, 1, store.createCalls)
}

func TestSendMessageAccumulatesChunksIntoSingleTurn(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "Hel"}, {DeltaText: "lo"}}}}
	o := newTestOrchestrator(store, streamer)

	require.NoError(t, o.SendMessage(context.Background(), "greet me"))

	session := o.Session()
	require.Equal(t, StatusIdle, session.Status)
	require.Len(t, session.Turns, 2)
	final := session.Turns[1]
	require.Equal(t, RoleAssistant, final.Role)
	require.Equal(t, "Hello", final.Content)
	require.False(t, final.Pending)

	// Both settled turns were persisted in one batch.
	require.Equal(t, 1, store.appendCalls)
	persisted := store.messages[session.ConversationID]
	require.Len(t, persisted, 2)
	require.Equal(t, "Hello", persisted[1].Content)
	require.Equal(t, 1, store.putCalls)
}

func TestSendMessageErrorMarkerReplacesPlaceholder(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "Par"}, {Err: "model overloaded"}}}}
	o := newTestOrchestrator(store, streamer)

	err := o.SendMessage(context.Background(), "tell me something")
	require.True(t, ariaerrors.IsCode(err, ariaerrors.ErrCodeStreamInterrupted))

	session := o.Session()
	require.Equal(t, StatusError, session.Status)
	require.Len(t, session.Turns, 2)
	final := session.Turns[1]
	require.Equal(t, RoleError, final.Role)
	require.Contains(t, final.Content, "model overloaded")
	require.False(t, final.Pending)

	// Nothing is persisted for a failed exchange.
	require.Zero(t, store.appendCalls)
}

func TestSendMessageTransportFailure(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{startErr: errors.New("connection refused")}
	o := newTestOrchestrator(store, streamer)

	err := o.SendMessage(context.Background(), "hello")
	require.True(t, ariaerrors.IsCode(err, ariaerrors.ErrCodeTransport))

	session := o.Session()
	require.Len(t, session.Turns, 2)
	require.Equal(t, RoleError, session.Turns[1].Role)
	for _, turn := range session.Turns {
		require.False(t, turn.Pending)
	}
}

func TestSendMessageEmptyStreamShowsMarker(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{}}}
	o := newTestOrchestrator(store, streamer)

	require.NoError(t, o.SendMessage(context.Background(), "anyone there"))

	session := o.Session()
	require.Equal(t, StatusIdle, session.Status)
	final := session.Turns[1]
	require.Equal(t, RoleAssistant, final.Role)
	require.Equal(t, NoResponseMarker, final.Content)
	require.False(t, final.Pending)

	// Only the user turn is persisted.
	persisted := store.messages[session.ConversationID]
	require.Len(t, persisted, 1)
	require.Equal(t, RoleUser, persisted[0].Role)
}

func TestSendMessageFailedCreationAborts(t *testing.T) {
	store := newFakeStore()
	store.createErr = errors.New("db down")
	streamer := &fakeStreamer{}
	o := newTestOrchestrator(store, streamer)

	err := o.SendMessage(context.Background(), "hello")
	require.True(t, ariaerrors.IsCode(err, ariaerrors.ErrCodeTransport))

	session := o.Session()
	require.Equal(t, StatusIdle, session.Status)
	require.Empty(t, session.ConversationID)
	require.Len(t, session.Turns, 1)
	require.Equal(t, RoleError, session.Turns[0].Role)
	require.Zero(t, streamer.calls)
	require.Zero(t, o.Context().Stats().TotalTurnsProcessed)
}

func TestSendMessageDerivesTitleFromFirstChars(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "ok"}}}}
	o := newTestOrchestrator(store, streamer)

	long := strings.Repeat("abcde ", 20)
	require.NoError(t, o.SendMessage(context.Background(), long))

	session := o.Session()
	require.Len(t, []rune(session.Title), 50)
	require.True(t, strings.HasPrefix(strings.TrimSpace(long), session.Title))
}

func TestSelectConversationLoadsHistoryAndSnapshot(t *testing.T) {
	store := newFakeStore()
	store.messages["conv-7"] = []Turn{
		NewTurn(RoleUser, "old question"),
		NewTurn(RoleAssistant, "old answer"),
	}
	store.snapshots["conv-7"] = &Snapshot{Summary: "they talked before", TurnsSinceLastSummary: 1, TotalTurnsProcessed: 40}
	o := newTestOrchestrator(store, &fakeStreamer{})

	require.NoError(t, o.SelectConversation(context.Background(), "conv-7"))

	session := o.Session()
	require.Equal(t, "conv-7", session.ConversationID)
	require.Len(t, session.Turns, 2)

	snap := o.Context().Export()
	require.Equal(t, "they talked before", snap.Summary)
	require.Equal(t, 40, snap.TotalTurnsProcessed)

	out := o.Context().BuildOutboundContext()
	require.Contains(t, out[1].Content, "they talked before")
}

func TestSelectConversationFallsBackToTurnsWithoutSnapshot(t *testing.T) {
	store := newFakeStore()
	store.messages["conv-3"] = []Turn{
		NewTurn(RoleUser, "q"),
		NewTurn(RoleAssistant, "a"),
	}
	o := newTestOrchestrator(store, &fakeStreamer{})

	require.NoError(t, o.SelectConversation(context.Background(), "conv-3"))

	snap := o.Context().Export()
	require.Empty(t, snap.Summary)
	require.Equal(t, 2, snap.TotalTurnsProcessed)
}

func TestSelectConversationDiscardsSupersededLoad(t *testing.T) {
	store := newFakeStore()
	store.messages["A"] = []Turn{NewTurn(RoleUser, "from A")}
	store.messages["B"] = []Turn{NewTurn(RoleUser, "from B")}
	gate := make(chan struct{})
	store.getGate["A"] = gate
	o := newTestOrchestrator(store, &fakeStreamer{})

	done := make(chan error, 1)
	go func() {
		done <- o.SelectConversation(context.Background(), "A")
	}()

	// Wait for A's fetch to be in flight.
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.getCalls["A"] == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, o.SelectConversation(context.Background(), "B"))

	close(gate)
	require.NoError(t, <-done)

	session := o.Session()
	require.Equal(t, "B", session.ConversationID)
	require.Len(t, session.Turns, 1)
	require.Equal(t, "from B", session.Turns[0].Content)
}

func TestSelectConversationDuplicateLoadIsNoop(t *testing.T) {
	store := newFakeStore()
	store.messages["A"] = []Turn{NewTurn(RoleUser, "from A")}
	gate := make(chan struct{})
	store.getGate["A"] = gate
	o := newTestOrchestrator(store, &fakeStreamer{})

	done := make(chan error, 1)
	go func() {
		done <- o.SelectConversation(context.Background(), "A")
	}()
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.getCalls["A"] == 1
	}, time.Second, time.Millisecond)

	// Same id while the load is in flight: no second fetch.
	require.NoError(t, o.SelectConversation(context.Background(), "A"))

	close(gate)
	require.NoError(t, <-done)
	require.Equal(t, 1, store.getCalls["A"])
}

func TestSelectConversationSkipsRefetchOfFreshlyCreated(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "Hi"}}}}
	o := newTestOrchestrator(store, streamer)

	require.NoError(t, o.SendMessage(context.Background(), "Hello"))
	id := o.Session().ConversationID

	// Navigation to the conversation this session just created must not
	// overwrite the live turns with a refetch.
	require.NoError(t, o.SelectConversation(context.Background(), id))
	require.Zero(t, store.getCalls[id])
	require.Len(t, o.Session().Turns, 2)
}

func TestSendMessageSupersededMidStreamDoesNotTouchNewContext(t *testing.T) {
	store := newFakeStore()
	store.messages["conv-b"] = []Turn{
		NewTurn(RoleUser, "question for B"),
		NewTurn(RoleAssistant, "answer for B"),
	}
	store.conversations = append(store.conversations, ConversationRef{ID: "conv-b", Title: "B"})
	gate := make(chan struct{})
	streamer := &fakeStreamer{stream: &gatedStream{chunks: []StreamChunk{{DeltaText: "reply-for-A"}}, gate: gate}}
	o := newTestOrchestrator(store, streamer)

	done := make(chan error, 1)
	go func() {
		done <- o.SendMessage(context.Background(), "question for A")
	}()

	// Wait for the first chunk to land in the pending slot; the stream then
	// blocks before delivering its end.
	require.Eventually(t, func() bool {
		s := o.Session()
		return len(s.Turns) == 2 && s.Turns[1].Content == "reply-for-A"
	}, time.Second, time.Millisecond)

	require.NoError(t, o.SelectConversation(context.Background(), "conv-b"))

	close(gate)
	require.NoError(t, <-done)

	// The settled exchange still persists under its own conversation.
	persisted := store.messages["conv-1"]
	require.Len(t, persisted, 2)
	require.Equal(t, "reply-for-A", persisted[1].Content)

	// The live context belongs to conv-b now; the superseded send must not
	// inject its reply or upload a snapshot taken from the new context.
	for _, turn := range o.Context().BuildOutboundContext() {
		require.NotContains(t, turn.Content, "reply-for-A")
	}
	require.Zero(t, store.putCalls)
	require.Equal(t, 2, o.Context().Export().TotalTurnsProcessed)

	session := o.Session()
	require.Equal(t, "conv-b", session.ConversationID)
	require.Equal(t, StatusIdle, session.Status)
	for _, turn := range session.Turns {
		require.False(t, turn.Pending)
	}
}

func TestSendMessageSupersededDuringCreationIsDiscarded(t *testing.T) {
	store := newFakeStore()
	store.messages["conv-b"] = []Turn{
		NewTurn(RoleUser, "question for B"),
		NewTurn(RoleAssistant, "answer for B"),
	}
	store.conversations = append(store.conversations, ConversationRef{ID: "conv-b", Title: "B"})
	store.createGate = make(chan struct{})
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "late reply"}}}}
	o := newTestOrchestrator(store, streamer)

	done := make(chan error, 1)
	go func() {
		done <- o.SendMessage(context.Background(), "first message")
	}()
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.createCalls == 1
	}, time.Second, time.Millisecond)

	// A selection lands while the conversation is still being created.
	require.NoError(t, o.SelectConversation(context.Background(), "conv-b"))

	close(store.createGate)
	require.NoError(t, <-done)

	// The abandoned send leaves no trace: no pending placeholder, no
	// streaming status, nothing pushed into the new conversation's context.
	session := o.Session()
	require.Equal(t, "conv-b", session.ConversationID)
	require.Equal(t, StatusIdle, session.Status)
	require.Len(t, session.Turns, 2)
	for _, turn := range session.Turns {
		require.False(t, turn.Pending)
	}
	require.Zero(t, streamer.calls)
	require.Equal(t, 2, o.Context().Export().TotalTurnsProcessed)
	require.Empty(t, store.messages["conv-1"])
}

func TestSendMessageEmptyStreamSettlesLikeSuccess(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{}}}
	var mu sync.Mutex
	var observed []Session
	o := newTestOrchestrator(store, streamer, WithObserver(func(s Session) {
		mu.Lock()
		defer mu.Unlock()
		observed = append(observed, s)
	}))

	require.NoError(t, o.SendMessage(context.Background(), "anyone there"))
	id := o.Session().ConversationID

	// The final observer snapshot shows the settled marker, not a pending
	// placeholder.
	mu.Lock()
	last := observed[len(observed)-1]
	mu.Unlock()
	require.Equal(t, StatusIdle, last.Status)
	final := last.Turns[len(last.Turns)-1]
	require.Equal(t, NoResponseMarker, final.Content)
	require.False(t, final.Pending)

	// Re-selecting the just-created conversation keeps the live turns, the
	// same as after a delivered reply.
	require.NoError(t, o.SelectConversation(context.Background(), id))
	require.Zero(t, store.getCalls[id])
	require.Len(t, o.Session().Turns, 2)
}

func TestSelectConversationResetClearsSession(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "Hi"}}}}
	o := newTestOrchestrator(store, streamer)

	require.NoError(t, o.SendMessage(context.Background(), "Hello"))
	require.NoError(t, o.SelectConversation(context.Background(), ""))

	session := o.Session()
	require.Empty(t, session.ConversationID)
	require.Empty(t, session.Turns)
	require.Equal(t, StatusIdle, session.Status)
	require.Zero(t, o.Context().Stats().TotalTurnsProcessed)
}

func TestLookupInjectionAppendsSystemTurn(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "42"}}}}
	search := &fakeSearch{answer: "the answer is 42"}
	o := newTestOrchestrator(store, streamer, WithSearch(search, fixedPolicy{match: true}))

	require.NoError(t, o.SendMessage(context.Background(), "what is the answer"))

	require.Equal(t, 1, search.calls)
	payload := streamer.payloads[0]
	last := payload[len(payload)-1]
	require.Equal(t, RoleSystem, last.Role)
	require.Contains(t, last.Content, "the answer is 42")
}

func TestLookupSkippedWhenPolicyDoesNotMatch(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "hi"}}}}
	search := &fakeSearch{answer: "unused"}
	o := newTestOrchestrator(store, streamer, WithSearch(search, fixedPolicy{match: false}))

	require.NoError(t, o.SendMessage(context.Background(), "hello"))

	require.Zero(t, search.calls)
	payload := streamer.payloads[0]
	last := payload[len(payload)-1]
	require.Equal(t, RoleUser, last.Role)
}

func TestLookupFailureLeavesPayloadUntouched(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "hi"}}}}
	search := &fakeSearch{err: errors.New("search down")}
	o := newTestOrchestrator(store, streamer, WithSearch(search, fixedPolicy{match: true}))

	require.NoError(t, o.SendMessage(context.Background(), "what is up"))

	payload := streamer.payloads[0]
	last := payload[len(payload)-1]
	require.Equal(t, RoleUser, last.Role)
}

func TestDeleteSelectedConversationResetsSession(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "Hi"}}}}
	o := newTestOrchestrator(store, streamer)

	require.NoError(t, o.SendMessage(context.Background(), "Hello"))
	id := o.Session().ConversationID

	require.NoError(t, o.DeleteConversation(context.Background(), id))
	session := o.Session()
	require.Empty(t, session.ConversationID)
	require.Empty(t, session.Turns)

	list, err := o.ListConversations(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestObserverSeesStreamingProgress(t *testing.T) {
	store := newFakeStore()
	streamer := &fakeStreamer{scripts: [][]StreamChunk{{{DeltaText: "Hel"}, {DeltaText: "lo"}}}}

	var mu sync.Mutex
	var contents []string
	observer := func(s Session) {
		mu.Lock()
		defer mu.Unlock()
		if len(s.Turns) > 0 {
			contents = append(contents, s.Turns[len(s.Turns)-1].Content)
		}
	}
	o := newTestOrchestrator(store, streamer, WithObserver(observer))

	require.NoError(t, o.SendMessage(context.Background(), "greet me"))

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, contents, ThinkingPlaceholder)
	require.Contains(t, contents, "Hel")
	require.Contains(t, contents, "Hello")
}
