package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ariavoice/aria/internal/errors"
)

// Status is the coarse lifecycle state of a session.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusCreating  Status = "CREATING"
	StatusLoading   Status = "LOADING"
	StatusStreaming Status = "STREAMING"
	StatusError     Status = "ERROR"
)

// ThinkingPlaceholder is the initial content of the pending assistant turn.
const ThinkingPlaceholder = "Thinking..."

// NoResponseMarker replaces the placeholder when a stream ends without
// producing any text.
const NoResponseMarker = "No response received."

// titleMaxChars bounds titles derived from the first user message.
const titleMaxChars = 50

// ConversationRef identifies a stored conversation.
type ConversationRef struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// ConversationStore is the persistence collaborator. Implementations exist
// for direct database access and for the remote HTTP API; the orchestrator
// does not care which. GetContext returns (nil, nil) when no snapshot has
// been stored yet.
type ConversationStore interface {
	ListConversations(ctx context.Context) ([]ConversationRef, error)
	CreateConversation(ctx context.Context, title string) (ConversationRef, error)
	GetMessages(ctx context.Context, id string) ([]Turn, error)
	AppendMessages(ctx context.Context, id string, turns []Turn) error
	DeleteConversation(ctx context.Context, id string) error
	GetContext(ctx context.Context, id string) (*Snapshot, error)
	PutContext(ctx context.Context, id string, snapshot Snapshot) error
}

// Session is an immutable view of orchestrator state handed to observers.
type Session struct {
	ConversationID string
	Title          string
	Turns          []Turn
	Status         Status
}

// Orchestrator drives one conversation session: lazy conversation creation,
// optimistic sends, stream consumption with an in-place pending turn, and
// context compression via the owned ContextManager. Exported methods are
// safe for concurrent use; resolution of suspended operations is serialized
// through the internal mutex and guarded by an epoch counter so a superseded
// load or send never commits state over a newer selection.
type Orchestrator struct {
	store    ConversationStore
	streamer ChatStreamer
	search   SearchService
	lookup   LookupPolicy
	ctxmgr   *ContextManager
	logger   *slog.Logger
	onChange func(Session)

	mu             sync.Mutex
	conversationID string
	title          string
	turns          []Turn
	status         Status
	epoch          int
	loading        bool
	loadingID      string
	creating       bool
	freshID        string
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSearch wires the best-effort web lookup collaborator and the policy
// deciding when to invoke it.
func WithSearch(search SearchService, policy LookupPolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.search = search
		o.lookup = policy
	}
}

// WithObserver registers a callback invoked with a session snapshot after
// every visible state change. Called without internal locks held.
func WithObserver(fn func(Session)) OrchestratorOption {
	return func(o *Orchestrator) {
		o.onChange = fn
	}
}

// NewOrchestrator creates a session orchestrator. The ContextManager is
// exclusively owned: callers must not share it across orchestrators.
func NewOrchestrator(store ConversationStore, streamer ChatStreamer, ctxmgr *ContextManager, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:    store,
		streamer: streamer,
		ctxmgr:   ctxmgr,
		logger:   logger,
		status:   StatusIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) lock()   { o.mu.Lock() }
func (o *Orchestrator) unlock() { o.mu.Unlock() }

// Session returns a copy of the current session state.
func (o *Orchestrator) Session() Session {
	o.lock()
	defer o.unlock()
	return o.sessionLocked()
}

func (o *Orchestrator) sessionLocked() Session {
	return Session{
		ConversationID: o.conversationID,
		Title:          o.title,
		Turns:          append([]Turn(nil), o.turns...),
		Status:         o.status,
	}
}

func (o *Orchestrator) notify(s Session) {
	if o.onChange != nil {
		o.onChange(s)
	}
}

// Context returns the owned ContextManager.
func (o *Orchestrator) Context() *ContextManager {
	return o.ctxmgr
}

// SelectConversation switches the session to the given conversation. An
// empty id resets to a fresh unsaved session. A load superseded by a newer
// selection resolves without committing anything.
func (o *Orchestrator) SelectConversation(ctx context.Context, id string) error {
	o.lock()

	// Duplicate request for a load already in flight.
	if id != "" && o.loading && o.loadingID == id {
		o.unlock()
		return nil
	}

	o.epoch++
	myEpoch := o.epoch

	if id == "" {
		// A creation in progress owns the session; do not clobber it.
		if o.creating {
			o.unlock()
			return nil
		}
		o.conversationID = ""
		o.title = ""
		o.turns = nil
		o.status = StatusIdle
		o.loading = false
		o.freshID = ""
		o.ctxmgr.Clear()
		s := o.sessionLocked()
		o.unlock()
		o.notify(s)
		return nil
	}

	// The conversation this session just created already holds the live
	// turns; re-fetching would overwrite the in-progress exchange.
	if id == o.freshID {
		o.conversationID = id
		o.unlock()
		return nil
	}

	o.loading = true
	o.loadingID = id
	o.status = StatusLoading
	s := o.sessionLocked()
	o.unlock()
	o.notify(s)

	var (
		fetched  []Turn
		snapshot *Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		turns, err := o.store.GetMessages(gctx, id)
		if err != nil {
			return err
		}
		fetched = turns
		return nil
	})
	g.Go(func() error {
		// Snapshot restore is best-effort; absence or failure falls back
		// to rebuilding context from the fetched turns.
		snap, err := o.store.GetContext(gctx, id)
		if err != nil {
			o.logger.Warn("failed to load context snapshot", "conversation", id, "error", err)
			return nil
		}
		snapshot = snap
		return nil
	})
	err := g.Wait()

	o.lock()
	if o.epoch != myEpoch {
		// A newer selection won; drop this result.
		o.unlock()
		o.logger.Debug("discarding superseded conversation load", "conversation", id)
		return nil
	}
	o.loading = false
	if err != nil {
		o.status = StatusError
		o.turns = append(o.turns, NewTurn(RoleError, fmt.Sprintf("Failed to load conversation: %v", err)))
		s := o.sessionLocked()
		o.unlock()
		o.notify(s)
		return errors.Wrap(err, errors.ErrCodeTransport, "failed to load conversation")
	}

	o.conversationID = id
	o.turns = fetched
	o.status = StatusIdle
	o.freshID = ""
	o.ctxmgr.Clear()
	o.ctxmgr.ImportTurns(fetched)
	if snapshot != nil {
		o.ctxmgr.Import(*snapshot)
	}
	s = o.sessionLocked()
	o.unlock()
	o.notify(s)
	return nil
}

// SendMessage runs one full exchange: validate, ensure a conversation
// exists, append the user turn optimistically, stream the assistant reply
// into an in-place pending turn, then persist the settled turns and the
// updated context snapshot. It blocks until the exchange settles.
func (o *Orchestrator) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.Validation("empty message")
	}

	o.lock()
	myEpoch := o.epoch
	conversationID := o.conversationID

	if conversationID == "" {
		o.status = StatusCreating
		o.creating = true
		title := deriveTitle(text)
		s := o.sessionLocked()
		o.unlock()
		o.notify(s)

		ref, err := o.store.CreateConversation(ctx, title)

		o.lock()
		o.creating = false
		if o.epoch != myEpoch {
			// A selection landed while the conversation was being created;
			// the session belongs to it now. Discard this send instead of
			// writing into the wrong session.
			o.unlock()
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeTransport, "failed to create conversation")
			}
			o.logger.Info("send superseded during conversation creation", "conversation", ref.ID)
			return nil
		}
		if err != nil {
			o.turns = append(o.turns, NewTurn(RoleError, fmt.Sprintf("Failed to create conversation: %v", err)))
			o.status = StatusIdle
			s := o.sessionLocked()
			o.unlock()
			o.notify(s)
			return errors.Wrap(err, errors.ErrCodeTransport, "failed to create conversation")
		}
		conversationID = ref.ID
		o.conversationID = ref.ID
		o.title = ref.Title
		o.freshID = ref.ID
		o.logger.Info("conversation created", "conversation", ref.ID, "title", ref.Title)
	}

	userTurn := NewTurn(RoleUser, text)
	o.turns = append(o.turns, userTurn)
	o.ctxmgr.AddTurn(ctx, userTurn)

	placeholder := Turn{Role: RoleAssistant, Content: ThinkingPlaceholder, CreatedAt: time.Now(), Pending: true}
	o.turns = append(o.turns, placeholder)
	slot := len(o.turns) - 1
	o.status = StatusStreaming
	s := o.sessionLocked()
	o.unlock()
	o.notify(s)

	outbound := o.ctxmgr.BuildOutboundContext()
	outbound = o.augmentWithLookup(ctx, outbound, text)

	stream, err := o.streamer.StreamChat(ctx, outbound)
	if err != nil {
		o.settleError(myEpoch, slot, fmt.Sprintf("Failed to reach the model: %v", err))
		return errors.Wrap(err, errors.ErrCodeTransport, "failed to start model stream")
	}

	var acc strings.Builder
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			o.settleError(myEpoch, slot, fmt.Sprintf("Stream failed: %v", err))
			return errors.Wrap(err, errors.ErrCodeTransport, "model stream failed")
		}
		if chunk.Err != "" {
			o.settleError(myEpoch, slot, fmt.Sprintf("Server stream error: %s", chunk.Err))
			return errors.StreamInterrupted(chunk.Err)
		}
		if chunk.DeltaText == "" {
			continue
		}
		acc.WriteString(chunk.DeltaText)
		o.updateSlot(myEpoch, slot, Turn{Role: RoleAssistant, Content: acc.String(), CreatedAt: placeholder.CreatedAt, Pending: true})
	}

	reply := acc.String()
	if reply == "" {
		// Nothing came back; show the marker but persist only the user turn.
		o.updateSlot(myEpoch, slot, Turn{Role: RoleAssistant, Content: NoResponseMarker, CreatedAt: placeholder.CreatedAt})
		o.setStatus(myEpoch, StatusIdle)
		o.settle(ctx, myEpoch, conversationID, []Turn{userTurn}, nil)
		return nil
	}

	assistantTurn := Turn{Role: RoleAssistant, Content: reply, CreatedAt: time.Now()}
	o.updateSlot(myEpoch, slot, assistantTurn)
	o.setStatus(myEpoch, StatusIdle)
	o.settle(ctx, myEpoch, conversationID, []Turn{userTurn, assistantTurn}, &assistantTurn)
	return nil
}

// augmentWithLookup appends one externally-retrieved answer as a system turn
// when the outgoing text matches the lookup policy. Best-effort: failures
// and empty answers leave the payload untouched.
func (o *Orchestrator) augmentWithLookup(ctx context.Context, outbound []Turn, text string) []Turn {
	if o.search == nil || o.lookup == nil || !o.lookup.NeedsLookup(text) {
		return outbound
	}
	answer, err := o.search.Search(ctx, text)
	if err != nil {
		o.logger.Warn("web lookup failed", "error", err)
		return outbound
	}
	if strings.TrimSpace(answer) == "" {
		o.logger.Debug("web lookup returned no answer")
		return outbound
	}
	o.logger.Debug("web lookup answer injected", "chars", len(answer))
	return append(outbound, Turn{
		Role:      RoleSystem,
		Content:   "Web search result: " + answer + ". Integrate this information seamlessly into your response without explicitly mentioning that it was looked up or provided to you.",
		CreatedAt: time.Now(),
	})
}

// updateSlot rewrites the pending turn in place, unless a newer selection
// has taken over the session.
func (o *Orchestrator) updateSlot(epoch, slot int, turn Turn) {
	o.lock()
	if o.epoch != epoch || slot >= len(o.turns) {
		o.unlock()
		return
	}
	o.turns[slot] = turn
	s := o.sessionLocked()
	o.unlock()
	o.notify(s)
}

func (o *Orchestrator) setStatus(epoch int, status Status) {
	o.lock()
	if o.epoch != epoch {
		o.unlock()
		return
	}
	o.status = status
	s := o.sessionLocked()
	o.unlock()
	o.notify(s)
}

// settleError replaces the pending placeholder with a single error turn so
// no "thinking" slot survives a failed send.
func (o *Orchestrator) settleError(epoch, slot int, message string) {
	o.lock()
	if o.epoch != epoch {
		o.unlock()
		return
	}
	errTurn := NewTurn(RoleError, message)
	if slot < len(o.turns) && o.turns[slot].Pending {
		o.turns[slot] = errTurn
	} else {
		o.turns = append(o.turns, errTurn)
	}
	o.status = StatusError
	s := o.sessionLocked()
	o.unlock()
	o.notify(s)
}

// settle commits the outcome of a send. The settled turns always persist
// under their own conversation; they happened regardless of what the
// session shows now. Everything touching the live context manager and the
// snapshot upload applies only while this send still owns the session, so
// a switch mid-stream never leaks one conversation's reply into another's
// context. Writes are at-least-once and failures are logged, not rolled
// back.
func (o *Orchestrator) settle(ctx context.Context, epoch int, conversationID string, turns []Turn, assistant *Turn) {
	o.lock()
	owned := o.epoch == epoch
	var snapshot Snapshot
	if owned {
		if assistant != nil {
			o.ctxmgr.AddTurn(ctx, *assistant)
		}
		snapshot = o.ctxmgr.Export()
	}
	s := o.sessionLocked()
	o.unlock()

	if err := o.store.AppendMessages(ctx, conversationID, turns); err != nil {
		o.logger.Warn("failed to persist turns", "conversation", conversationID, "error", err)
	}
	if !owned {
		o.logger.Debug("send superseded mid-stream, context snapshot not uploaded", "conversation", conversationID)
		return
	}
	if err := o.store.PutContext(ctx, conversationID, snapshot); err != nil {
		o.logger.Warn("failed to persist context snapshot", "conversation", conversationID, "error", err)
	}
	o.notify(s)
}

// ListConversations returns stored conversations, newest first.
func (o *Orchestrator) ListConversations(ctx context.Context) ([]ConversationRef, error) {
	return o.store.ListConversations(ctx)
}

// DeleteConversation removes a stored conversation. Deleting the selected
// conversation resets the session.
func (o *Orchestrator) DeleteConversation(ctx context.Context, id string) error {
	if err := o.store.DeleteConversation(ctx, id); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "failed to delete conversation")
	}
	o.lock()
	deleted := o.conversationID == id
	o.unlock()
	if deleted {
		return o.SelectConversation(ctx, "")
	}
	return nil
}

// deriveTitle takes the first chunk of the message as the conversation
// title.
func deriveTitle(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= titleMaxChars {
		return text
	}
	return string(runes[:titleMaxChars])
}
