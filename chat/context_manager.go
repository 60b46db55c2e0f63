package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Default thresholds for the rolling-summary policy. The first summary waits
// until enough turns exist to be worth compressing; updates happen less often
// so the summarizer is not hammered on every exchange.
const (
	DefaultInitialThreshold = 8
	DefaultUpdateThreshold  = 4
	DefaultMaxRecent        = 12
	DefaultMaxSummaryWords  = 1000
)

// DefaultSystemPrompt is the persona sent as the first system turn of every
// outbound payload.
const DefaultSystemPrompt = `You are Aria, an advanced AI assistant. You are helpful, intelligent, and maintain a slightly sophisticated but friendly tone. You remember the conversation context and can reference previous messages naturally.`

// summaryPrefix marks the rolling summary when it is injected as a system
// turn into the outbound payload.
const summaryPrefix = "Conversation context: "

// ContextConfig tunes the compression policy of a ContextManager.
type ContextConfig struct {
	// InitialThreshold is the total turn count that triggers the first summary.
	InitialThreshold int
	// UpdateThreshold is the number of new turns that triggers a summary update.
	UpdateThreshold int
	// MaxRecent is the size of the verbatim recency window.
	MaxRecent int
	// MaxSummaryWords caps the summary length requested from the summarizer.
	MaxSummaryWords int
	// SystemPrompt leads every outbound payload.
	SystemPrompt string
}

// DefaultContextConfig returns the standard policy.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{
		InitialThreshold: DefaultInitialThreshold,
		UpdateThreshold:  DefaultUpdateThreshold,
		MaxRecent:        DefaultMaxRecent,
		MaxSummaryWords:  DefaultMaxSummaryWords,
		SystemPrompt:     DefaultSystemPrompt,
	}
}

func (c ContextConfig) normalized() ContextConfig {
	d := DefaultContextConfig()
	if c.InitialThreshold <= 0 {
		c.InitialThreshold = d.InitialThreshold
	}
	if c.UpdateThreshold <= 0 {
		c.UpdateThreshold = d.UpdateThreshold
	}
	if c.MaxRecent <= 0 {
		c.MaxRecent = d.MaxRecent
	}
	if c.MaxSummaryWords <= 0 {
		c.MaxSummaryWords = d.MaxSummaryWords
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	return c
}

// Snapshot is the persistence-friendly projection of compression state.
// Recent turns are not part of it; they are rebuilt from stored messages.
type Snapshot struct {
	Summary               string `json:"summary"`
	TurnsSinceLastSummary int    `json:"turnsSinceLastSummary"`
	TotalTurnsProcessed   int    `json:"totalTurnsProcessed"`
}

// ContextStats reports the current shape of the managed context.
type ContextStats struct {
	RecentTurns           int
	TotalTurnsProcessed   int
	TurnsSinceLastSummary int
	EstimatedTokens       int
	HasSummary            bool
	SummaryWords          int
	Summarizing           bool
}

// ContextManager keeps a bounded conversation context: a recency window of
// verbatim turns plus one rolling summary standing in for everything folded
// out of the window. Summarization runs in the background, single-flight per
// instance. All exported methods are safe for concurrent use.
type ContextManager struct {
	cfg        ContextConfig
	summarizer Summarizer
	logger     *slog.Logger

	mu                    sync.Mutex
	history               []Turn
	summary               string
	turnsSinceLastSummary int
	totalTurnsProcessed   int
	summarizing           bool
	trimWarned            bool
	// generation invalidates in-flight summarizations: a result computed
	// before a reset must not land on whatever conversation came after it.
	generation uint64

	wg sync.WaitGroup
}

// NewContextManager creates a manager with the given policy. A nil
// summarizer disables compression: turns still trim to the recency window,
// but no summary is ever produced.
func NewContextManager(cfg ContextConfig, summarizer Summarizer, logger *slog.Logger) *ContextManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextManager{
		cfg:        cfg.normalized(),
		summarizer: summarizer,
		logger:     logger,
	}
}

// AddTurn appends a user or assistant turn and kicks off compression in the
// background. Other roles are ignored. The caller does not wait for
// summarization; the next outbound build uses whatever summary is current.
func (m *ContextManager) AddTurn(ctx context.Context, turn Turn) {
	if turn.Role != RoleUser && turn.Role != RoleAssistant {
		return
	}

	m.mu.Lock()
	m.history = append(m.history, turn)
	m.turnsSinceLastSummary++
	m.totalTurnsProcessed++
	m.logger.Debug("context turn added",
		"role", string(turn.Role),
		"history", len(m.history),
		"since_last_summary", m.turnsSinceLastSummary)
	m.mu.Unlock()

	// Summarization must outlive the request that triggered it.
	bg := context.WithoutCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.optimize(bg)
	}()
}

// BuildOutboundContext assembles the payload for a model call: the system
// prompt, the summary as a second system turn when present, then the recency
// window in insertion order. No side effects; identical state yields
// identical output.
func (m *ContextManager) BuildOutboundContext() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Turn, 0, len(m.history)+2)
	out = append(out, Turn{Role: RoleSystem, Content: m.cfg.SystemPrompt})
	if strings.TrimSpace(m.summary) != "" {
		out = append(out, Turn{Role: RoleSystem, Content: summaryPrefix + m.summary})
	}
	recent := m.history
	if len(recent) > m.cfg.MaxRecent {
		recent = recent[len(recent)-m.cfg.MaxRecent:]
	}
	out = append(out, recent...)
	return out
}

// optimize decides whether a summary is due, runs at most one summarizer
// call, and trims the recency window. Trimming happens regardless of the
// summarization outcome so memory stays bounded even when the summarizer
// is unreachable.
func (m *ContextManager) optimize(ctx context.Context) {
	m.mu.Lock()
	if m.summarizing {
		m.logger.Debug("summarization already in flight, skipping")
		m.mu.Unlock()
		return
	}

	initial := m.summary == "" && m.totalTurnsProcessed >= m.cfg.InitialThreshold
	update := m.summary != "" && m.turnsSinceLastSummary >= m.cfg.UpdateThreshold

	if (initial || update) && m.summarizer != nil {
		var toFold []Turn
		if initial {
			toFold = append(toFold, m.history...)
		} else {
			n := m.turnsSinceLastSummary
			if n > len(m.history) {
				n = len(m.history)
			}
			toFold = append(toFold, m.history[len(m.history)-n:]...)
		}
		prior := m.summary
		gen := m.generation
		m.summarizing = true
		m.mu.Unlock()

		summary, err := m.summarizer.Summarize(ctx, toFold, prior)

		m.mu.Lock()
		if m.generation != gen {
			// The manager was reset while we were summarizing; the result
			// belongs to the previous conversation.
			m.logger.Debug("discarding summary computed before reset")
			m.mu.Unlock()
			return
		}
		m.summarizing = false
		if err != nil {
			// Non-fatal: the prior summary stands and the next trigger
			// condition retries naturally.
			m.logger.Warn("summarization failed, keeping prior summary", "error", err)
		} else if strings.TrimSpace(summary) == "" {
			m.logger.Warn("summarizer returned empty summary, keeping prior summary")
		} else {
			m.summary = strings.TrimSpace(summary)
			m.turnsSinceLastSummary = 0
			m.trimWarned = false
			m.logger.Debug("summary updated",
				"initial", initial,
				"folded", len(toFold),
				"words", len(strings.Fields(m.summary)))
		}
	}

	m.trimLocked()
	m.mu.Unlock()
}

// trimLocked drops turns older than the recency window. Callers hold mu.
func (m *ContextManager) trimLocked() {
	excess := len(m.history) - m.cfg.MaxRecent
	if excess <= 0 {
		return
	}
	// Turns trimmed while no summary covers them are gone for good. Warn
	// once per gap instead of failing, so a dead summarizer degrades to a
	// sliding window rather than unbounded growth.
	if m.turnsSinceLastSummary > m.cfg.MaxRecent && !m.trimWarned {
		m.logger.Warn("trimming turns not yet covered by a summary",
			"trimmed", excess,
			"since_last_summary", m.turnsSinceLastSummary)
		m.trimWarned = true
	}
	m.history = append([]Turn(nil), m.history[excess:]...)
	m.logger.Debug("trimmed history", "removed", excess, "kept", len(m.history))
}

// Wait blocks until all background summarizations spawned so far settle.
func (m *ContextManager) Wait() {
	m.wg.Wait()
}

// Export returns the persistable compression state.
func (m *ContextManager) Export() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Summary:               m.summary,
		TurnsSinceLastSummary: m.turnsSinceLastSummary,
		TotalTurnsProcessed:   m.totalTurnsProcessed,
	}
}

// Import restores previously exported compression state, replacing the
// current summary and counters. The recency window is untouched; load it
// separately with ImportTurns.
func (m *ContextManager) Import(snapshot Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = snapshot.Summary
	m.turnsSinceLastSummary = snapshot.TurnsSinceLastSummary
	m.totalTurnsProcessed = snapshot.TotalTurnsProcessed
	if m.turnsSinceLastSummary < 0 {
		m.turnsSinceLastSummary = 0
	}
	if m.totalTurnsProcessed < 0 {
		m.totalTurnsProcessed = 0
	}
	m.summarizing = false
	m.generation++
}

// ImportTurns rebuilds the recency window from stored messages, replacing
// all current state. Entries with roles other than user/assistant or with
// empty content are skipped rather than rejected.
func (m *ContextManager) ImportTurns(turns []Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	for _, t := range turns {
		if t.Role != RoleUser && t.Role != RoleAssistant {
			continue
		}
		if t.Content == "" {
			continue
		}
		m.history = append(m.history, t)
	}
	m.totalTurnsProcessed = len(m.history)
}

// Clear resets to the initial empty state. Used on conversation switch.
func (m *ContextManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *ContextManager) resetLocked() {
	m.history = nil
	m.summary = ""
	m.turnsSinceLastSummary = 0
	m.totalTurnsProcessed = 0
	m.summarizing = false
	m.trimWarned = false
	m.generation++
}

// Stats reports the current shape of the context.
func (m *ContextManager) Stats() ContextStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	chars := len(m.cfg.SystemPrompt)
	for _, t := range m.history {
		chars += len(t.Content)
	}
	if m.summary != "" {
		chars += len(summaryPrefix) + len(m.summary)
	}

	return ContextStats{
		RecentTurns:           len(m.history),
		TotalTurnsProcessed:   m.totalTurnsProcessed,
		TurnsSinceLastSummary: m.turnsSinceLastSummary,
		EstimatedTokens:       (chars + 3) / 4,
		HasSummary:            strings.TrimSpace(m.summary) != "",
		SummaryWords:          len(strings.Fields(m.summary)),
		Summarizing:           m.summarizing,
	}
}
