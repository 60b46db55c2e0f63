package voice

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// State of the voice pipeline. Exactly one of the two engines is listening
// at a time, or neither.
type State string

const (
	StateIdle            State = "IDLE"
	StateWakeListening   State = "WAKE_LISTENING"
	StateSpeechListening State = "SPEECH_LISTENING"
)

// Controller is the finite-state machine tying the wake-word engine to the
// speech-to-text engine. A detected wake word hands the microphone to
// speech transcription; a finalized transcript is delivered to the message
// callback and the pipeline returns to wake listening.
//
// The controller implements WakeEvents and SpeechEvents; engines call those
// methods from their own callback threads, so every transition is guarded
// by the internal mutex.
type Controller struct {
	wake    WakeEngine
	speech  SpeechEngine
	onFinal func(text string)
	logger  *slog.Logger

	mu          sync.Mutex
	state       State
	initialized bool
}

// NewController wires the engines to the message callback. The callback is
// invoked outside the controller lock with each finalized transcript.
func NewController(wake WakeEngine, speech SpeechEngine, onFinal func(text string), logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		wake:    wake,
		speech:  speech,
		onFinal: onFinal,
		logger:  logger,
		state:   StateIdle,
	}
}

// State returns the current pipeline state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Enable starts wake-word listening. No-op when already listening.
func (c *Controller) Enable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return nil
	}
	if !c.initialized {
		if err := c.wake.Init(); err != nil {
			return errors.Wrap(err, "failed to initialize wake engine")
		}
		c.initialized = true
	}
	if err := c.wake.Start(); err != nil {
		return errors.Wrap(err, "failed to start wake engine")
	}
	c.state = StateWakeListening
	c.logger.Debug("voice pipeline enabled")
	return nil
}

// Disable stops whichever engine is active and returns to idle.
func (c *Controller) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateWakeListening:
		if err := c.wake.Stop(); err != nil {
			return errors.Wrap(err, "failed to stop wake engine")
		}
	case StateSpeechListening:
		if err := c.speech.Stop(); err != nil {
			return errors.Wrap(err, "failed to stop speech engine")
		}
	}
	c.state = StateIdle
	c.logger.Debug("voice pipeline disabled")
	return nil
}

// Close disables the pipeline and releases the wake engine.
func (c *Controller) Close() error {
	if err := c.Disable(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		c.initialized = false
		return c.wake.Release()
	}
	return nil
}

// Detected handles a wake-word detection. Ignored outside wake listening.
func (c *Controller) Detected(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateWakeListening {
		c.logger.Debug("wake detection ignored", "state", string(c.state), "label", label)
		return
	}
	if err := c.wake.Stop(); err != nil {
		c.logger.Warn("failed to stop wake engine after detection", "error", err)
	}
	if err := c.speech.Start(); err != nil {
		c.logger.Warn("failed to start speech engine, returning to wake listening", "error", err)
		if err := c.wake.Start(); err != nil {
			c.logger.Error("failed to restart wake engine", "error", err)
			c.state = StateIdle
			return
		}
		return
	}
	c.state = StateSpeechListening
	c.logger.Debug("wake word detected, speech listening", "label", label)
}

// Result handles transcription progress. A finalized transcript ends the
// speech session and is delivered to the message callback.
func (c *Controller) Result(text string, isFinal bool) {
	c.mu.Lock()
	if c.state != StateSpeechListening || !isFinal {
		c.mu.Unlock()
		return
	}
	if err := c.speech.Stop(); err != nil {
		c.logger.Warn("failed to stop speech engine after final result", "error", err)
	}
	onFinal := c.onFinal
	c.mu.Unlock()

	text = strings.TrimSpace(text)
	if text != "" && onFinal != nil {
		onFinal(text)
	}
}

// End handles the speech session closing and resumes wake listening.
func (c *Controller) End() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSpeechListening {
		return
	}
	if err := c.wake.Start(); err != nil {
		c.logger.Error("failed to restart wake engine after speech end", "error", err)
		c.state = StateIdle
		return
	}
	c.state = StateWakeListening
}

// Error handles a speech engine failure; the pipeline falls back to wake
// listening rather than dying.
func (c *Controller) Error(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateSpeechListening {
		return
	}
	c.logger.Warn("speech engine error", "error", err)
	if stopErr := c.speech.Stop(); stopErr != nil {
		c.logger.Warn("failed to stop speech engine after error", "error", stopErr)
	}
	if startErr := c.wake.Start(); startErr != nil {
		c.logger.Error("failed to restart wake engine after speech error", "error", startErr)
		c.state = StateIdle
		return
	}
	c.state = StateWakeListening
}
