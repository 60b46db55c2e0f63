package voice

// WakeEngine is an always-listening detector for a fixed trigger phrase.
// Implementations wrap a concrete detection backend; the controller only
// needs lifecycle control plus one detection event.
type WakeEngine interface {
	Init() error
	Start() error
	Stop() error
	Release() error
}

// SpeechEngine is a speech-to-text session. Start opens the microphone and
// transcription; Stop ends the session, after which the engine fires End.
type SpeechEngine interface {
	Start() error
	Stop() error
}

// WakeEvents receives wake-word detections.
type WakeEvents interface {
	Detected(label string)
}

// SpeechEvents receives transcription progress from a SpeechEngine.
type SpeechEvents interface {
	Result(text string, isFinal bool)
	End()
	Error(err error)
}
