package vad

// VADEvent represents a voice activity detection result for a single audio frame.
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Level is the frame's measured level in the engine's scale (RMS for the
	// energy engine).
	Level float64
}

// VADEventType enumerates VAD detection states.
type VADEventType int

const (
	// VADSettling indicates the frame fell inside the settle window and was ignored.
	VADSettling VADEventType = iota

	// VADSpeechStart indicates speech has just begun.
	VADSpeechStart

	// VADSpeechContinue indicates the segment is ongoing. Trailing silence
	// shorter than the silence timeout still reports Continue.
	VADSpeechContinue

	// VADSpeechEnd indicates the silence timeout elapsed after speech.
	VADSpeechEnd

	// VADSilence indicates no speech has been detected yet.
	VADSilence
)

// String returns the human-readable name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSettling:
		return "SETTLING"
	case VADSpeechStart:
		return "SPEECH_START"
	case VADSpeechContinue:
		return "SPEECH_CONTINUE"
	case VADSpeechEnd:
		return "SPEECH_END"
	case VADSilence:
		return "SILENCE"
	default:
		return "UNKNOWN"
	}
}
