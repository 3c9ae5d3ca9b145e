package tts

// VoiceProfile selects a voice. Speech-to-speech endpoints read only ID.
type VoiceProfile struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`

	// SpeedFactor scales the speaking rate within [0.5, 2.0]. Zero leaves
	// the backend default.
	SpeedFactor float64 `yaml:"speed_factor"`

	// Metadata carries backend tuning knobs, e.g. ElevenLabs "stability".
	Metadata map[string]string `yaml:"metadata"`
}
