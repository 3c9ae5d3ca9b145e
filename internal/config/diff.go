package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; they apply to
// sessions created after the reload.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	CaptureChanged  bool
	PlaybackChanged bool

	// InstructionChanged is true when the system instruction or voice changed.
	InstructionChanged bool

	// RestartRequired lists the sections that changed but only take effect
	// after a restart (listen address, providers, memory, mode).
	RestartRequired []string
}

// Changed reports whether any hot-reloadable field differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.CaptureChanged || d.PlaybackChanged || d.InstructionChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	d.CaptureChanged = old.Audio.Capture != new.Audio.Capture
	d.PlaybackChanged = old.Audio.Playback != new.Audio.Playback
	d.InstructionChanged = old.Session.SystemInstruction != new.Session.SystemInstruction ||
		!sameVoice(old, new)

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !sameProviders(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Memory != new.Memory {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	if old.Session.Mode != new.Session.Mode {
		d.RestartRequired = append(d.RestartRequired, "session.mode")
	}
	return d
}

func sameVoice(old, new *Config) bool {
	a, b := old.Session.Voice, new.Session.Voice
	if a.ID != b.ID || a.Name != b.Name || a.Provider != b.Provider || a.SpeedFactor != b.SpeedFactor {
		return false
	}
	if len(a.Metadata) != len(b.Metadata) {
		return false
	}
	for k, v := range a.Metadata {
		if b.Metadata[k] != v {
			return false
		}
	}
	return true
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// sameProviders compares the identifying fields of every entry. Options are
// ignored because their values are not comparable.
func sameProviders(a, b ProvidersConfig) bool {
	pairs := [][2]ProviderEntry{
		{a.S2S, b.S2S}, {a.TTS, b.TTS}, {a.TTSFallback, b.TTSFallback},
		{a.Converse, b.Converse}, {a.LLM, b.LLM}, {a.LLMFallback, b.LLMFallback},
		{a.Embeddings, b.Embeddings},
	}
	for _, p := range pairs {
		x, y := p[0], p[1]
		if x.Name != y.Name || x.APIKey != y.APIKey || x.BaseURL != y.BaseURL || x.Model != y.Model {
			return false
		}
	}
	return true
}
