package config

// ConfigDiff describes what changed between two configs. The log level is
// the only change applied to a running process; the session and audio
// sections take effect when the next session starts, and listener changes
// need a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ListenerChanged covers listen_addr and the TLS block.
	ListenerChanged bool

	// ProviderChanged covers the provider name, credential, endpoint, and
	// model.
	ProviderChanged bool

	// SessionChanged covers the voice and system instruction.
	SessionChanged bool

	// AudioChanged covers the sample rates and chunk size.
	AudioChanged bool

	// OutboundChanged covers the queue size and overflow policy.
	OutboundChanged bool

	// ReconnectChanged covers the reconnect policy.
	ReconnectChanged bool
}

// Any reports whether the diff contains a change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.ListenerChanged || d.ProviderChanged ||
		d.SessionChanged || d.AudioChanged || d.OutboundChanged || d.ReconnectChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Server.ListenAddr != new.Server.ListenAddr || !tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.ListenerChanged = true
	}
	if old.Provider != new.Provider {
		d.ProviderChanged = true
	}
	if old.Session != new.Session {
		d.SessionChanged = true
	}
	if old.Audio != new.Audio {
		d.AudioChanged = true
	}
	if old.Outbound != new.Outbound {
		d.OutboundChanged = true
	}
	if old.Reconnect != new.Reconnect {
		d.ReconnectChanged = true
	}

	return d
}

// tlsEqual compares two optional TLS blocks by value.
func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
