package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// LogLevelChanged is the only hot-reloadable change.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists the YAML keys that changed but only take effect
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	restart := func(changed bool, key string) {
		if changed {
			d.RestartRequired = append(d.RestartRequired, key)
		}
	}
	restart(old.Server.ListenAddr != new.Server.ListenAddr, "server.listen_addr")
	restart(old.Realtime.URL != new.Realtime.URL, "realtime.url")
	restart(old.Realtime.TargetSampleRate != new.Realtime.TargetSampleRate, "realtime.target_sample_rate")
	restart(old.Realtime.ChunkMS != new.Realtime.ChunkMS, "realtime.chunk_ms")
	restart(old.Realtime.KeepAliveInterval != new.Realtime.KeepAliveInterval, "realtime.keepalive_interval")
	restart(old.Realtime.ConnectTimeout != new.Realtime.ConnectTimeout, "realtime.connect_timeout")
	restart(old.Realtime.ReadLimit != new.Realtime.ReadLimit, "realtime.read_limit")
	restart(old.Realtime.Breaker != new.Realtime.Breaker, "realtime.breaker")
	restart(old.Audio != new.Audio, "audio")
	restart(old.PTT != new.PTT, "ptt")

	return d
}
