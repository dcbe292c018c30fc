// Package config provides the configuration schema, loader, hot-reload
// watcher and capture source registry for pushtalk.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Capture source names understood by the built-in registry.
const (
	SourcePortAudio = "portaudio"
	SourceWAV       = "wav"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Audio    AudioConfig    `yaml:"audio"`
	PTT      PTTConfig      `yaml:"ptt"`
}

// ServerConfig holds the control HTTP listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address for health, metrics and PTT control
	// (e.g. ":8090"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`
}

// RealtimeConfig configures the transcription websocket.
type RealtimeConfig struct {
	// URL is the websocket endpoint, including the model query parameter.
	URL string `yaml:"url"`

	// TargetSampleRate is the PCM16 rate the endpoint expects.
	TargetSampleRate int `yaml:"target_sample_rate"`

	// ChunkMS is the duration of one append event in milliseconds.
	ChunkMS int `yaml:"chunk_ms"`

	// KeepAliveInterval is the websocket ping period. Zero disables pings.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	// ConnectTimeout bounds each dial. Zero means no timeout.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReadLimit is the largest inbound message accepted, in bytes.
	ReadLimit int64 `yaml:"read_limit"`

	// ConnectOnStart dials at startup instead of waiting for the first
	// key-down.
	ConnectOnStart bool `yaml:"connect_on_start"`

	// Breaker guards repeated dial failures.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ChunkDuration returns ChunkMS as a [time.Duration].
func (r RealtimeConfig) ChunkDuration() time.Duration {
	return time.Duration(r.ChunkMS) * time.Millisecond
}

// BreakerConfig configures the dial circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive dial failures that opens the
	// breaker. Zero disables the breaker.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long the breaker stays open before a probe.
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// AudioConfig selects and configures the capture source.
type AudioConfig struct {
	// Source names a registered capture source ("portaudio" or "wav").
	Source string `yaml:"source"`

	// Device is the PortAudio input device name. Empty selects the default.
	Device string `yaml:"device"`

	// SampleRate is the capture rate in Hz. WAV sources use the file's rate.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the capture channel count. WAV sources use the file's
	// channel count.
	Channels int `yaml:"channels"`

	// FramesPerBuffer is the number of frames per capture block.
	FramesPerBuffer int `yaml:"frames_per_buffer"`

	// File is the WAV file replayed by the "wav" source.
	File string `yaml:"file"`

	// Loop restarts WAV playback at end of file.
	Loop bool `yaml:"loop"`

	// SilenceRMS is a level below which a block is reported as silent in
	// debug logs. It never gates audio.
	SilenceRMS float64 `yaml:"silence_rms"`
}

// PTTConfig selects the push-to-talk inputs.
type PTTConfig struct {
	// Stdin reads key edges from standard input lines.
	Stdin bool `yaml:"stdin"`

	// HTTP exposes POST /ptt/down and /ptt/up on server.listen_addr.
	HTTP bool `yaml:"http"`
}

// Defaults.
const (
	DefaultListenAddr        = ":8090"
	DefaultURL               = "ws://localhost:8000/v1/realtime?model=Systran/faster-whisper-medium"
	DefaultTargetSampleRate  = 24000
	DefaultChunkMS           = 40
	DefaultKeepAliveInterval = 20 * time.Second
	DefaultReadLimit         = 1 << 20
	DefaultResetTimeout      = 30 * time.Second
	DefaultSampleRate        = 48000
	DefaultChannels          = 1
	DefaultFramesPerBuffer   = 1024
	DefaultSilenceRMS        = 0.003
)

// Default returns a config with every field at its default. [LoadFromReader]
// decodes on top of it, so keys absent from the file keep these values while
// explicit zeros are honoured.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   LogInfo,
		},
		Realtime: RealtimeConfig{
			URL:               DefaultURL,
			TargetSampleRate:  DefaultTargetSampleRate,
			ChunkMS:           DefaultChunkMS,
			KeepAliveInterval: DefaultKeepAliveInterval,
			ReadLimit:         DefaultReadLimit,
			ConnectOnStart:    true,
			Breaker: BreakerConfig{
				ResetTimeout: DefaultResetTimeout,
			},
		},
		Audio: AudioConfig{
			Source:          SourcePortAudio,
			SampleRate:      DefaultSampleRate,
			Channels:        DefaultChannels,
			FramesPerBuffer: DefaultFramesPerBuffer,
			SilenceRMS:      DefaultSilenceRMS,
		},
		PTT: PTTConfig{
			Stdin: true,
			HTTP:  true,
		},
	}
}

// ApplyDefaults fills fields whose zero value is never meaningful. It is
// meant for configs built in code; files loaded by [Load] already start from
// [Default].
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Realtime.URL == "" {
		cfg.Realtime.URL = DefaultURL
	}
	if cfg.Realtime.TargetSampleRate == 0 {
		cfg.Realtime.TargetSampleRate = DefaultTargetSampleRate
	}
	if cfg.Realtime.ChunkMS == 0 {
		cfg.Realtime.ChunkMS = DefaultChunkMS
	}
	if cfg.Realtime.ReadLimit == 0 {
		cfg.Realtime.ReadLimit = DefaultReadLimit
	}
	if cfg.Realtime.Breaker.ResetTimeout == 0 {
		cfg.Realtime.Breaker.ResetTimeout = DefaultResetTimeout
	}
	if cfg.Audio.Source == "" {
		cfg.Audio.Source = SourcePortAudio
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = DefaultSampleRate
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = DefaultChannels
	}
	if cfg.Audio.FramesPerBuffer == 0 {
		cfg.Audio.FramesPerBuffer = DefaultFramesPerBuffer
	}
}
