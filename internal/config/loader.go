package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. Unknown keys are rejected. An empty document yields
// the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found and logs
// warnings for settings that are legal but probably unintended.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Realtime
	rt := cfg.Realtime
	if rt.URL == "" {
		errs = append(errs, errors.New("realtime.url is required"))
	} else if u, err := url.Parse(rt.URL); err != nil {
		errs = append(errs, fmt.Errorf("realtime.url %q: %w", rt.URL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("realtime.url %q must use ws or wss", rt.URL))
	} else if u.Query().Get("model") == "" {
		slog.Warn("realtime.url has no model query parameter; the server default model will be used", "url", rt.URL)
	}
	if rt.TargetSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("realtime.target_sample_rate %d must be positive", rt.TargetSampleRate))
	}
	if rt.ChunkMS <= 0 {
		errs = append(errs, fmt.Errorf("realtime.chunk_ms %d must be positive", rt.ChunkMS))
	} else if rt.TargetSampleRate > 0 {
		if rt.TargetSampleRate*rt.ChunkMS < 1000 {
			errs = append(errs, fmt.Errorf("realtime.chunk_ms %d is shorter than one sample at %d Hz", rt.ChunkMS, rt.TargetSampleRate))
		} else if rt.TargetSampleRate*rt.ChunkMS%1000 != 0 {
			slog.Warn("realtime.chunk_ms does not divide into whole samples; frames are rounded down",
				"chunk_ms", rt.ChunkMS, "target_sample_rate", rt.TargetSampleRate)
		}
	}
	if rt.KeepAliveInterval < 0 {
		errs = append(errs, fmt.Errorf("realtime.keepalive_interval %s must not be negative", rt.KeepAliveInterval))
	}
	if rt.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("realtime.connect_timeout %s must not be negative", rt.ConnectTimeout))
	}
	if rt.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("realtime.read_limit %d must be positive", rt.ReadLimit))
	}
	if rt.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("realtime.breaker.max_failures %d must not be negative", rt.Breaker.MaxFailures))
	}
	if rt.Breaker.MaxFailures > 0 && rt.Breaker.ResetTimeout <= 0 {
		errs = append(errs, errors.New("realtime.breaker.reset_timeout must be positive when the breaker is enabled"))
	}

	// Audio
	a := cfg.Audio
	if !slices.Contains(SourceNames, a.Source) {
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: %v", a.Source, SourceNames))
	}
	if a.Source == SourceWAV && a.File == "" {
		errs = append(errs, errors.New("audio.file is required when audio.source is wav"))
	}
	if a.Source == SourcePortAudio {
		if a.SampleRate <= 0 {
			errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
		}
		if a.Channels <= 0 {
			errs = append(errs, fmt.Errorf("audio.channels %d must be positive", a.Channels))
		}
	}
	if a.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.frames_per_buffer %d must be positive", a.FramesPerBuffer))
	}
	if a.SilenceRMS < 0 || a.SilenceRMS > 1 {
		errs = append(errs, fmt.Errorf("audio.silence_rms %.4f is out of range [0, 1]", a.SilenceRMS))
	}

	// PTT
	if cfg.PTT.HTTP && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("ptt.http requires server.listen_addr"))
	}
	if !cfg.PTT.HTTP && !cfg.PTT.Stdin {
		slog.Warn("no push-to-talk input enabled; audio will never be streamed")
	}

	return errors.Join(errs...)
}
