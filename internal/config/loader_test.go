package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/pushtalk/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9000"
  log_level: debug
realtime:
  url: wss://stt.example.com/v1/realtime?model=whisper-large
  target_sample_rate: 16000
  chunk_ms: 20
  keepalive_interval: 0s
  connect_timeout: 5s
  read_limit: 65536
  connect_on_start: false
  breaker:
    max_failures: 3
    reset_timeout: 10s
audio:
  source: wav
  file: testdata/clip.wav
  loop: true
  frames_per_buffer: 512
  silence_rms: 0.01
ptt:
  stdin: false
  http: true
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	rt := cfg.Realtime
	if rt.URL != "wss://stt.example.com/v1/realtime?model=whisper-large" {
		t.Errorf("url = %q", rt.URL)
	}
	if rt.TargetSampleRate != 16000 || rt.ChunkMS != 20 {
		t.Errorf("rate/chunk = %d/%d", rt.TargetSampleRate, rt.ChunkMS)
	}
	if rt.ChunkDuration() != 20*time.Millisecond {
		t.Errorf("ChunkDuration = %v", rt.ChunkDuration())
	}
	if rt.KeepAliveInterval != 0 {
		t.Errorf("explicit zero keepalive overridden to %v", rt.KeepAliveInterval)
	}
	if rt.ConnectTimeout != 5*time.Second || rt.ReadLimit != 65536 || rt.ConnectOnStart {
		t.Errorf("realtime = %+v", rt)
	}
	if rt.Breaker.MaxFailures != 3 || rt.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("breaker = %+v", rt.Breaker)
	}
	a := cfg.Audio
	if a.Source != config.SourceWAV || a.File != "testdata/clip.wav" || !a.Loop || a.FramesPerBuffer != 512 {
		t.Errorf("audio = %+v", a)
	}
	if cfg.PTT.Stdin || !cfg.PTT.HTTP {
		t.Errorf("ptt = %+v", cfg.PTT)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	want := config.Default()
	if *cfg != *want {
		t.Errorf("config = %+v\nwant %+v", *cfg, *want)
	}
	if cfg.Realtime.KeepAliveInterval != 20*time.Second {
		t.Errorf("keepalive = %v, want 20s", cfg.Realtime.KeepAliveInterval)
	}
	if !cfg.Realtime.ConnectOnStart || !cfg.PTT.Stdin || !cfg.PTT.HTTP {
		t.Error("boolean defaults not applied")
	}
}

func TestLoadFromReader_PartialKeepsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader("audio:\n  channels: 2\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Audio.Channels != 2 {
		t.Errorf("channels = %d, want 2", cfg.Audio.Channels)
	}
	if cfg.Audio.SampleRate != config.DefaultSampleRate {
		t.Errorf("sample_rate = %d, want default", cfg.Audio.SampleRate)
	}
	if cfg.Realtime.URL != config.DefaultURL {
		t.Errorf("url = %q, want default", cfg.Realtime.URL)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("realtime:\n  uri: ws://x\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"defaults are valid", func(*config.Config) {}, ""},
		{"bad log level", func(c *config.Config) { c.Server.LogLevel = "loud" }, "server.log_level"},
		{"missing url", func(c *config.Config) { c.Realtime.URL = "" }, "realtime.url is required"},
		{"http url", func(c *config.Config) { c.Realtime.URL = "http://x/v1/realtime" }, "must use ws or wss"},
		{"zero rate", func(c *config.Config) { c.Realtime.TargetSampleRate = 0 }, "target_sample_rate"},
		{"zero chunk", func(c *config.Config) { c.Realtime.ChunkMS = 0 }, "chunk_ms"},
		{"negative keepalive", func(c *config.Config) { c.Realtime.KeepAliveInterval = -time.Second }, "keepalive_interval"},
		{"negative timeout", func(c *config.Config) { c.Realtime.ConnectTimeout = -time.Second }, "connect_timeout"},
		{"zero read limit", func(c *config.Config) { c.Realtime.ReadLimit = 0 }, "read_limit"},
		{"breaker without timeout", func(c *config.Config) {
			c.Realtime.Breaker = config.BreakerConfig{MaxFailures: 2}
		}, "reset_timeout"},
		{"unknown source", func(c *config.Config) { c.Audio.Source = "alsa" }, "audio.source"},
		{"wav without file", func(c *config.Config) { c.Audio.Source = config.SourceWAV }, "audio.file"},
		{"zero channels", func(c *config.Config) { c.Audio.Channels = 0 }, "audio.channels"},
		{"silence out of range", func(c *config.Config) { c.Audio.SilenceRMS = 2 }, "silence_rms"},
		{"http ptt without listener", func(c *config.Config) { c.Server.ListenAddr = "" }, "ptt.http"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Default()
			tc.mutate(cfg)
			err := config.Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Realtime.TargetSampleRate = -1
	cfg.Audio.FramesPerBuffer = 0
	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"target_sample_rate", "frames_per_buffer"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if cfg.Realtime.TargetSampleRate != config.DefaultTargetSampleRate || cfg.Realtime.ChunkMS != config.DefaultChunkMS {
		t.Errorf("realtime = %+v", cfg.Realtime)
	}
	if cfg.Audio.Source != config.SourcePortAudio || cfg.Audio.Channels != 1 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	if cfg.Realtime.KeepAliveInterval != 0 {
		t.Error("ApplyDefaults must not touch fields whose zero value is meaningful")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want ErrNotExist", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()
	cfg, err := config.Load(filepath.Join("..", "..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load(config.example.yaml): %v", err)
	}
	if *cfg != *config.Default() {
		t.Errorf("example config differs from defaults:\n got %+v\nwant %+v", *cfg, *config.Default())
	}
}
