package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/pushtalk/internal/config"
)

func TestDiff(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		mutate      func(*config.Config)
		wantLevel   bool
		wantRestart []string
	}{
		{"identical", func(*config.Config) {}, false, nil},
		{"log level", func(c *config.Config) { c.Server.LogLevel = config.LogWarn }, true, nil},
		{"url", func(c *config.Config) { c.Realtime.URL = "ws://other/v1/realtime" }, false, []string{"realtime.url"}},
		{"breaker", func(c *config.Config) { c.Realtime.Breaker.MaxFailures = 4 }, false, []string{"realtime.breaker"}},
		{"audio and ptt", func(c *config.Config) {
			c.Audio.Device = "USB Mic"
			c.PTT.Stdin = false
		}, false, []string{"audio", "ptt"}},
		{"level and keepalive", func(c *config.Config) {
			c.Server.LogLevel = config.LogDebug
			c.Realtime.KeepAliveInterval = time.Minute
		}, true, []string{"realtime.keepalive_interval"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			next := config.Default()
			tc.mutate(next)
			d := config.Diff(old, next)
			if d.LogLevelChanged != tc.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tc.wantLevel)
			}
			if tc.wantLevel && d.NewLogLevel != next.Server.LogLevel {
				t.Errorf("NewLogLevel = %q, want %q", d.NewLogLevel, next.Server.LogLevel)
			}
			if !slices.Equal(d.RestartRequired, tc.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tc.wantRestart)
			}
		})
	}
}
