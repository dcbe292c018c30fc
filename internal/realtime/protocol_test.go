package realtime_test

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/MrWong99/pushtalk/internal/realtime"
)

func TestAppendMessage_Envelope(t *testing.T) {
	t.Parallel()
	samples := []int16{0, 1, -1, 16383, -32768}
	msg := realtime.AppendMessage(samples)

	var env struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal %s: %v", msg, err)
	}
	if env.Type != realtime.TypeAppend {
		t.Errorf("type = %q, want %q", env.Type, realtime.TypeAppend)
	}
	pcm, err := base64.StdEncoding.DecodeString(env.Audio)
	if err != nil {
		t.Fatalf("audio is not standard base64: %v", err)
	}
	if len(pcm) != 2*len(samples) {
		t.Fatalf("decoded %d bytes, want %d", len(pcm), 2*len(samples))
	}
	for i, s := range samples {
		if got := int16(binary.LittleEndian.Uint16(pcm[2*i:])); got != s {
			t.Errorf("sample %d = %d, want %d", i, got, s)
		}
	}
}

func TestAppendMessage_ExactText(t *testing.T) {
	t.Parallel()
	// 0x0001, 0x0002 little-endian = 01 00 02 00 = "AQACAA==".
	got := string(realtime.AppendMessage([]int16{1, 2}))
	want := `{"type":"input_audio_buffer.append","audio":"AQACAA=="}`
	if got != want {
		t.Errorf("got %s\nwant %s", got, want)
	}
}

func TestCommitMessage_ExactText(t *testing.T) {
	t.Parallel()
	want := `{"type":"input_audio_buffer.commit"}`
	msg := realtime.CommitMessage()
	if string(msg) != want {
		t.Errorf("got %s, want %s", msg, want)
	}
	msg[0] = 'X'
	if string(realtime.CommitMessage()) != want {
		t.Error("CommitMessage returned shared storage")
	}
}

func TestMessageType(t *testing.T) {
	t.Parallel()
	if got := realtime.MessageType(realtime.CommitMessage()); got != realtime.TypeCommit {
		t.Errorf("MessageType(commit) = %q", got)
	}
	if got := realtime.MessageType([]byte("nope")); got != "" {
		t.Errorf("MessageType(garbage) = %q, want empty", got)
	}
}
