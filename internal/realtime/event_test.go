package realtime_test

import (
	"testing"

	"github.com/MrWong99/pushtalk/internal/realtime"
)

func TestParseEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		data   string
		want   realtime.Event
		wantOK bool
	}{
		{
			name: "transcription completed",
			data: `{"type":"conversation.item.input_audio_transcription.completed","item_id":"x","transcript":"hello world"}`,
			want: realtime.Event{
				Type:       realtime.EventTranscriptionCompleted,
				Transcript: "hello world",
			},
			wantOK: true,
		},
		{
			name:   "escaped transcript",
			data:   `{"type":"t","transcript":"say \"hi\"\nthen é"}`,
			want:   realtime.Event{Type: "t", Transcript: "say \"hi\"\nthen é"},
			wantOK: true,
		},
		{
			name:   "error event",
			data:   `{"type":"error","error":{"type":"invalid_request_error","message":"buffer too small"}}`,
			want:   realtime.Event{Type: "error", ErrorMessage: "buffer too small"},
			wantOK: true,
		},
		{
			name:   "unrelated event",
			data:   `{"type":"input_audio_buffer.committed","item_id":"abc"}`,
			want:   realtime.Event{Type: "input_audio_buffer.committed"},
			wantOK: true,
		},
		{
			name:   "nested transcript is not top-level",
			data:   `{"type":"x","item":{"transcript":"deep"}}`,
			want:   realtime.Event{Type: "x"},
			wantOK: true,
		},
		{name: "not json", data: `transcript: hi`},
		{name: "truncated", data: `{"type":"x","transcript":"hi`},
		{name: "array", data: `[{"type":"x"}]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := realtime.ParseEvent([]byte(tc.data))
			if ok != tc.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tc.wantOK)
			}
			if got != tc.want {
				t.Errorf("event = %+v, want %+v", got, tc.want)
			}
		})
	}
}
