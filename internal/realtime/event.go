package realtime

import (
	"time"

	"github.com/tidwall/gjson"
)

// Server event types the client reacts to. Everything else is logged at
// debug level and ignored.
const (
	EventError                  = "error"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventTranscriptionDelta     = "conversation.item.input_audio_transcription.delta"
)

// Event is the subset of a server event the client understands. Decoding is
// deliberately partial: only these fields are looked up and the rest of the
// document is never materialised.
type Event struct {
	// Type is the event's "type" field.
	Type string

	// Transcript is the top-level "transcript" field, if any.
	Transcript string

	// ErrorMessage is "error.message" for error events.
	ErrorMessage string
}

// ParseEvent extracts the known fields of a server event. It reports false
// when data is not a JSON object.
func ParseEvent(data []byte) (Event, bool) {
	if !gjson.ValidBytes(data) {
		return Event{}, false
	}
	if !gjson.ParseBytes(data).IsObject() {
		return Event{}, false
	}
	r := gjson.GetManyBytes(data, "type", "transcript", "error.message")
	return Event{
		Type:         r[0].String(),
		Transcript:   r[1].String(),
		ErrorMessage: r[2].String(),
	}, true
}

// Transcript is a piece of recognised text delivered to a
// [TranscriptHandler].
type Transcript struct {
	// Text is the recognised text. Never empty.
	Text string

	// EventType is the server event that carried the text.
	EventType string

	// Generation identifies the connection the text arrived on.
	Generation uint64

	// ReceivedAt is when the event was read from the socket.
	ReceivedAt time.Time
}

// TranscriptHandler receives transcripts on the connection's receive
// goroutine. It must not block for long.
type TranscriptHandler func(Transcript)
