// Package realtime streams PCM16 audio to an OpenAI-Realtime-compatible
// transcription endpoint over a websocket and relays the transcripts it
// returns.
//
// Only two client events are ever sent:
//
//	{"type":"input_audio_buffer.append","audio":"<base64 little-endian PCM16>"}
//	{"type":"input_audio_buffer.commit"}
//
// No session configuration is sent; the endpoint's defaults (selected by
// the model query parameter of the URL) apply.
package realtime

import (
	"encoding/base64"
	"encoding/json"

	"github.com/MrWong99/pushtalk/pkg/audio"
	"github.com/tidwall/gjson"
)

// Client event types.
const (
	TypeAppend = "input_audio_buffer.append"
	TypeCommit = "input_audio_buffer.commit"
)

type appendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type commitMessage struct {
	Type string `json:"type"`
}

// commitPayload never changes, so it is marshalled once.
var commitPayload = mustMarshal(commitMessage{Type: TypeCommit})

// AppendMessage encodes samples as an input_audio_buffer.append event.
func AppendMessage(samples []int16) []byte {
	pcm := audio.PCM16LE(make([]byte, 0, len(samples)*2), samples)
	return mustMarshal(appendMessage{
		Type:  TypeAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitMessage returns an input_audio_buffer.commit event. The returned
// slice is freshly allocated.
func CommitMessage() []byte {
	return append([]byte(nil), commitPayload...)
}

// MessageType returns the "type" field of an encoded message, or "" when
// there is none.
func MessageType(msg []byte) string {
	return gjson.GetBytes(msg, "type").String()
}

// mustMarshal encodes v, which is always one of the fixed message structs
// above and therefore cannot fail.
func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic("realtime: marshal " + err.Error())
	}
	return b
}
