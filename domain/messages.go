package domain

// MessageType is the "type" field of every JSON message on the client channel
type MessageType string

const (
	MessageTypeTranscript       MessageType = "transcript"
	MessageTypeAssistantMessage MessageType = "assistant_message"
	MessageTypeAudioChunk       MessageType = "audio_chunk"
	MessageTypeAudioComplete    MessageType = "audio_complete"
	MessageTypeSessionStarted   MessageType = "session_started"
	MessageTypeInfo             MessageType = "info"
	MessageTypeError            MessageType = "error"
	MessageTypePing             MessageType = "ping"
	MessageTypePong             MessageType = "pong"
	MessageTypeEndTurn          MessageType = "end_turn"
)

// TranscriptMessage forwards recognized text to the client
type TranscriptMessage struct {
	Type       MessageType `json:"type"`
	Transcript string      `json:"transcript"`
	EndOfTurn  bool        `json:"end_of_turn"`
	IsPartial  bool        `json:"is_partial,omitempty"`
	Confidence float64     `json:"confidence"`
}

// AssistantMessage carries the reply text of a turn
type AssistantMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// AudioChunkMessage carries one synthesized chunk, base64 encoded
type AudioChunkMessage struct {
	Type        MessageType `json:"type"`
	ChunkIndex  int         `json:"chunk_index"`
	Base64Audio string      `json:"base64_audio"`
}

// AudioCompleteMessage closes one reply's audio stream
type AudioCompleteMessage struct {
	Type             MessageType `json:"type"`
	TotalChunks      int         `json:"total_chunks"`
	TotalBase64Chars int         `json:"total_base64_chars"`
	AudioFormat      string      `json:"audio_format"`
	Fallback         bool        `json:"fallback,omitempty"`
}

// SessionStartedMessage tells the client its session id
type SessionStartedMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// InfoMessage is a human-readable advisory; also used for errors
type InfoMessage struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message"`
}

// ControlMessage is an inbound text frame from the client
type ControlMessage struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
}

// PongMessage answers a client ping
type PongMessage struct {
	Type MessageType `json:"type"`
	Data string      `json:"data,omitempty"`
}
