// Package protocol defines the JSON wire format of the live conversation
// socket: the messages a browser client sends (credentials, recording
// commands) and the tagged events the relay sends back.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CommandStartRecording = "start_recording"
	CommandStopRecording  = "stop_recording"
	CommandClearHistory   = "clear_history"
)

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// APIKeySet carries the client's provider credentials. Empty fields mean
// "leave the current value alone": clients may send api_keys repeatedly to
// fill in keys one at a time.
type APIKeySet struct {
	AssemblyAI string `json:"assemblyai_api_key,omitempty"`
	Google     string `json:"google_api_key,omitempty"`
	Murf       string `json:"murf_api_key,omitempty"`
}

// Merge overlays non-empty fields of other onto k.
func (k *APIKeySet) Merge(other APIKeySet) {
	if strings.TrimSpace(other.AssemblyAI) != "" {
		k.AssemblyAI = strings.TrimSpace(other.AssemblyAI)
	}
	if strings.TrimSpace(other.Google) != "" {
		k.Google = strings.TrimSpace(other.Google)
	}
	if strings.TrimSpace(other.Murf) != "" {
		k.Murf = strings.TrimSpace(other.Murf)
	}
}

type ClientAPIKeys struct {
	Type string    `json:"type"`
	Data APIKeySet `json:"data"`
}

type ClientCommand struct {
	Command string `json:"command"`
}

// DecodeClientMessage parses one inbound text frame. Frames carry either a
// "type" discriminator (api_keys) or a bare "command" field.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type    string `json:"type"`
		Command string `json:"command"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}

	if typ := strings.TrimSpace(envelope.Type); typ != "" {
		switch typ {
		case "api_keys":
			var msg ClientAPIKeys
			if err := json.Unmarshal(data, &msg); err != nil {
				return nil, badRequest("invalid api_keys frame", "")
			}
			return msg, nil
		default:
			return nil, badRequest("unsupported message type", "type")
		}
	}

	cmd := strings.TrimSpace(envelope.Command)
	if cmd == "" {
		return nil, badRequest("missing type or command", "")
	}
	switch cmd {
	case CommandStartRecording, CommandStopRecording, CommandClearHistory:
		return ClientCommand{Command: cmd}, nil
	default:
		return nil, unsupported("unsupported command", "command")
	}
}

// Outbound event type tags.
const (
	EventConnection          = "connection"
	EventStatus              = "status"
	EventError               = "error"
	EventInterimTranscript   = "interim_transcript"
	EventTurnEnd             = "turn_end"
	EventTurnUpdate          = "turn_update"
	EventSearchPrompt        = "search_prompt"
	EventLLMThinking         = "llm_thinking"
	EventLLMResponseStart    = "llm_response_start"
	EventLLMResponseChunk    = "llm_response_chunk"
	EventLLMResponseComplete = "llm_response_complete"
	EventLLMError            = "llm_error"
	EventTTSResponse         = "tts_response"
	EventTTSError            = "tts_error"
)

// Timestamp renders t the way every outbound event carries it.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// ServerNotice covers the message-only events: connection, status, error,
// llm_thinking, llm_response_start, llm_error and tts_error.
type ServerNotice struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type ServerInterimTranscript struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// ServerTurn is sent for both turn_end and turn_update.
type ServerTurn struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type ServerSearchPrompt struct {
	Type      string `json:"type"`
	Query     string `json:"query"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type ServerLLMResponseChunk struct {
	Type        string `json:"type"`
	Chunk       string `json:"chunk"`
	Accumulated string `json:"accumulated"`
	ChunkNumber int    `json:"chunk_number"`
	Timestamp   string `json:"timestamp"`
}

type ServerLLMResponseComplete struct {
	Type          string `json:"type"`
	FinalResponse string `json:"final_response"`
	TotalChunks   int    `json:"total_chunks"`
	Timestamp     string `json:"timestamp"`
}

type ServerTTSResponse struct {
	Type      string `json:"type"`
	Audio     string `json:"audio"`
	Timestamp string `json:"timestamp"`
}
