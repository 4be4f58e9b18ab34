package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestDecodeClientMessage_APIKeys(t *testing.T) {
	raw := []byte(`{
		"type":"api_keys",
		"data":{
			"assemblyai_api_key":"aai-token",
			"google_api_key":"goog-token"
		}
	}`)

	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("DecodeClientMessage() error = %v", err)
	}
	keys, ok := msg.(ClientAPIKeys)
	if !ok {
		t.Fatalf("decoded type = %T, want ClientAPIKeys", msg)
	}
	if keys.Data.AssemblyAI != "aai-token" || keys.Data.Google != "goog-token" {
		t.Fatalf("data=%+v", keys.Data)
	}
	if keys.Data.Murf != "" {
		t.Fatalf("murf=%q, want empty", keys.Data.Murf)
	}
}

func TestDecodeClientMessage_Commands(t *testing.T) {
	for _, cmd := range []string{CommandStartRecording, CommandStopRecording, CommandClearHistory} {
		raw := []byte(`{"command":"` + cmd + `"}`)
		msg, err := DecodeClientMessage(raw)
		if err != nil {
			t.Fatalf("DecodeClientMessage(%q) error = %v", cmd, err)
		}
		got, ok := msg.(ClientCommand)
		if !ok {
			t.Fatalf("decoded type = %T, want ClientCommand", msg)
		}
		if got.Command != cmd {
			t.Fatalf("command=%q, want %q", got.Command, cmd)
		}
	}
}

func TestDecodeClientMessage_UnknownCommand(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"command":"reboot"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr, ok := err.(*DecodeError)
	if !ok {
		t.Fatalf("err type = %T", err)
	}
	if decErr.Code != "unsupported" {
		t.Fatalf("code=%q, want unsupported", decErr.Code)
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"hello"}`))
	if err == nil {
		t.Fatal("expected error")
	}
	decErr := err.(*DecodeError)
	if decErr.Code != "bad_request" {
		t.Fatalf("code=%q, want bad_request", decErr.Code)
	}
}

func TestDecodeClientMessage_InvalidJSONAndEmptyEnvelope(t *testing.T) {
	if _, err := DecodeClientMessage([]byte("not-json")); err == nil {
		t.Fatal("expected error for invalid json")
	}
	if _, err := DecodeClientMessage([]byte(`{}`)); err == nil {
		t.Fatal("expected error for empty envelope")
	}
}

func TestAPIKeySet_Merge(t *testing.T) {
	keys := APIKeySet{AssemblyAI: "old-aai", Google: "old-goog"}
	keys.Merge(APIKeySet{Google: "  new-goog ", Murf: "new-murf"})

	if keys.AssemblyAI != "old-aai" {
		t.Fatalf("assemblyai=%q, want old-aai", keys.AssemblyAI)
	}
	if keys.Google != "new-goog" {
		t.Fatalf("google=%q, want trimmed new-goog", keys.Google)
	}
	if keys.Murf != "new-murf" {
		t.Fatalf("murf=%q", keys.Murf)
	}
}

func TestTimestamp_RoundTrips(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	stamp := Timestamp(now)
	parsed, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		t.Fatalf("timestamp %q did not parse: %v", stamp, err)
	}
	if !parsed.Equal(now) {
		t.Fatalf("parsed=%v, want %v", parsed, now)
	}
}

func TestServerEvents_MarshalShape(t *testing.T) {
	chunk := ServerLLMResponseChunk{
		Type:        EventLLMResponseChunk,
		Chunk:       "hi",
		Accumulated: "hi",
		ChunkNumber: 1,
		Timestamp:   Timestamp(time.Now()),
	}
	raw, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"type", "chunk", "accumulated", "chunk_number", "timestamp"} {
		if _, ok := decoded[field]; !ok {
			t.Fatalf("marshaled chunk missing %q: %v", field, decoded)
		}
	}
}
