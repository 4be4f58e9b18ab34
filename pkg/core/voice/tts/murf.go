// Package tts provides text-to-speech over Murf's streaming WebSocket API.
package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const murfBaseURL = "wss://api.murf.ai"

// One synthesis per dial, so a static context id is fine.
const murfContextID = "voicechat-context-001"

// MurfProvider synthesizes speech via Murf's stream-input endpoint. Each
// Synthesize call opens a fresh connection, streams the full text, and
// collects the audio into a single WAV payload.
type MurfProvider struct {
	apiKey  string
	baseURL string
	voiceID string
	style   string
}

func NewMurf(apiKey string) *MurfProvider {
	return NewMurfWithBaseURL(apiKey, murfBaseURL)
}

// NewMurfWithBaseURL overrides the service endpoint, which lets tests point
// the provider at a local WebSocket server.
func NewMurfWithBaseURL(apiKey, baseURL string) *MurfProvider {
	if baseURL == "" {
		baseURL = murfBaseURL
	}
	return &MurfProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		voiceID: "en-US-amara",
		style:   "Conversational",
	}
}

// WithVoice overrides the default voice and style. Empty values keep the
// current setting.
func (p *MurfProvider) WithVoice(voiceID, style string) *MurfProvider {
	if voiceID != "" {
		p.voiceID = voiceID
	}
	if style != "" {
		p.style = style
	}
	return p
}

func (p *MurfProvider) Name() string {
	return "murf"
}

type murfVoiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

type murfConfigMessage struct {
	VoiceConfig murfVoiceConfig `json:"voice_config"`
	ContextID   string          `json:"context_id"`
}

type murfTextMessage struct {
	Text      string `json:"text"`
	End       bool   `json:"end"`
	ContextID string `json:"context_id"`
}

type murfResponse struct {
	Audio string `json:"audio"`
	Final bool   `json:"final"`
	Error string `json:"error"`
}

// Synthesize converts text to one base64-encoded WAV clip. The first audio
// chunk from the service carries the WAV header; subsequent chunks are raw
// samples and are appended as-is, then the whole thing is re-encoded.
func (p *MurfProvider) Synthesize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("murf: empty text")
	}

	u, err := url.Parse(p.baseURL + "/v1/speech/stream-input")
	if err != nil {
		return "", fmt.Errorf("murf: parse url: %w", err)
	}
	q := u.Query()
	q.Set("api-key", p.apiKey)
	q.Set("sample_rate", "44100")
	q.Set("channel_type", "MONO")
	q.Set("format", "WAV")
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return "", fmt.Errorf("murf: connect (status %d): %s", resp.StatusCode, string(body))
			}
			return "", fmt.Errorf("murf: connect: status %d: %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("murf: connect: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		_ = conn.SetWriteDeadline(deadline)
	}

	cfg := murfConfigMessage{
		VoiceConfig: murfVoiceConfig{
			VoiceID:   p.voiceID,
			Style:     p.style,
			Rate:      0,
			Pitch:     0,
			Variation: 1,
		},
		ContextID: murfContextID,
	}
	if err := conn.WriteJSON(cfg); err != nil {
		return "", fmt.Errorf("murf: send voice config: %w", err)
	}

	msg := murfTextMessage{
		Text:      PreprocessText(text),
		End:       true,
		ContextID: murfContextID,
	}
	if err := conn.WriteJSON(msg); err != nil {
		return "", fmt.Errorf("murf: send text: %w", err)
	}

	var audio []byte
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("murf: read: %w", err)
		}

		var r murfResponse
		if err := json.Unmarshal(data, &r); err != nil {
			continue
		}
		if r.Error != "" {
			return "", fmt.Errorf("murf: service error: %s", r.Error)
		}

		if r.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(r.Audio)
			if err != nil {
				return "", fmt.Errorf("murf: decode audio chunk: %w", err)
			}
			audio = append(audio, chunk...)
		}

		if r.Final {
			break
		}
	}

	if len(audio) == 0 {
		return "", fmt.Errorf("murf: no audio returned")
	}
	return base64.StdEncoding.EncodeToString(audio), nil
}

var (
	urlPattern    = regexp.MustCompile("`?(https?://[^\\s`]+)`?")
	schemePattern = regexp.MustCompile(`^https?://`)
)

// PreprocessText rewrites URLs into speakable form ("link to example.com")
// so the voice does not read raw URLs aloud.
func PreprocessText(text string) string {
	return urlPattern.ReplaceAllStringFunc(text, func(match string) string {
		clean := strings.TrimSpace(strings.Trim(match, "`"))
		domain := schemePattern.ReplaceAllString(clean, "")
		domain = strings.SplitN(domain, "/", 2)[0]
		if domain == "" {
			return "link"
		}
		return "link to " + domain
	})
}
