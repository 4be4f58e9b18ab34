package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const assemblyAIBaseURL = "wss://streaming.assemblyai.com"

// AssemblyAIProvider opens streaming transcription sessions against
// AssemblyAI's v3 realtime endpoint.
type AssemblyAIProvider struct {
	apiKey  string
	baseURL string
	logger  *slog.Logger
}

func NewAssemblyAI(apiKey string) *AssemblyAIProvider {
	return NewAssemblyAIWithBaseURL(apiKey, assemblyAIBaseURL)
}

// NewAssemblyAIWithBaseURL overrides the service endpoint, which lets tests
// point the provider at a local WebSocket server.
func NewAssemblyAIWithBaseURL(apiKey, baseURL string) *AssemblyAIProvider {
	if baseURL == "" {
		baseURL = assemblyAIBaseURL
	}
	return &AssemblyAIProvider{apiKey: apiKey, baseURL: baseURL}
}

// WithLogger sets the logger used for session lifecycle and service error
// messages. Defaults to slog.Default.
func (p *AssemblyAIProvider) WithLogger(logger *slog.Logger) *AssemblyAIProvider {
	if logger != nil {
		p.logger = logger
	}
	return p
}

func (p *AssemblyAIProvider) Name() string {
	return "assemblyai"
}

// Stream is a live transcription session. Send PCM with SendAudio and
// consume updates from Deltas until the channel closes.
type Stream struct {
	conn    *websocket.Conn
	deltas  chan TranscriptDelta
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewStream dials the realtime endpoint and starts the read loop.
func (p *AssemblyAIProvider) NewStream(ctx context.Context, opts StreamOptions) (*Stream, error) {
	u, err := url.Parse(p.baseURL + "/v3/ws")
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}

	sampleRate := opts.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("format_turns", strconv.FormatBool(opts.FormatTurns))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", p.apiKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		conn:   conn,
		deltas: make(chan TranscriptDelta, 100),
		done:   make(chan struct{}),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	go s.readLoop()

	return s, nil
}

type assemblyAIMessage struct {
	Type             string `json:"type"` // "Begin", "Turn", "Termination"
	ID               string `json:"id"`
	Transcript       string `json:"transcript"`
	EndOfTurn        bool   `json:"end_of_turn"`
	TurnIsFormatted  bool   `json:"turn_is_formatted"`
	AudioDurationSec int    `json:"audio_duration_seconds"`
	Error            string `json:"error"`
}

func (s *Stream) readLoop() {
	defer func() {
		close(s.deltas)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg assemblyAIMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != "" {
			s.logger.Warn("transcription service error", "error", msg.Error)
			return
		}

		switch msg.Type {
		case "Begin":
			s.logger.Debug("transcription session began", "session_id", msg.ID)
			continue

		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			delta := TranscriptDelta{
				Text:      msg.Transcript,
				EndOfTurn: msg.EndOfTurn,
				Formatted: msg.TurnIsFormatted,
			}
			select {
			case s.deltas <- delta:
			case <-s.ctx.Done():
				return
			}

		case "Termination":
			s.logger.Debug("transcription session terminated",
				"audio_duration_seconds", msg.AudioDurationSec)
			return
		}
	}
}

// SendAudio forwards one binary PCM frame to the service.
func (s *Stream) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Deltas returns the channel of transcript updates. It is closed when the
// session ends for any reason.
func (s *Stream) Deltas() <-chan TranscriptDelta {
	return s.deltas
}

// Done is closed when the read loop exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close terminates the session. Safe to call more than once.
func (s *Stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Terminate"}`))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}
