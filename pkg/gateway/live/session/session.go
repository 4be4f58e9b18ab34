// Package session runs one live voice conversation over a WebSocket: client
// audio in, transcript turns through the language model, synthesized speech
// back out. The session loop owns all connection state; provider calls that
// can block run in goroutines and report back through the outbound queue.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calmguide/voicechat/pkg/core/voice/stt"
	"github.com/calmguide/voicechat/pkg/gateway/live/protocol"
)

// searchPrefixes route a finished turn to a search prompt instead of the
// language model. Matched case-insensitively, longest first.
var searchPrefixes = []string{"search for ", "find ", "search "}

// Transcriber is an open speech-to-text stream.
type Transcriber interface {
	SendAudio(pcm []byte) error
	Deltas() <-chan stt.TranscriptDelta
	Close() error
}

// Completer produces a streaming language-model reply.
type Completer interface {
	Available() bool
	Stream(ctx context.Context, sessionID, text string) <-chan string
}

// wsConn is the slice of *websocket.Conn the session uses.
type wsConn interface {
	wsWriter
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	ReadMessage() (messageType int, p []byte, err error)
}

// Dependencies wires a session to its providers. Providers are constructed
// per use with the credentials the client has sent so far.
type Dependencies struct {
	Conn      wsConn
	Logger    *slog.Logger
	SessionID string
	RequestID string

	NewTranscriber func(ctx context.Context, apiKey string, opts stt.StreamOptions) (Transcriber, error)
	NewCompleter   func(ctx context.Context, apiKey string) (Completer, error)
	Synthesize     func(ctx context.Context, apiKey, text string) (string, error)
	ClearHistory   func(sessionID string)

	// Now is the session clock. Tests inject a fake.
	Now func() time.Time
}

type Config struct {
	MaxAudioFrameBytes  int
	MaxJSONMessageBytes int64
	OutboundQueueSize   int
	DedupeWindow        time.Duration
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	STTSampleRate       int
	STTFormatTurns      bool
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// LiveSession is the per-connection orchestrator. All fields below the
// outbound queue are owned by the Run loop goroutine.
type LiveSession struct {
	conn     wsConn
	logger   *slog.Logger
	id       string
	cfg      Config
	deps     Dependencies
	now      func() time.Time
	outbound chan []byte

	quit     chan struct{}
	quitOnce sync.Once

	keys        protocol.APIKeySet
	transcriber Transcriber
	deltas      <-chan stt.TranscriptDelta

	lastTranscript   string
	lastTranscriptAt time.Time

	genMu     sync.Mutex
	pipelines sync.WaitGroup
}

func New(deps Dependencies, cfg Config) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, errors.New("session: conn is required")
	}
	if deps.NewTranscriber == nil {
		return nil, errors.New("session: transcriber factory is required")
	}
	if deps.NewCompleter == nil {
		return nil, errors.New("session: completer factory is required")
	}
	if deps.Synthesize == nil {
		return nil, errors.New("session: synthesize func is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MaxAudioFrameBytes <= 0 {
		cfg.MaxAudioFrameBytes = 64 * 1024
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		cfg.MaxJSONMessageBytes = 64 * 1024
	}
	if cfg.OutboundQueueSize <= 0 {
		cfg.OutboundQueueSize = 256
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.STTSampleRate <= 0 {
		cfg.STTSampleRate = 16000
	}

	logger := deps.Logger.With("session_id", deps.SessionID)
	if deps.RequestID != "" {
		logger = logger.With("request_id", deps.RequestID)
	}

	return &LiveSession{
		conn:     deps.Conn,
		logger:   logger,
		id:       deps.SessionID,
		cfg:      cfg,
		deps:     deps,
		now:      deps.Now,
		outbound: make(chan []byte, cfg.OutboundQueueSize),
		quit:     make(chan struct{}),
	}, nil
}

// ID returns the session identifier used for history and tracking.
func (s *LiveSession) ID() string { return s.id }

// Cancel asks the Run loop to stop. Safe to call from any goroutine, any
// number of times, before or after Run.
func (s *LiveSession) Cancel() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Notify enqueues a status event without blocking. Used for shutdown notices
// broadcast by the session tracker.
func (s *LiveSession) Notify(message string) error {
	payload, err := json.Marshal(protocol.ServerNotice{
		Type:      protocol.EventStatus,
		Message:   message,
		Timestamp: protocol.Timestamp(s.now()),
	})
	if err != nil {
		return err
	}
	select {
	case s.outbound <- payload:
		return nil
	default:
		return errors.New("session: outbound queue full")
	}
}

// Run drives the session until the client disconnects, the context is
// cancelled, or the connection breaks. It closes the connection on return.
func (s *LiveSession) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	limit := s.cfg.MaxJSONMessageBytes
	if int64(s.cfg.MaxAudioFrameBytes) > limit {
		limit = int64(s.cfg.MaxAudioFrameBytes)
	}
	s.conn.SetReadLimit(limit)
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(s.now().Add(s.cfg.ReadTimeout))
		})
	}

	writer := newOutboundWriter(s.conn, s.outbound, s.cfg.PingInterval, s.cfg.WriteTimeout)
	writerErr := make(chan error, 1)
	go func() {
		writerErr <- writer.Run(ctx)
		// No event can leave once the writer exits; cancel so a send()
		// blocked on a full queue falls through and teardown proceeds.
		cancel()
	}()

	s.notice(ctx, protocol.EventConnection, "Connected to turn detection voice streaming server")

	frames := make(chan inboundFrame, 64)
	go s.readLoop(ctx, frames)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-writerErr:
			writerErr = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				runErr = err
			}
			break loop
		case frame := <-frames:
			if frame.err != nil {
				if !isExpectedClose(frame.err) {
					runErr = frame.err
				}
				break loop
			}
			switch frame.messageType {
			case websocket.TextMessage:
				s.handleText(ctx, frame.data)
			case websocket.BinaryMessage:
				s.handleAudio(frame.data)
			}
		case delta, ok := <-s.deltas:
			if !ok {
				s.logger.Info("transcription stream ended")
				s.detachTranscriber()
				continue
			}
			s.handleDelta(ctx, delta)
		}
	}

	s.detachTranscriber()
	cancel()
	s.pipelines.Wait()
	if writerErr != nil {
		select {
		case <-writerErr:
		case <-time.After(time.Second):
		}
	}
	_ = s.conn.Close()
	return runErr
}

func (s *LiveSession) readLoop(ctx context.Context, out chan<- inboundFrame) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		frame := inboundFrame{messageType: messageType, data: data, err: err}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *LiveSession) handleText(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		s.logger.Debug("discarding client frame", "error", err)
		return
	}
	switch m := msg.(type) {
	case protocol.ClientAPIKeys:
		s.keys.Merge(m.Data)
		s.logger.Info("api keys updated",
			"assemblyai", s.keys.AssemblyAI != "",
			"google", s.keys.Google != "",
			"murf", s.keys.Murf != "")
	case protocol.ClientCommand:
		s.handleCommand(ctx, m.Command)
	}
}

func (s *LiveSession) handleCommand(ctx context.Context, command string) {
	switch command {
	case protocol.CommandStartRecording:
		s.startRecording(ctx)
	case protocol.CommandStopRecording:
		s.detachTranscriber()
		s.notice(ctx, protocol.EventStatus, "Turn detection stopped")
	case protocol.CommandClearHistory:
		if s.deps.ClearHistory != nil {
			s.deps.ClearHistory(s.id)
		}
		s.notice(ctx, protocol.EventStatus, "Conversation history cleared")
	}
}

func (s *LiveSession) startRecording(ctx context.Context) {
	s.detachTranscriber()
	key := s.keys.AssemblyAI
	if key == "" {
		s.logger.Warn("start_recording without transcription credentials")
		s.notice(ctx, protocol.EventError, "Failed to start turn detection service")
		return
	}
	t, err := s.deps.NewTranscriber(ctx, key, stt.StreamOptions{
		SampleRate:  s.cfg.STTSampleRate,
		FormatTurns: s.cfg.STTFormatTurns,
	})
	if err != nil {
		s.logger.Error("transcription stream failed to open", "error", err)
		s.notice(ctx, protocol.EventError, "Failed to start turn detection service")
		return
	}
	s.transcriber = t
	s.deltas = t.Deltas()
	s.notice(ctx, protocol.EventStatus, "Turn detection started - speak and pause to see results!")
}

func (s *LiveSession) detachTranscriber() {
	if s.transcriber == nil {
		return
	}
	if err := s.transcriber.Close(); err != nil {
		s.logger.Debug("transcriber close", "error", err)
	}
	s.transcriber = nil
	s.deltas = nil
}

func (s *LiveSession) handleAudio(data []byte) {
	if s.transcriber == nil || len(data) == 0 {
		return
	}
	if len(data) > s.cfg.MaxAudioFrameBytes {
		s.logger.Warn("dropping oversized audio frame", "bytes", len(data))
		return
	}
	if err := s.transcriber.SendAudio(data); err != nil {
		s.logger.Warn("audio forward failed", "error", err)
		s.detachTranscriber()
	}
}

func (s *LiveSession) handleDelta(ctx context.Context, delta stt.TranscriptDelta) {
	if !delta.EndOfTurn {
		s.send(ctx, protocol.ServerInterimTranscript{
			Type:      protocol.EventInterimTranscript,
			Text:      delta.Text,
			Timestamp: protocol.Timestamp(s.now()),
		})
		return
	}
	s.handleTurnEnd(ctx, delta.Text)
}

// handleTurnEnd applies duplicate suppression and routes a finished turn.
// AssemblyAI often reports the same turn twice, first raw then formatted; the
// second arrival within the window either upgrades the first (turn_update) or
// is dropped.
func (s *LiveSession) handleTurnEnd(ctx context.Context, text string) {
	now := s.now()
	duplicate := normalizeTranscript(text) == normalizeTranscript(s.lastTranscript) &&
		!s.lastTranscriptAt.IsZero() &&
		now.Sub(s.lastTranscriptAt) < s.cfg.DedupeWindow

	if duplicate {
		if !isBetterFormatted(text, s.lastTranscript) {
			s.logger.Debug("skipped duplicate turn", "text", text)
			return
		}
		s.send(ctx, protocol.ServerTurn{
			Type:      protocol.EventTurnUpdate,
			Text:      text,
			Message:   "Updated with better formatting",
			Timestamp: protocol.Timestamp(now),
		})
	} else {
		s.send(ctx, protocol.ServerTurn{
			Type:      protocol.EventTurnEnd,
			Text:      text,
			Message:   "User stopped talking",
			Timestamp: protocol.Timestamp(now),
		})
		s.routeTurn(ctx, text, now)
	}

	s.lastTranscript = text
	s.lastTranscriptAt = now
}

func (s *LiveSession) routeTurn(ctx context.Context, text string, now time.Time) {
	trimmed := strings.TrimSpace(text)
	lowered := strings.ToLower(trimmed)
	for _, prefix := range searchPrefixes {
		if !strings.HasPrefix(lowered, prefix) {
			continue
		}
		query := strings.TrimSpace(trimmed[len(prefix):])
		s.send(ctx, protocol.ServerSearchPrompt{
			Type:      protocol.EventSearchPrompt,
			Query:     query,
			Message:   fmt.Sprintf("Search results for: \"%s\"\nOpen search page to view results in a new tab.", query),
			Timestamp: protocol.Timestamp(now),
		})
		return
	}
	s.startPipeline(ctx, text, s.keys.Google, s.keys.Murf)
}

// startPipeline runs model streaming and speech synthesis off the session
// loop so audio and commands keep flowing. Generations for the same session
/// are serialized: a second turn waits for the first to finish.
func (s *LiveSession) startPipeline(ctx context.Context, text, googleKey, murfKey string) {
	s.pipelines.Add(1)
	go func() {
		defer s.pipelines.Done()
		s.genMu.Lock()
		defer s.genMu.Unlock()
		s.runPipeline(ctx, text, googleKey, murfKey)
	}()
}

func (s *LiveSession) runPipeline(ctx context.Context, text, googleKey, murfKey string) {
	s.notice(ctx, protocol.EventLLMThinking, "AI is thinking...")

	completer, err := s.deps.NewCompleter(ctx, googleKey)
	if err != nil {
		s.logger.Error("completer construction failed", "error", err)
		s.notice(ctx, protocol.EventLLMError, "AI service is not available")
		return
	}
	if !completer.Available() {
		s.notice(ctx, protocol.EventLLMError, "AI service is not available")
		return
	}

	s.notice(ctx, protocol.EventLLMResponseStart, "AI response starting...")

	var accumulated strings.Builder
	chunks := 0
	for chunk := range completer.Stream(ctx, s.id, text) {
		chunks++
		accumulated.WriteString(chunk)
		s.send(ctx, protocol.ServerLLMResponseChunk{
			Type:        protocol.EventLLMResponseChunk,
			Chunk:       chunk,
			Accumulated: accumulated.String(),
			ChunkNumber: chunks,
			Timestamp:   protocol.Timestamp(s.now()),
		})
	}
	final := accumulated.String()
	s.send(ctx, protocol.ServerLLMResponseComplete{
		Type:          protocol.EventLLMResponseComplete,
		FinalResponse: final,
		TotalChunks:   chunks,
		Timestamp:     protocol.Timestamp(s.now()),
	})

	if murfKey == "" {
		s.notice(ctx, protocol.EventTTSError, "TTS service is not available. Please check your Murf API key in settings.")
		return
	}
	audio, err := s.deps.Synthesize(ctx, murfKey, final)
	if err != nil {
		s.logger.Error("speech synthesis failed", "error", err)
		s.notice(ctx, protocol.EventTTSError, fmt.Sprintf("TTS service error: %v", err))
		return
	}
	if audio == "" {
		s.notice(ctx, protocol.EventTTSError, "TTS service error: empty audio")
		return
	}
	s.send(ctx, protocol.ServerTTSResponse{
		Type:      protocol.EventTTSResponse,
		Audio:     audio,
		Timestamp: protocol.Timestamp(s.now()),
	})
}

func (s *LiveSession) notice(ctx context.Context, eventType, message string) {
	s.send(ctx, protocol.ServerNotice{
		Type:      eventType,
		Message:   message,
		Timestamp: protocol.Timestamp(s.now()),
	})
}

// send enqueues one event in emission order. Blocks only when the queue is
// full, and gives up once the session is shutting down.
func (s *LiveSession) send(ctx context.Context, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("event marshal failed", "error", err)
		return
	}
	select {
	case s.outbound <- payload:
	case <-ctx.Done():
	}
}

func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, context.Canceled)
}
