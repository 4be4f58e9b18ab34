package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/calmguide/voicechat/pkg/core/llm"
	"github.com/calmguide/voicechat/pkg/core/voice/stt"
	"github.com/calmguide/voicechat/pkg/core/voice/tts"
	"github.com/calmguide/voicechat/pkg/gateway/config"
	"github.com/calmguide/voicechat/pkg/gateway/lifecycle"
	"github.com/calmguide/voicechat/pkg/gateway/live/session"
	"github.com/calmguide/voicechat/pkg/gateway/live/sessions"
	"github.com/calmguide/voicechat/pkg/gateway/mw"
)

type LiveTranscriberFactory func(ctx context.Context, apiKey string, opts stt.StreamOptions) (session.Transcriber, error)

type LiveCompleterFactory func(ctx context.Context, apiKey string) (session.Completer, error)

type LiveSynthesizeFunc func(ctx context.Context, apiKey, text string) (string, error)

// LiveHandler handles /ws conversation sessions.
type LiveHandler struct {
	Config       config.Config
	Logger       *slog.Logger
	Lifecycle    *lifecycle.Lifecycle
	LiveSessions *sessions.Tracker
	History      *llm.History

	// Factory overrides for tests. Nil means the real providers.
	NewTranscriber LiveTranscriberFactory
	NewCompleter   LiveCompleterFactory
	Synthesize     LiveSynthesizeFunc
	Now            func() time.Time
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.Lifecycle.IsDraining() {
		writeDetail(w, http.StatusServiceUnavailable, "server is draining")
		return
	}
	if !h.originAllowed(r) {
		writeDetail(w, http.StatusForbidden, "origin is not allowed")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sessionID := "s_" + randHex(8)
	requestID, _ := mw.RequestIDFrom(r.Context())

	s, err := session.New(session.Dependencies{
		Conn:           conn,
		Logger:         h.Logger,
		SessionID:      sessionID,
		RequestID:      requestID,
		NewTranscriber: h.newTranscriber,
		NewCompleter:   h.newCompleter,
		Synthesize:     h.newSynthesize(),
		ClearHistory:   h.clearHistory,
		Now:            h.Now,
	}, session.Config{
		MaxAudioFrameBytes:  h.Config.LiveMaxAudioFrameBytes,
		MaxJSONMessageBytes: h.Config.LiveMaxJSONMessageBytes,
		OutboundQueueSize:   h.Config.LiveOutboundQueueSize,
		DedupeWindow:        h.Config.LiveDedupeWindow,
		PingInterval:        h.Config.LiveWSPingInterval,
		WriteTimeout:        h.Config.LiveWSWriteTimeout,
		ReadTimeout:         h.Config.LiveWSReadTimeout,
		STTSampleRate:       h.Config.STTSampleRate,
		STTFormatTurns:      h.Config.STTFormatTurns,
	})
	if err != nil {
		_ = conn.Close()
		return
	}

	unregister := func() {}
	if h.LiveSessions != nil {
		unregister = h.LiveSessions.Register(sessionID, sessions.Handle{
			Cancel: s.Cancel,
			Notify: s.Notify,
		})
	}
	defer unregister()

	if err := s.Run(r.Context()); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live session ended with error",
				"session_id", sessionID, "request_id", requestID, "error", err)
		}
	}
}

func (h LiveHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func (h LiveHandler) newTranscriber(ctx context.Context, apiKey string, opts stt.StreamOptions) (session.Transcriber, error) {
	if h.NewTranscriber != nil {
		return h.NewTranscriber(ctx, apiKey, opts)
	}
	return stt.NewAssemblyAIWithBaseURL(apiKey, h.Config.AssemblyAIBaseURL).
		WithLogger(h.Logger).
		NewStream(ctx, opts)
}

func (h LiveHandler) newCompleter(ctx context.Context, apiKey string) (session.Completer, error) {
	if h.NewCompleter != nil {
		return h.NewCompleter(ctx, apiKey)
	}
	return llm.NewGeminiWithHistory(ctx, apiKey, h.Config.LLMModel, h.History)
}

func (h LiveHandler) newSynthesize() LiveSynthesizeFunc {
	if h.Synthesize != nil {
		return h.Synthesize
	}
	return func(ctx context.Context, apiKey, text string) (string, error) {
		provider := tts.NewMurfWithBaseURL(apiKey, h.Config.MurfBaseURL).
			WithVoice(h.Config.TTSVoiceID, h.Config.TTSStyle)
		return provider.Synthesize(ctx, text)
	}
}

func (h LiveHandler) clearHistory(sessionID string) {
	if h.History != nil {
		h.History.Clear(sessionID)
	}
}
