// Package server assembles the HTTP surface of the relay: health and key
// management endpoints, search, and the /ws conversation socket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/calmguide/voicechat/pkg/core/llm"
	"github.com/calmguide/voicechat/pkg/core/voice/tts"
	"github.com/calmguide/voicechat/pkg/gateway/config"
	"github.com/calmguide/voicechat/pkg/gateway/handlers"
	"github.com/calmguide/voicechat/pkg/gateway/keystore"
	"github.com/calmguide/voicechat/pkg/gateway/lifecycle"
	"github.com/calmguide/voicechat/pkg/gateway/live/session"
	"github.com/calmguide/voicechat/pkg/gateway/live/sessions"
	"github.com/calmguide/voicechat/pkg/gateway/mw"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	httpClient   *http.Client
	keys         *keystore.Store
	lifecycle    *lifecycle.Lifecycle
	liveSessions *sessions.Tracker

	// history keeps conversations across reconnects of the same session id
	// and feeds the search summary endpoint.
	history *llm.History
}

func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keys, err := keystore.New(cfg.KeystorePath, cfg.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("server: open keystore: %w", err)
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
		Timeout: 15 * time.Second,
	}

	s := &Server{
		cfg:          cfg,
		logger:       logger,
		mux:          http.NewServeMux(),
		httpClient:   httpClient,
		keys:         keys,
		lifecycle:    &lifecycle.Lifecycle{},
		liveSessions: sessions.NewTracker(),
		history:      llm.NewHistory(),
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})

	report := handlers.HealthReportHandler{
		Keystore:  s.keys,
		Lifecycle: s.lifecycle,
	}
	s.mux.Handle("/health", report)
	s.mux.Handle("/health/", report)

	s.mux.Handle("/api/keys", handlers.KeysHandler{
		Store:  s.keys,
		Logger: s.logger,
	})

	s.mux.Handle("/api/search/duckduckgo", handlers.SearchHandler{
		HTTPClient: s.httpClient,
		Logger:     s.logger,
	})
	s.mux.Handle("/api/search/duckduckgo_summary", handlers.SearchSummaryHandler{
		HTTPClient:   s.httpClient,
		Keystore:     s.keys,
		Logger:       s.logger,
		NewCompleter: s.newCompleter,
		Synthesize:   s.synthesize,
	})

	s.mux.Handle("/ws", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.liveSessions,
		History:      s.history,
	})
}

func (s *Server) newCompleter(ctx context.Context, apiKey string) (session.Completer, error) {
	return llm.NewGeminiWithHistory(ctx, apiKey, s.cfg.LLMModel, s.history)
}

func (s *Server) synthesize(ctx context.Context, apiKey, text string) (string, error) {
	provider := tts.NewMurfWithBaseURL(apiKey, s.cfg.MurfBaseURL).
		WithVoice(s.cfg.TTSVoiceID, s.cfg.TTSStyle)
	return provider.Synthesize(ctx, text)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// SetDraining flips the server into drain mode: new live sessions are
// refused and /health reports Draining. Existing sessions keep running.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// NotifyLiveSessionsDraining tells connected clients the server is going away.
func (s *Server) NotifyLiveSessionsDraining() {
	s.liveSessions.NotifyAll("Server is shutting down")
}

// WaitLiveSessions blocks until every live session has ended or ctx expires.
func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.liveSessions.Wait(ctx)
}

// CancelLiveSessions force-closes the sessions that did not drain in time.
func (s *Server) CancelLiveSessions() {
	s.liveSessions.CancelAll()
}
