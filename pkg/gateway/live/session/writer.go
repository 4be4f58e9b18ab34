package session

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// wsWriter is the subset of *websocket.Conn the writer needs. Narrowed so
// tests can substitute a fake connection.
type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// outboundWriter is the single writer goroutine for a live connection. All
// outbound events funnel through one FIFO queue so that event order on the
// wire matches emission order; nothing else may write to the connection.
type outboundWriter struct {
	ws           wsWriter
	queue        <-chan []byte
	pingInterval time.Duration
	writeTimeout time.Duration
}

func newOutboundWriter(ws wsWriter, queue <-chan []byte, pingInterval, writeTimeout time.Duration) *outboundWriter {
	return &outboundWriter{
		ws:           ws,
		queue:        queue,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

// Run drains the queue until ctx is cancelled or a write fails. On cancel it
// flushes a handful of already-queued frames, then sends a close frame.
func (w *outboundWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flushOnShutdown()
			w.writeClose(websocket.CloseNormalClosure, "session closed")
			return ctx.Err()
		case <-ticker.C:
			deadline := time.Now().Add(w.writeTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}
		case payload, ok := <-w.queue:
			if !ok {
				w.writeClose(websocket.CloseNormalClosure, "session closed")
				return nil
			}
			if err := w.writeFrame(payload); err != nil {
				return err
			}
		}
	}
}

func (w *outboundWriter) writeFrame(payload []byte) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, payload)
}

// flushOnShutdown gives already-queued events a short window to reach the
// client, so a shutdown notice enqueued just before cancellation still lands.
func (w *outboundWriter) flushOnShutdown() {
	deadline := time.Now().Add(100 * time.Millisecond)
	for i := 0; i < 8; i++ {
		if time.Now().After(deadline) {
			return
		}
		select {
		case payload, ok := <-w.queue:
			if !ok {
				return
			}
			if err := w.writeFrame(payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (w *outboundWriter) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = w.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeTimeout))
}
