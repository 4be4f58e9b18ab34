package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/calmguide/voicechat/pkg/gateway/keystore"
)

// KeysHandler persists provider credentials so browser clients do not have
// to resend them on every visit. GET returns masked values only.
type KeysHandler struct {
	Store  *keystore.Store
	Logger *slog.Logger
}

func (h KeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w)
	case http.MethodPost:
		h.update(w, r)
	default:
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h KeysHandler) list(w http.ResponseWriter) {
	keys, err := h.Store.Load()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to load keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		keystore.KeyAssemblyAI: maskKey(keys[keystore.KeyAssemblyAI]),
		keystore.KeyGoogle:     maskKey(keys[keystore.KeyGoogle]),
		keystore.KeyMurf:       maskKey(keys[keystore.KeyMurf]),
	})
}

func (h KeysHandler) update(w http.ResponseWriter, r *http.Request) {
	updates, err := decodeKeyUpdates(r)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.Store.SetAll(updates); err != nil {
		if h.Logger != nil {
			h.Logger.Error("keystore write failed", "error", err)
		}
		writeDetail(w, http.StatusInternalServerError, "failed to save keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "API keys saved successfully"})
}

// decodeKeyUpdates accepts JSON or HTML form bodies; the settings page posts
// a form, programmatic clients send JSON.
func decodeKeyUpdates(r *http.Request) (map[string]string, error) {
	names := []string{keystore.KeyAssemblyAI, keystore.KeyGoogle, keystore.KeyMurf}
	updates := make(map[string]string, len(names))

	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, err
		}
		for _, name := range names {
			updates[name] = strings.TrimSpace(body[name])
		}
		return updates, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	for _, name := range names {
		updates[name] = strings.TrimSpace(r.FormValue(name))
	}
	return updates, nil
}

// maskKey keeps enough of the tail to recognize which key is stored.
func maskKey(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
