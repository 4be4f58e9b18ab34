package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/calmguide/voicechat/pkg/gateway/keystore"
)

// Per-request provider credential headers. Callers that do not want their
// keys persisted send them here instead of POSTing to /api/keys.
const (
	HeaderAssemblyAIKey = "X-AssemblyAI-API-Key"
	HeaderGoogleKey     = "X-Google-API-Key"
	HeaderMurfKey       = "X-Murf-API-Key"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"detail": fmt.Sprintf(format, args...)})
}

// resolveKey prefers the request header, then the persisted keystore entry.
func resolveKey(r *http.Request, store *keystore.Store, header, name string) string {
	if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
		return v
	}
	if store == nil {
		return ""
	}
	keys, err := store.Load()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(keys[name])
}

func randHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
