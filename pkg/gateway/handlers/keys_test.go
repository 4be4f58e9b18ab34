package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/calmguide/voicechat/pkg/gateway/keystore"
)

func TestKeysHandler_PostJSONThenGetMasked(t *testing.T) {
	store := newTestKeystore(t)
	h := KeysHandler{Store: store}

	body := `{"assemblyai_api_key":"aai-secret-12345","google_api_key":"g-secret-67890"}`
	req := httptest.NewRequest(http.MethodPost, "/api/keys", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d: %s", rec.Code, rec.Body.String())
	}
	var saved map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if saved["message"] != "API keys saved successfully" {
		t.Fatalf("message = %q", saved["message"])
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/keys", nil))
	var masked map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &masked); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if masked[keystore.KeyAssemblyAI] != "****2345" {
		t.Errorf("assemblyai mask = %q", masked[keystore.KeyAssemblyAI])
	}
	if masked[keystore.KeyGoogle] != "****7890" {
		t.Errorf("google mask = %q", masked[keystore.KeyGoogle])
	}
	if masked[keystore.KeyMurf] != "" {
		t.Errorf("unset murf key = %q, want empty", masked[keystore.KeyMurf])
	}

	// Full values never leave the keystore through this handler.
	if strings.Contains(rec.Body.String(), "aai-secret-12345") {
		t.Error("GET /api/keys leaked a full key")
	}
}

func TestKeysHandler_PostFormPreservesExisting(t *testing.T) {
	store := newTestKeystore(t)
	if err := store.Set(keystore.KeyGoogle, "keep-this-key"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	h := KeysHandler{Store: store}

	form := url.Values{}
	form.Set("murf_api_key", "murf-secret-4321")
	req := httptest.NewRequest(http.MethodPost, "/api/keys", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST status = %d", rec.Code)
	}

	keys, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if keys[keystore.KeyGoogle] != "keep-this-key" {
		t.Errorf("google key = %q, want keep-this-key", keys[keystore.KeyGoogle])
	}
	if keys[keystore.KeyMurf] != "murf-secret-4321" {
		t.Errorf("murf key = %q", keys[keystore.KeyMurf])
	}
}

func TestKeysHandler_MethodNotAllowed(t *testing.T) {
	h := KeysHandler{Store: newTestKeystore(t)}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/keys", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"abc":         "****",
		"abcd":        "****",
		"abcdefgh":    "****efgh",
		"sk-12345678": "****5678",
	}
	for in, want := range cases {
		if got := maskKey(in); got != want {
			t.Errorf("maskKey(%q) = %q, want %q", in, got, want)
		}
	}
}
