package handlers

import (
	"net/http"
	"time"

	"github.com/calmguide/voicechat/pkg/gateway/keystore"
	"github.com/calmguide/voicechat/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// HealthReportHandler reports which provider credentials are configured and
// whether the relay can serve full conversations. Credentials are resolved
// the same way live sessions resolve them: request headers first, then the
// persisted keystore.
type HealthReportHandler struct {
	Keystore  *keystore.Store
	Lifecycle *lifecycle.Lifecycle
	Now       func() time.Time
}

func (h HealthReportHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type healthResp struct {
		Status         string   `json:"status"`
		MissingAPIKeys []string `json:"missing_api_keys"`
		Timestamp      float64  `json:"timestamp"`
	}

	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	checks := []struct {
		header string
		name   string
		label  string
	}{
		{HeaderAssemblyAIKey, keystore.KeyAssemblyAI, "ASSEMBLYAI_API_KEY"},
		{HeaderGoogleKey, keystore.KeyGoogle, "GOOGLE_API_KEY"},
		{HeaderMurfKey, keystore.KeyMurf, "MURF_API_KEY"},
	}
	missing := make([]string, 0, len(checks))
	for _, c := range checks {
		if resolveKey(r, h.Keystore, c.header, c.name) == "" {
			missing = append(missing, c.label)
		}
	}

	status := "Healthy"
	httpStatus := http.StatusOK
	switch {
	case h.Lifecycle.IsDraining():
		status = "Draining"
		httpStatus = http.StatusServiceUnavailable
	case len(missing) == len(checks):
		status = "Down"
	case len(missing) > 0:
		status = "Degraded"
	}

	writeJSON(w, httpStatus, healthResp{
		Status:         status,
		MissingAPIKeys: missing,
		Timestamp:      float64(now().UnixNano()) / float64(time.Second),
	})
}
