package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/calmguide/voicechat/pkg/gateway/keystore"
	"github.com/calmguide/voicechat/pkg/gateway/live/session"
)

// The HTML host serves results directly without the redirect the main site
// issues, and needs no API key.
const duckduckgoHTMLURL = "https://html.duckduckgo.com/html/"

const searchUserAgent = "CalmGuide/1.0"

const maxSearchResults = 10

type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchHandler serves GET /api/search/duckduckgo: scrape the DuckDuckGo
// HTML results page and return up to ten title/url pairs.
type SearchHandler struct {
	HTTPClient *http.Client
	Logger     *slog.Logger

	// BaseURL overrides the DuckDuckGo endpoint in tests.
	BaseURL string
}

func (h SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeDetail(w, http.StatusBadRequest, "q is required")
		return
	}

	doc, err := fetchSearchPage(r.Context(), h.client(), h.baseURL(), query)
	if err != nil {
		writeDetail(w, http.StatusBadGateway, "Search provider error: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, parseSearchResults(doc, maxSearchResults))
}

func (h SearchHandler) client() *http.Client {
	if h.HTTPClient != nil {
		return h.HTTPClient
	}
	return http.DefaultClient
}

func (h SearchHandler) baseURL() string {
	if h.BaseURL != "" {
		return h.BaseURL
	}
	return duckduckgoHTMLURL
}

// SearchSummaryHandler serves GET /api/search/duckduckgo_summary: search,
// summarize the top results with the language model, and attach synthesized
// audio when a Murf key is configured. Audio is best effort.
type SearchSummaryHandler struct {
	HTTPClient *http.Client
	Keystore   *keystore.Store
	Logger     *slog.Logger
	BaseURL    string

	NewCompleter func(ctx context.Context, apiKey string) (session.Completer, error)
	Synthesize   func(ctx context.Context, apiKey, text string) (string, error)
}

func (h SearchSummaryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeDetail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeDetail(w, http.StatusBadRequest, "q is required")
		return
	}
	n := 3
	if raw := strings.TrimSpace(r.URL.Query().Get("n")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxSearchResults {
			writeDetail(w, http.StatusBadRequest, "n must be between 1 and %d", maxSearchResults)
			return
		}
		n = parsed
	}

	baseURL := h.BaseURL
	if baseURL == "" {
		baseURL = duckduckgoHTMLURL
	}
	client := h.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	doc, err := fetchSearchPage(r.Context(), client, baseURL, query)
	if err != nil {
		writeDetail(w, http.StatusBadGateway, "Search provider error: %v", err)
		return
	}
	results := parseSearchResults(doc, n)
	if len(results) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"summary": "No search results found."})
		return
	}

	googleKey := resolveKey(r, h.Keystore, HeaderGoogleKey, keystore.KeyGoogle)
	completer, err := h.NewCompleter(r.Context(), googleKey)
	if err != nil || !completer.Available() {
		writeJSON(w, http.StatusOK, map[string]string{"summary": "LLM service is not available to summarize results."})
		return
	}

	prompt := buildSummaryPrompt(query, results)
	var summary strings.Builder
	for chunk := range completer.Stream(r.Context(), "search_summary", prompt) {
		summary.WriteString(chunk)
	}

	audio := ""
	if murfKey := resolveKey(r, h.Keystore, HeaderMurfKey, keystore.KeyMurf); murfKey != "" && h.Synthesize != nil {
		audio, err = h.Synthesize(r.Context(), murfKey, summary.String())
		if err != nil {
			if h.Logger != nil {
				h.Logger.Warn("summary audio synthesis failed", "error", err)
			}
			audio = ""
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"summary": summary.String(),
		"audio":   audio,
	})
}

func buildSummaryPrompt(query string, results []SearchResult) string {
	lines := []string{fmt.Sprintf(
		"Summarize the top %d web search results for the query: '%s'. Be concise. For each result, provide a one-sentence summary and the URL. Use bullet points.",
		len(results), query)}
	for i, r := range results {
		lines = append(lines, fmt.Sprintf("Result %d: %s - %s", i+1, r.Title, r.URL))
	}
	return strings.Join(lines, "\n")
}

func fetchSearchPage(ctx context.Context, client *http.Client, baseURL, query string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", searchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return html.Parse(resp.Body)
}

// parseSearchResults pulls result anchors out of the page. Prefers the
// result__a class DuckDuckGo uses today and falls back to any anchor so a
// markup change degrades instead of breaking.
func parseSearchResults(doc *html.Node, max int) []SearchResult {
	primary := collectAnchors(doc, true, max)
	if len(primary) > 0 {
		return primary
	}
	return collectAnchors(doc, false, max)
}

func collectAnchors(doc *html.Node, requireResultClass bool, max int) []SearchResult {
	results := make([]SearchResult, 0, max)
	seen := make(map[string]bool)

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= max {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			href := attrValue(n, "href")
			title := strings.TrimSpace(nodeText(n))
			classOK := !requireResultClass || hasClass(n, "result__a")
			if classOK && href != "" && title != "" && !seen[href] {
				results = append(results, SearchResult{Title: title, URL: href})
				seen[href] = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attrValue(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}
