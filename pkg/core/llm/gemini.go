// Package llm generates streaming conversational responses with Google's
// Gemini models, keeping bounded per-session history.
package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultModel = "gemini-2.5-flash"

const systemPrompt = `You are a helpful AI assistant having a natural conversation through voice.
Keep your responses conversational, concise, and engaging. Respond as if you're speaking to the person directly.
Avoid overly formal language and keep responses under 300 words unless specifically asked for more detail.`

// Spoken fallbacks. These are streamed to the client as regular response
// chunks so the voice pipeline still produces audio when generation fails.
const (
	fallbackUnavailable = "I'm sorry, but the AI service is currently unavailable. Please try again later."
	fallbackEmpty       = "I'm sorry, I couldn't generate a response. Please try again."
)

// GeminiService streams responses from the Gemini API.
type GeminiService struct {
	client  *genai.Client
	model   string
	history *History
}

// NewGemini builds a service for the given API key. An empty key yields a
// service that is not available but still streams spoken fallbacks.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiService, error) {
	return NewGeminiWithHistory(ctx, apiKey, model, NewHistory())
}

// NewGeminiWithHistory is NewGemini with a caller-owned history store.
// Sessions that rebuild the service when credentials change pass the same
// store so the conversation survives the rebuild.
func NewGeminiWithHistory(ctx context.Context, apiKey, model string, history *History) (*GeminiService, error) {
	if model == "" {
		model = defaultModel
	}
	if history == nil {
		history = NewHistory()
	}
	s := &GeminiService{
		model:   model,
		history: history,
	}
	if apiKey == "" {
		return s, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	s.client = client
	return s, nil
}

// Available reports whether the service can reach the model.
func (s *GeminiService) Available() bool {
	return s != nil && s.client != nil
}

// History exposes the conversation store, mainly for clear-history handling.
func (s *GeminiService) History() *History {
	return s.history
}

// Stream generates a streaming response for one user turn. Chunks arrive on
// the returned channel, which closes when the response is complete. Failures
// are delivered as spoken fallback chunks rather than errors so the caller's
// pipeline always has text to voice.
func (s *GeminiService) Stream(ctx context.Context, sessionID, text string) <-chan string {
	out := make(chan string, 16)

	if !s.Available() {
		go func() {
			defer close(out)
			out <- fallbackUnavailable
		}()
		return out
	}

	s.history.Append(sessionID, RoleUser, text)
	prompt := s.buildPrompt(sessionID, text)

	go func() {
		defer close(out)

		config := &genai.GenerateContentConfig{
			Temperature:       genai.Ptr[float32](0.7),
			TopP:              genai.Ptr[float32](0.9),
			MaxOutputTokens:   2000,
			SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		}
		contents := []*genai.Content{
			genai.NewContentFromText(prompt, genai.RoleUser),
		}

		accumulated := ""
		for resp, err := range s.client.Models.GenerateContentStream(ctx, s.model, contents, config) {
			if err != nil {
				select {
				case out <- fmt.Sprintf("I encountered an error while processing your request: %v", err):
				case <-ctx.Done():
				}
				return
			}
			chunk := resp.Text()
			if chunk == "" {
				continue
			}
			accumulated += chunk
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if accumulated == "" {
			select {
			case out <- fallbackEmpty:
			case <-ctx.Done():
			}
			return
		}
		s.history.Append(sessionID, RoleAssistant, accumulated)
	}()

	return out
}

// buildPrompt combines recent conversation context with the new user turn.
// The system prompt travels separately as the system instruction.
func (s *GeminiService) buildPrompt(sessionID, text string) string {
	context := s.history.Context(sessionID)
	if context == "" {
		return fmt.Sprintf("User: %s\n\nAssistant:", text)
	}
	return fmt.Sprintf("Conversation history:\n%s\n\nUser: %s\n\nAssistant:", context, text)
}
