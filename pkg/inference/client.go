// Package inference wraps the external zero-retention analysis
// services. Calls carry only an ephemeral session ID and the payload,
// never a patient name or long-lived identity, and every call runs
// under a bounded timeout.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/healthguard-ai/platform/pkg/common/config"
	"github.com/healthguard-ai/platform/pkg/common/logger"
	"github.com/healthguard-ai/platform/pkg/common/models"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	MediaPhoto = "photo"
	MediaVoice = "voice"
)

type AnalysisResult struct {
	SessionID    string `json:"session_id"`
	MediaType    string `json:"media_type"`
	Transcript   string `json:"transcript,omitempty"`
	Observations string `json:"observations,omitempty"`
	Model        string `json:"model,omitempty"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	mock       bool
	calls      atomic.Int64
}

// NewClient builds the provider client. When a token URL is configured
// the client authenticates with OAuth2 client credentials; otherwise a
// static API key is used. With neither, calls return deterministic mock
// results for development.
func NewClient(cfg *config.Config) *Client {
	c := &Client{
		baseURL: strings.TrimRight(cfg.InferenceBaseURL, "/"),
		apiKey:  cfg.InferenceAPIKey,
		model:   cfg.InferenceModelName,
		httpClient: &http.Client{
			Timeout: cfg.InferenceTimeout,
		},
	}

	if cfg.InferenceTokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.InferenceClientID,
			ClientSecret: cfg.InferenceClientSecret,
			TokenURL:     cfg.InferenceTokenURL,
		}
		c.httpClient = cc.Client(context.Background())
		c.httpClient.Timeout = cfg.InferenceTimeout
	} else if cfg.InferenceAPIKey == "" {
		c.mock = true
		logger.Log.Warn("inference provider has no credentials, using mock responses")
	}

	return c
}

// Calls reports the number of provider calls issued since startup.
func (c *Client) Calls() int64 {
	return c.calls.Load()
}

// Analyze sends raw media for transcription (voice) or vision analysis
// (photo). The caller owns the payload's lifetime; nothing is retained
// here after the call returns.
func (c *Client) Analyze(ctx context.Context, sessionID, mediaType string, payload []byte) (AnalysisResult, error) {
	c.calls.Add(1)

	if c.mock {
		return mockAnalysis(sessionID, mediaType), nil
	}

	body := map[string]interface{}{
		"session_id": sessionID,
		"media_type": mediaType,
		"payload":    base64.StdEncoding.EncodeToString(payload),
		"model":      c.model,
	}

	var result AnalysisResult
	if err := c.post(ctx, "/analyze", body, &result); err != nil {
		return AnalysisResult{}, fmt.Errorf("analyze call: %w", err)
	}
	result.SessionID = sessionID
	result.MediaType = mediaType
	return result, nil
}

// Summarize asks the structured-reasoning service for a clinical
// summary and anomaly score. Both inputs must already be scrubbed of
// identity; only text ever leaves here.
func (c *Client) Summarize(ctx context.Context, sessionID, textSignals, anonymizedHistory string) (models.Summary, error) {
	c.calls.Add(1)

	if c.mock {
		return models.Summary{Assessment: "no anomaly detected", Urgency: "routine", AnomalyScore: 0.1, Model: "mock"}, nil
	}

	prompt := fmt.Sprintf(`You are a clinical monitoring assistant. Review the signals below against the history and return a JSON object with fields "subjective", "assessment", "urgency" (routine|urgent|emergency), "pain_level" (number or null), and "anomaly_score" (0 to 1).

Signals:
%s

History:
%s`, textSignals, anonymizedHistory)

	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.2,
		"user":        sessionID,
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", payload, &completion); err != nil {
		return models.Summary{}, fmt.Errorf("summarize call: %w", err)
	}
	if len(completion.Choices) == 0 {
		return models.Summary{}, fmt.Errorf("summarize call: empty completion")
	}

	var summary models.Summary
	content := completion.Choices[0].Message.Content
	if err := json.Unmarshal([]byte(extractJSON(content)), &summary); err != nil {
		// A malformed completion still carries useful text.
		summary = models.Summary{Assessment: content}
	}
	if summary.AnomalyScore < 0 {
		summary.AnomalyScore = 0
	}
	if summary.AnomalyScore > 1 {
		summary.AnomalyScore = 1
	}
	summary.Model = c.model
	return summary, nil
}

// Speak synthesizes spoken audio for a critical alert.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	c.calls.Add(1)

	if c.mock {
		return nil, fmt.Errorf("speech synthesis unavailable in mock mode")
	}

	payload := map[string]interface{}{
		"model": "tts-kokoro",
		"input": text,
		"voice": "af_sky",
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech call: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payloadBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return err
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// extractJSON pulls the first JSON object out of a completion that may
// be wrapped in prose or a code fence.
func extractJSON(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return content
}

func mockAnalysis(sessionID, mediaType string) AnalysisResult {
	result := AnalysisResult{SessionID: sessionID, MediaType: mediaType, Model: "mock"}
	if mediaType == MediaVoice {
		result.Transcript = "patient reports feeling well"
	} else {
		result.Observations = "no visible abnormality"
	}
	return result
}
