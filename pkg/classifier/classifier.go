// Package classifier scores transcript text for moderation risk using an
// OpenAI compatible chat completions API.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"live-monitor/constant"
	"net/http"
	"strings"
)

var ErrClassifier = errors.New("risk classification failed")

type Verdict struct {
	Category  constant.Category
	Virality  constant.Virality
	Hateful   bool
	Target    string
	Rationale string
	RiskScore float64
}

type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

const prompt = `You moderate live stream transcripts. Analyse the excerpt below and answer with a single JSON object and nothing else:
{"category": one of "Neutre", "Polémique", "Potentiellement viral", "Discours haineux",
 "virality": one of "low", "medium", "high",
 "hateful": true or false,
 "target": the person or group targeted, or "",
 "rationale": one or two sentences,
 "risk_score": a number between 0 and 1}

Excerpt:
%s`

type GroqClassifier struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewGroqClassifier(baseURL, apiKey, model string, client *http.Client) *GroqClassifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &GroqClassifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: client,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model               string          `json:"model"`
	Messages            []chatMessage   `json:"messages"`
	Temperature         float64         `json:"temperature"`
	MaxCompletionTokens int             `json:"max_completion_tokens"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Classify returns an error wrapping ErrClassifier when the call fails, ctx
// expires or the reply cannot be read as a verdict.
func (c *GroqClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	body, err := json.Marshal(chatRequest{
		Model:               c.model,
		Messages:            []chatMessage{{Role: "user", Content: fmt.Sprintf(prompt, text)}},
		Temperature:         0.5,
		MaxCompletionTokens: 1024,
		ResponseFormat:      &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return Verdict{}, errors.Join(ErrClassifier, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, errors.Join(ErrClassifier, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Verdict{}, errors.Join(ErrClassifier, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Verdict{}, fmt.Errorf("%w: status %d: %s", ErrClassifier, resp.StatusCode, string(msg))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, errors.Join(ErrClassifier, err)
	}
	if len(out.Choices) == 0 {
		return Verdict{}, fmt.Errorf("%w: empty completion", ErrClassifier)
	}
	return ParseVerdict(out.Choices[0].Message.Content)
}
