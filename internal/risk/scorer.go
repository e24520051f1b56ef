package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbd888/securebank/internal/retry"
)

// Request is what a Scorer receives: the rendered prompt plus the structured
// context it was rendered from.
type Request struct {
	Prompt  string
	Context Context
}

// Scorer is the external risk scoring collaborator. It returns raw reply
// text; parsing belongs to ParseResponse.
type Scorer interface {
	Score(ctx context.Context, req Request) (string, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, req Request) (string, error)

func (f ScorerFunc) Score(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

var ErrScorerStatus = errors.New("scorer returned non-success status")

// LLMScorer calls an OpenAI-compatible chat completions endpoint.
type LLMScorer struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

// NewLLMScorer creates a scorer posting to url (the full
// .../chat/completions endpoint). Per-call deadlines come from ctx.
func NewLLMScorer(url, apiKey, model string) *LLMScorer {
	return &LLMScorer{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (s *LLMScorer) Score(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       s.model,
		Messages:    []chatMessage{{Role: "user", Content: req.Prompt}},
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("encode scorer request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("build scorer request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call scorer: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read scorer response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%w: %d", ErrScorerStatus, resp.StatusCode)
		// 4xx other than rate limiting will not improve on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", retry.Permanent(err)
		}
		return "", err
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("decode scorer response: %w", err)
	}
	if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
		return "", errors.New("scorer returned no content")
	}
	return cr.Choices[0].Message.Content, nil
}
