package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// ChatResult is the AI service's answer to one query.
type ChatResult struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// AIClient is the outbound contract with the AI/indexing service.
type AIClient interface {
	Chat(ctx context.Context, repoID, query string) (*ChatResult, error)
	Ingest(repoURL, branch string) ([]byte, error)
}

// AIServiceClient talks to the external AI service over plain HTTP JSON.
type AIServiceClient struct {
	baseURL      string
	chatClient   *http.Client
	ingestClient *http.Client
}

func NewAIServiceClient(baseURL string) *AIServiceClient {
	return &AIServiceClient{
		baseURL:    baseURL,
		chatClient: &http.Client{Timeout: 120 * time.Second},
		// Ingestion clones and embeds whole repositories; large ones take
		// minutes, so this client carries no timeout at all.
		ingestClient: &http.Client{},
	}
}

type chatRequest struct {
	RepoID string `json:"repo_id"`
	Query  string `json:"query"`
}

// Chat sends the user's query for one conversation and returns the answer
// plus any cited source files. The caller's context governs cancellation.
func (c *AIServiceClient) Chat(ctx context.Context, repoID, query string) (*ChatResult, error) {
	payload, err := json.Marshal(chatRequest{RepoID: repoID, Query: query})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.chatClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request to ai service failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: body}
	}

	var result ChatResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if result.Sources == nil {
		result.Sources = []string{}
	}

	log.Debug().
		Str("repo_id", repoID).
		Dur("elapsed", time.Since(start)).
		Int("sources", len(result.Sources)).
		Msg("AI chat call completed")
	return &result, nil
}

type ingestRequest struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch"`
}

// Ingest asks the AI service to clone and index a repository. On success the
// response body is returned unchanged for the caller to relay. A structured
// upstream error comes back as *UpstreamError so its status and body survive
// verbatim. This call can take minutes; no SLA is assumed and the caller's
// cancellation is deliberately not honored, since aborting midway would leave
// the external index half-built.
func (c *AIServiceClient) Ingest(repoURL, branch string) ([]byte, error) {
	payload, err := json.Marshal(ingestRequest{RepoURL: repoURL, Branch: branch})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ingest request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/ingest", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build ingest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Info().Str("repo_url", repoURL).Str("branch", branch).Msg("Forwarding ingestion to AI service")
	start := time.Now()
	resp, err := c.ingestClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingest request to ai service failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read ingest response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Status: resp.StatusCode, Body: body}
	}

	log.Info().Str("repo_url", repoURL).Dur("elapsed", time.Since(start)).Msg("Ingestion completed")
	return body, nil
}
