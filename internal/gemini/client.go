// Package gemini is a minimal HTTP client for the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Part is one piece of content in a Gemini request or response.
type Part struct {
	Text string `json:"text"`
}

// Content is a content block in the Gemini API format.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Client communicates with the Gemini REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client targeting the given API base URL.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// generationConfig is the subset of Gemini generation options we use.
type generationConfig struct {
	ResponseMIMEType string `json:"response_mime_type,omitempty"`
}

// generateRequest is the JSON body for POST /models/{model}:generateContent.
type generateRequest struct {
	Contents         []Content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

// generateResponse mirrors the JSON returned by generateContent.
type generateResponse struct {
	Candidates []struct {
		Content Content `json:"content"`
	} `json:"candidates"`
}

// Generate sends the prompt to the given model and returns the first
// candidate's text.
func (c *Client) Generate(ctx context.Context, model, prompt string) (string, error) {
	return c.generate(ctx, model, prompt, nil)
}

// GenerateJSON requests structured output: the model is asked to respond
// with application/json and the raw JSON text is returned.
func (c *Client) GenerateJSON(ctx context.Context, model, prompt string) (string, error) {
	return c.generate(ctx, model, prompt, &generationConfig{ResponseMIMEType: "application/json"})
}

func (c *Client) generate(ctx context.Context, model, prompt string, cfg *generationConfig) (string, error) {
	gr := generateRequest{
		Contents:         []Content{{Parts: []Part{{Text: prompt}}}},
		GenerationConfig: cfg,
	}

	body, err := json.Marshal(gr)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate: unexpected status %d", resp.StatusCode)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding generate response: %w", err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("generate: empty candidates")
	}
	return result.Candidates[0].Content.Parts[0].Text, nil
}
