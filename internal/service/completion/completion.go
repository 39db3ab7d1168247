// Package completion provides chat completion clients for answer
// generation and analytics labeling.
//
// Defines a Client interface with OpenAI and Ollama implementations.
// Retrieval finds the grounding chunks (cheap, fast); the completion
// model writes the answer (precise, slower).
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Message is one turn of completion input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates a chat completion from an ordered message list.
type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)

	// Model returns the model identifier recorded on generated messages.
	Model() string
}

// perCallTimeout is the maximum time for a single completion call.
// Separate from the caller's overall context so one slow generation
// doesn't hold a request slot indefinitely.
const perCallTimeout = 60 * time.Second

// OllamaClient generates completions using a local Ollama server.
// The model should be a text generation model (e.g., llama3.1), not an
// embedding model.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates a client that calls Ollama's chat API.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second, // HTTP timeout slightly beyond per-call context timeout.
		},
	}
}

// Model returns the configured Ollama model name.
func (c *OllamaClient) Model() string { return c.model }

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Complete sends the messages to Ollama and returns the generated text.
func (c *OllamaClient) Complete(ctx context.Context, messages []Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return "", fmt.Errorf("completion: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("completion: status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("completion: decode response: %w", err)
	}

	return result.Message.Content, nil
}

// OpenAIClient generates completions using the OpenAI chat API.
type OpenAIClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient creates a client that calls the OpenAI chat completions API.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIClient{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: perCallTimeout + 5*time.Second,
		},
	}
}

// Model returns the configured OpenAI model name.
func (c *OpenAIClient) Model() string { return c.model }

type openAIChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends the messages to OpenAI and returns the generated text.
func (c *OpenAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, perCallTimeout)
	defer cancel()

	body, err := json.Marshal(openAIChatRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("completion: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("completion: read response: %w", err)
	}

	var result openAIChatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("completion: decode response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("completion: openai error: %s: %s", result.Error.Type, result.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion: status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("completion: no choices in response")
	}

	return result.Choices[0].Message.Content, nil
}

// NoopClient returns a canned response. Used when no completion backend is
// configured so the rest of the pipeline stays exercisable in development.
type NoopClient struct{}

// Model returns the placeholder model name.
func (NoopClient) Model() string { return "noop" }

// Complete echoes a fixed notice instead of a generated answer.
func (NoopClient) Complete(_ context.Context, _ []Message) (string, error) {
	return "No completion model is configured. Set OPENAI_API_KEY or OLLAMA_URL.", nil
}
