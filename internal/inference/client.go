package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

var (
	// ErrUnavailable indicates the Ollama server is unreachable.
	ErrUnavailable = errors.New("ollama server unavailable")

	// ErrTimeout indicates the request exceeded the task timeout.
	ErrTimeout = errors.New("inference request timed out")

	// ErrRetryExhausted indicates all retry attempts have been exhausted.
	ErrRetryExhausted = errors.New("inference retry attempts exhausted")

	// ErrPoolClosed indicates the pool no longer accepts requests.
	ErrPoolClosed = errors.New("inference pool closed")
)

// Task identifies the kind of model call being made
type Task string

const (
	TaskClassify Task = "classify"
	TaskExtract  Task = "extract"
	TaskRespond  Task = "respond"
)

// TaskConfig holds per-task model parameters
type TaskConfig struct {
	Temperature float64
	Timeout     time.Duration // overrides global if > 0
}

// Config holds the inference client configuration
type Config struct {
	OllamaURL   string  // Default: http://localhost:11434
	Model       string  // Default: llama3.2
	ContextSize int     // Default: 4096
	Temperature float64 // Default: 0.3
	Timeout     time.Duration
	MaxRetries  int
	Tasks       map[Task]TaskConfig
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		OllamaURL:   "http://localhost:11434",
		Model:       "llama3.2",
		ContextSize: 4096,
		Temperature: 0.3,
		Timeout:     30 * time.Second,
		MaxRetries:  1,
		Tasks: map[Task]TaskConfig{
			TaskClassify: {Temperature: 0, Timeout: 10 * time.Second},
			TaskExtract:  {Temperature: 0, Timeout: 15 * time.Second},
			TaskRespond:  {Temperature: 0.7, Timeout: 30 * time.Second},
		},
	}
}

// TaskTimeout returns the effective timeout for a task.
func (c *Config) TaskTimeout(task Task) time.Duration {
	if tc, ok := c.Tasks[task]; ok && tc.Timeout > 0 {
		return tc.Timeout
	}
	return c.Timeout
}

// TaskTemperature returns the effective temperature for a task.
func (c *Config) TaskTemperature(task Task) float64 {
	if tc, ok := c.Tasks[task]; ok {
		return tc.Temperature
	}
	return c.Temperature
}

// Generator turns one prompt into one completion
type Generator interface {
	GenerateSync(ctx context.Context, task Task, prompt string) (*InferenceResult, error)
}

// Client is the main inference client for Ollama
type Client struct {
	config     *Config
	httpClient *http.Client
	observer   Observer
}

// NewClient creates a new inference client. A nil observer discards call events.
func NewClient(config *Config, observer Observer) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if observer == nil {
		observer = NoopObserver{}
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
			},
		},
		observer: observer,
	}
}

// GenerateRequest represents a request to Ollama
type GenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

// GenerateResponse represents a response from Ollama
type GenerateResponse struct {
	Model              string    `json:"model"`
	CreatedAt          time.Time `json:"created_at"`
	Response           string    `json:"response"`
	Done               bool      `json:"done"`
	TotalDuration      int64     `json:"total_duration,omitempty"`
	LoadDuration       int64     `json:"load_duration,omitempty"`
	PromptEvalCount    int       `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64     `json:"prompt_eval_duration,omitempty"`
	EvalCount          int       `json:"eval_count,omitempty"`
	EvalDuration       int64     `json:"eval_duration,omitempty"`
}

// InferenceResult holds the final result of an inference call
type InferenceResult struct {
	Response     string
	TokensPerSec float64
	Latency      time.Duration
	Error        error
}

// GenerateSync performs a non-streaming generation bounded by the task timeout.
// Failed attempts are retried up to MaxRetries times unless the deadline has passed.
func (c *Client) GenerateSync(ctx context.Context, task Task, prompt string) (*InferenceResult, error) {
	startTime := time.Now()

	ctx, cancel := context.WithTimeout(ctx, c.config.TaskTimeout(task))
	defer cancel()

	req := GenerateRequest{
		Model:  c.config.Model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]interface{}{
			"num_ctx":     c.config.ContextSize,
			"temperature": c.config.TaskTemperature(task),
		},
	}

	var lastErr error
	attempts := 1 + c.config.MaxRetries

	for i := 0; i < attempts; i++ {
		genResp, err := c.doGenerate(ctx, req)
		if err == nil {
			latency := time.Since(startTime)
			c.observer.OnCallComplete(CallEvent{
				Task:    task,
				Model:   c.config.Model,
				Latency: latency,
				Success: true,
			})

			tokensPerSec := 0.0
			if genResp.EvalDuration > 0 && genResp.EvalCount > 0 {
				tokensPerSec = float64(genResp.EvalCount) / (float64(genResp.EvalDuration) / 1e9)
			}

			return &InferenceResult{
				Response:     genResp.Response,
				TokensPerSec: tokensPerSec,
				Latency:      latency,
			}, nil
		}
		lastErr = err

		// Don't retry once the deadline is gone
		if ctx.Err() != nil {
			break
		}
	}

	var err error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = ErrTimeout
	case ctx.Err() != nil:
		// caller went away
		err = ctx.Err()
	case isConnectionError(lastErr):
		err = ErrUnavailable
	default:
		err = fmt.Errorf("%w: %v", ErrRetryExhausted, lastErr)
	}

	c.observer.OnCallComplete(CallEvent{
		Task:      task,
		Model:     c.config.Model,
		Latency:   time.Since(startTime),
		Success:   false,
		ErrorCode: errorCode(err),
	})
	return nil, err
}

// doGenerate makes a single request to Ollama's /api/generate endpoint
func (c *Client) doGenerate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.OllamaURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var genResp GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &genResp, nil
}

// ListModels lists available models
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.OllamaURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(result.Models))
	for i, m := range result.Models {
		models[i] = m.Name
	}

	return models, nil
}

// Available checks whether the Ollama server is reachable
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := c.ListModels(ctx)
	return err == nil
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	return errors.As(err, &netErr)
}

func errorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRetryExhausted):
		return "retry_exhausted"
	default:
		return "error"
	}
}
