package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/autostream/leadflow/internal/models"
)

// SlackConnector posts new-lead announcements to a Slack channel
type SlackConnector struct {
	config      *SlackConfig
	credentials *Credentials
	vault       CredentialVault
	rateLimiter RateLimiter
	auditor     AuditLogger
	httpClient  *http.Client
	connected   bool
	mu          sync.RWMutex
}

// SlackConfig holds Slack-specific configuration
type SlackConfig struct {
	BaseURL        string // Default: https://slack.com/api
	BotToken       string
	DefaultChannel string
}

// NewSlackConnector creates a new Slack connector. auditor may be nil.
func NewSlackConnector(
	config *SlackConfig,
	vault CredentialVault,
	rateLimiter RateLimiter,
	auditor AuditLogger,
) *SlackConnector {
	if config.BaseURL == "" {
		config.BaseURL = "https://slack.com/api"
	}

	return &SlackConnector{
		config:      config,
		vault:       vault,
		rateLimiter: rateLimiter,
		auditor:     auditor,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *SlackConnector) Name() string { return string(ServiceTypeSlack) }

// Connect loads credentials from the vault, falling back to the configured bot token
func (s *SlackConnector) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.vault.Retrieve(ctx, s.Name())
	if err != nil {
		if s.config.BotToken == "" {
			return fmt.Errorf("failed to retrieve credentials: %w", err)
		}
		creds = &Credentials{
			ServiceType: ServiceTypeSlack,
			AccessToken: s.config.BotToken,
			TokenType:   "bot",
		}
	}

	s.credentials = creds
	s.connected = true
	return nil
}

func (s *SlackConnector) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Notify announces a captured lead in the default channel
func (s *SlackConnector) Notify(ctx context.Context, lead models.Lead) error {
	if !s.IsConnected() {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	text := fmt.Sprintf("New lead: %s <%s> creates on %s (thread %s)", lead.Name, lead.Email, lead.Platform, lead.ThreadID)
	_, err := s.PostMessage(ctx, s.config.DefaultChannel, text)
	return err
}

// PostMessage posts a message to a channel
func (s *SlackConnector) PostMessage(ctx context.Context, channel, text string) (*Message, error) {
	payload := map[string]interface{}{
		"channel": channel,
		"text":    text,
	}

	var result struct {
		OK      bool    `json:"ok"`
		Message Message `json:"message"`
		Error   string  `json:"error,omitempty"`
	}

	if err := s.apiCall(ctx, http.MethodPost, "/chat.postMessage", payload, &result); err != nil {
		return nil, err
	}

	if !result.OK {
		return nil, fmt.Errorf("slack API error: %s", result.Error)
	}

	return &result.Message, nil
}

// apiCall makes an authenticated API call to Slack
func (s *SlackConnector) apiCall(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	startTime := time.Now()

	if err := s.rateLimiter.Wait(ctx, s.Name()); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.BaseURL+endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	s.mu.RLock()
	token := s.credentials.AccessToken
	s.mu.RUnlock()

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logAudit(ctx, method, endpoint, 0, time.Since(startTime), false, err.Error())
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logAudit(ctx, method, endpoint, resp.StatusCode, time.Since(startTime), false, "HTTP error")
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			s.logAudit(ctx, method, endpoint, resp.StatusCode, time.Since(startTime), false, err.Error())
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	s.logAudit(ctx, method, endpoint, resp.StatusCode, time.Since(startTime), true, "")
	return nil
}

func (s *SlackConnector) logAudit(ctx context.Context, method, endpoint string, status int, duration time.Duration, success bool, errorMsg string) {
	if s.auditor == nil {
		return
	}

	entry := &AuditEntry{
		Timestamp:  time.Now(),
		Service:    ServiceTypeSlack,
		Operation:  method + " " + endpoint,
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: status,
		Duration:   duration,
		Success:    success,
		Error:      errorMsg,
	}

	_ = s.auditor.Log(ctx, entry)
}

// Message is a posted Slack message
type Message struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"ts"`
	Channel   string `json:"channel,omitempty"`
}
