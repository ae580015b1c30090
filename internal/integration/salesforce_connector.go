package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/autostream/leadflow/internal/models"
)

// SalesforceConnector creates Lead records through the Salesforce REST API
type SalesforceConnector struct {
	config      *SalesforceConfig
	credentials *Credentials
	vault       CredentialVault
	rateLimiter RateLimiter
	auditor     AuditLogger
	httpClient  *http.Client
	connected   bool
	mu          sync.RWMutex
}

// SalesforceConfig holds Salesforce-specific configuration
type SalesforceConfig struct {
	InstanceURL string // e.g., https://yourinstance.my.salesforce.com
	APIVersion  string // e.g., "v59.0"
	LeadSource  string
	// DefaultCompany fills the required Company field; empty means "<name> (<platform>)"
	DefaultCompany string
}

// NewSalesforceConnector creates a new Salesforce connector. auditor may be nil.
func NewSalesforceConnector(
	config *SalesforceConfig,
	vault CredentialVault,
	rateLimiter RateLimiter,
	auditor AuditLogger,
) *SalesforceConnector {
	if config.APIVersion == "" {
		config.APIVersion = "v59.0"
	}

	return &SalesforceConnector{
		config:      config,
		vault:       vault,
		rateLimiter: rateLimiter,
		auditor:     auditor,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (s *SalesforceConnector) Name() string { return string(ServiceTypeSalesforce) }

// Connect loads the access token from the vault
func (s *SalesforceConnector) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.vault.Retrieve(ctx, s.Name())
	if err != nil {
		return fmt.Errorf("failed to retrieve credentials: %w", err)
	}

	s.credentials = creds
	s.connected = true
	return nil
}

func (s *SalesforceConnector) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *SalesforceConnector) GetRateLimits() *RateLimitStatus {
	return s.rateLimiter.GetStatus(s.Name())
}

// Capture creates a Lead unless one with the same email already exists
func (s *SalesforceConnector) Capture(ctx context.Context, lead models.Lead) error {
	if !s.IsConnected() {
		if err := s.Connect(ctx); err != nil {
			return err
		}
	}

	existing, err := s.FindLeadByEmail(ctx, lead.Email)
	if err != nil {
		return fmt.Errorf("failed to look up lead: %w", err)
	}
	if existing != "" {
		return nil
	}

	_, err = s.CreateObject(ctx, "Lead", map[string]interface{}{
		"LastName":    lead.Name,
		"Company":     s.company(lead),
		"Email":       lead.Email,
		"LeadSource":  s.config.LeadSource,
		"Description": "Creator platform: " + lead.Platform,
	})
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	return nil
}

func (s *SalesforceConnector) company(lead models.Lead) string {
	if s.config.DefaultCompany != "" {
		return s.config.DefaultCompany
	}
	return fmt.Sprintf("%s (%s)", lead.Name, lead.Platform)
}

// FindLeadByEmail returns the Id of an existing Lead, or "" when none matches
func (s *SalesforceConnector) FindLeadByEmail(ctx context.Context, email string) (string, error) {
	soql := fmt.Sprintf("SELECT Id FROM Lead WHERE Email = '%s' LIMIT 1", escapeSOQL(email))

	result, err := s.Query(ctx, soql)
	if err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		return "", nil
	}
	id, _ := result.Records[0]["Id"].(string)
	return id, nil
}

// Query executes a SOQL query
func (s *SalesforceConnector) Query(ctx context.Context, soql string) (*QueryResult, error) {
	endpoint := fmt.Sprintf("/services/data/%s/query?q=%s", s.config.APIVersion, url.QueryEscape(soql))

	var result QueryResult
	if err := s.apiCall(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// CreateObject creates a new Salesforce object
func (s *SalesforceConnector) CreateObject(ctx context.Context, objectType string, data map[string]interface{}) (string, error) {
	endpoint := fmt.Sprintf("/services/data/%s/sobjects/%s", s.config.APIVersion, objectType)

	var result struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}

	if err := s.apiCall(ctx, http.MethodPost, endpoint, data, &result); err != nil {
		return "", err
	}

	if !result.Success {
		if len(result.Errors) > 0 {
			return "", fmt.Errorf("salesforce error: %s", result.Errors[0].Message)
		}
		return "", fmt.Errorf("unknown salesforce error")
	}

	return result.ID, nil
}

func (s *SalesforceConnector) apiCall(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	startTime := time.Now()

	if err := s.rateLimiter.Wait(ctx, s.Name()); err != nil {
		return fmt.Errorf("rate limit exceeded: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.InstanceURL+endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	s.mu.RLock()
	token := s.credentials.AccessToken
	s.mu.RUnlock()

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

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

func (s *SalesforceConnector) logAudit(ctx context.Context, method, endpoint string, status int, duration time.Duration, success bool, errorMsg string) {
	if s.auditor == nil {
		return
	}

	entry := &AuditEntry{
		Timestamp:  time.Now(),
		Service:    ServiceTypeSalesforce,
		Operation:  method + " " + endpoint,
		Method:     method,
		Endpoint:   endpoint,
		StatusCode: status,
		Duration:   duration,
		Success:    success,
		Error:      errorMsg,
		Metadata: map[string]interface{}{
			"rate_limit_remaining": s.GetRateLimits().Remaining,
		},
	}

	_ = s.auditor.Log(ctx, entry)
}

func escapeSOQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

// QueryResult is a SOQL query response page
type QueryResult struct {
	TotalSize      int                      `json:"totalSize"`
	Done           bool                     `json:"done"`
	Records        []map[string]interface{} `json:"records"`
	NextRecordsURL string                   `json:"nextRecordsUrl,omitempty"`
}
