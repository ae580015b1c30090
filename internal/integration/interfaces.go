package integration

import (
	"context"
	"fmt"
	"time"

	"github.com/autostream/leadflow/internal/models"
)

// LeadCapturer registers a completed lead with the system of record
type LeadCapturer interface {
	Capture(ctx context.Context, lead models.Lead) error
}

// LeadNotifier is told about a lead after it has been captured.
// Notifier failures never fail the capture.
type LeadNotifier interface {
	Name() string
	Notify(ctx context.Context, lead models.Lead) error
}

// ServiceType defines the type of external service
type ServiceType string

const (
	ServiceTypeLog        ServiceType = "log"
	ServiceTypeSalesforce ServiceType = "salesforce"
	ServiceTypeSlack      ServiceType = "slack"
	ServiceTypeDgraph     ServiceType = "dgraph"
	ServiceTypeCapture    ServiceType = "lead_capture"
)

// LeadCaptureError reports a lead that could not be captured after every attempt
type LeadCaptureError struct {
	Lead     models.Lead
	Attempts int
	Err      error
}

func (e *LeadCaptureError) Error() string {
	return fmt.Sprintf("failed to capture lead for thread %s after %d attempt(s): %v", e.Lead.ThreadID, e.Attempts, e.Err)
}

func (e *LeadCaptureError) Unwrap() error {
	return e.Err
}

// Credentials holds service authentication credentials
type Credentials struct {
	ServiceType ServiceType
	AccessToken string
	TokenType   string
	Expiry      time.Time
	Metadata    map[string]string
}

// CredentialVault manages credential storage
type CredentialVault interface {
	// Store saves credentials
	Store(ctx context.Context, serviceName string, creds *Credentials) error

	// Retrieve gets stored credentials
	Retrieve(ctx context.Context, serviceName string) (*Credentials, error)
}

// RateLimiter manages API rate limiting
type RateLimiter interface {
	// Allow checks if a request is allowed
	Allow(ctx context.Context, service string) (bool, error)

	// Wait blocks until a request is allowed
	Wait(ctx context.Context, service string) error

	// GetStatus returns current rate limit status
	GetStatus(service string) *RateLimitStatus
}

// RateLimitStatus holds rate limit information
type RateLimitStatus struct {
	Limit     int       // Maximum requests allowed
	Remaining int       // Requests remaining
	Reset     time.Time // When the limit resets
}

// AuditLogger records external calls made on behalf of a lead
type AuditLogger interface {
	// Log records an API call
	Log(ctx context.Context, entry *AuditEntry) error

	// Query retrieves audit logs
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error)
}

// AuditEntry represents a single audit log entry
type AuditEntry struct {
	ID         int64
	Timestamp  time.Time
	Service    ServiceType
	Operation  string
	UserID     string
	RequestID  string
	Method     string
	Endpoint   string
	StatusCode int
	Duration   time.Duration
	Success    bool
	Error      string
	Metadata   map[string]interface{}
}

// AuditFilter defines criteria for querying audit logs
type AuditFilter struct {
	Service   *ServiceType
	StartTime *time.Time
	EndTime   *time.Time
	UserID    *string
	Success   *bool
	Limit     int
	Offset    int
}
